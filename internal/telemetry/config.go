package telemetry

// Config holds OpenTelemetry tracing configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string
	Insecure bool

	// SampleRate is the fraction of traces kept, 0.0 to 1.0.
	SampleRate float64
}

// ProfilingConfig holds Pyroscope continuous profiling configuration.
type ProfilingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Endpoint is the Pyroscope server URL, e.g. "http://localhost:4040".
	Endpoint string

	// ProfileTypes lists the profiles to collect: cpu, alloc_objects,
	// alloc_space, inuse_objects, inuse_space, goroutines, mutex_count,
	// mutex_duration, block_count, block_duration.
	ProfileTypes []string
}

// DefaultConfig returns tracing disabled with sensible collector defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "dicomgw",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
