package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/dicomgw/pkg/api"
	"github.com/marmos91/dicomgw/pkg/blob/fs"
	"github.com/marmos91/dicomgw/pkg/blob/s3"
	"github.com/marmos91/dicomgw/pkg/ledger"
	"github.com/marmos91/dicomgw/pkg/queue/sqs"
	"github.com/marmos91/dicomgw/pkg/state"
)

// Config represents the dicomgw configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Legacy environment variables of the edge runtime (AWS_IOT_THING_NAME, BUCKETNAME, ...)
//  3. Environment variables (DICOMGW_*)
//  4. Configuration file (YAML or TOML)
//  5. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout bounds how long each pool may drain in-flight work on stop
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the status/health HTTP server configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	Edge         EdgeConfig         `mapstructure:"edge" yaml:"edge"`
	Storage      StorageConfig      `mapstructure:"storage" yaml:"storage"`
	Workers      WorkersConfig      `mapstructure:"workers" yaml:"workers"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Housekeeping HousekeepingConfig `mapstructure:"housekeeping" yaml:"housekeeping"`

	// Blob selects where inbound images are uploaded and outbound images
	// are fetched from.
	Blob BlobConfig `mapstructure:"blob" yaml:"blob"`

	// Queue selects the durable queue used for notifications and forward
	// requests.
	Queue QueueConfig `mapstructure:"queue" yaml:"queue"`

	// Database configures the StateStore (SQLite in memory by default).
	Database state.Config `mapstructure:"database" yaml:"database"`

	// Ledger configures the completed-job ledger.
	Ledger LedgerConfig `mapstructure:"ledger" yaml:"ledger"`

	DIMSE DIMSEConfig `mapstructure:"dimse" yaml:"dimse"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS towards the collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// EdgeConfig identifies this gateway and its local work tree.
type EdgeConfig struct {
	// ID names the edge device. Queue names and upload keys derive from it.
	// Override: AWS_IOT_THING_NAME
	ID string `mapstructure:"id" validate:"required" yaml:"id"`

	// AETitle is the called AE title of the inbound listener.
	// Default: EDGEDEVICE
	AETitle string `mapstructure:"ae_title" validate:"required,max=16" yaml:"ae_title"`

	// Workdir holds the in/ and out/ trees. Both are cleared at start.
	Workdir string `mapstructure:"workdir" validate:"required" yaml:"workdir"`

	// MaxAssociations bounds concurrent inbound associations.
	// Default: 100
	MaxAssociations int `mapstructure:"max_associations" validate:"gte=1" yaml:"max_associations"`
}

// StorageConfig sets the disk-pressure thresholds.
type StorageConfig struct {
	// ThrottleMB is the free space below which stores are delayed.
	// Override: STORAGE_THROTTLE
	ThrottleMB uint64 `mapstructure:"throttle_mb" validate:"gt=0" yaml:"throttle_mb"`

	// OutOfResourceMB is the free space below which stores are refused.
	// Override: STORAGE_OOR
	OutOfResourceMB uint64 `mapstructure:"out_of_resource_mb" validate:"ltfield=ThrottleMB" yaml:"out_of_resource_mb"`

	SampleInterval time.Duration `mapstructure:"sample_interval" validate:"gt=0" yaml:"sample_interval"`
	ThrottleDelay  time.Duration `mapstructure:"throttle_delay" validate:"gte=0" yaml:"throttle_delay"`
}

// WorkersConfig sizes the upload, fetch and send pools.
type WorkersConfig struct {
	// Count is the size of each pool. Zero selects 4x the CPU count.
	// Override: THREADCOUNT
	Count int `mapstructure:"count" validate:"gte=0" yaml:"count"`
}

// OrchestratorConfig sets the polling loops' intervals and batch sizes.
type OrchestratorConfig struct {
	UploadBatchSize          int           `mapstructure:"upload_batch_size" validate:"gte=1" yaml:"upload_batch_size"`
	UploadAssignInterval     time.Duration `mapstructure:"upload_assign_interval" validate:"gt=0" yaml:"upload_assign_interval"`
	UploadCompletionInterval time.Duration `mapstructure:"upload_completion_interval" validate:"gt=0" yaml:"upload_completion_interval"`
	FetchCompletionInterval  time.Duration `mapstructure:"fetch_completion_interval" validate:"gt=0" yaml:"fetch_completion_interval"`
	SendStatusInterval       time.Duration `mapstructure:"send_status_interval" validate:"gt=0" yaml:"send_status_interval"`
	CompletionInterval       time.Duration `mapstructure:"completion_interval" validate:"gt=0" yaml:"completion_interval"`
	SendQueueSize            int           `mapstructure:"send_queue_size" validate:"gte=1" yaml:"send_queue_size"`

	// RequeueAfter re-offers uploads stuck in Queued.
	RequeueAfter time.Duration `mapstructure:"requeue_after" validate:"gt=0" yaml:"requeue_after"`

	// FetchRetryAfter re-offers rows whose fetch never completed.
	FetchRetryAfter time.Duration `mapstructure:"fetch_retry_after" validate:"gt=0" yaml:"fetch_retry_after"`

	IntakeInterval time.Duration `mapstructure:"intake_interval" validate:"gt=0" yaml:"intake_interval"`
	IntakeBatch    int           `mapstructure:"intake_batch" validate:"gte=1,lte=10" yaml:"intake_batch"`
	IntakeWait     time.Duration `mapstructure:"intake_wait" validate:"gte=0,lte=20s" yaml:"intake_wait"`
}

// HousekeepingConfig schedules ledger GC and work-tree sweeps.
type HousekeepingConfig struct {
	// Schedule is a cron expression, e.g. "@every 10m" or "*/5 * * * *".
	Schedule string `mapstructure:"schedule" validate:"required" yaml:"schedule"`

	// OrphanAge is the minimum age of an unreferenced work directory
	// before it is removed.
	OrphanAge time.Duration `mapstructure:"orphan_age" validate:"gt=0" yaml:"orphan_age"`

	// ForwardedRetention is how long forwarded rows are kept.
	ForwardedRetention time.Duration `mapstructure:"forwarded_retention" validate:"gt=0" yaml:"forwarded_retention"`
}

// BlobConfig selects the blob store backend.
type BlobConfig struct {
	// Type is s3, fs or memory.
	Type string `mapstructure:"type" validate:"required,oneof=s3 fs memory" yaml:"type"`

	S3 s3.Config `mapstructure:"s3" yaml:"s3"`
	FS fs.Config `mapstructure:"fs" yaml:"fs"`
}

// QueueConfig selects the durable queue backend.
type QueueConfig struct {
	// Type is sqs or memory.
	Type string `mapstructure:"type" validate:"required,oneof=sqs memory" yaml:"type"`

	SQS sqs.Config `mapstructure:"sqs" yaml:"sqs"`

	// Names overrides the derived <edge>_<direction>.fifo queue names.
	Names QueueNames `mapstructure:"names" yaml:"names"`
}

// QueueNames holds optional queue name overrides.
type QueueNames struct {
	Inbound  string `mapstructure:"inbound" yaml:"inbound,omitempty"`
	Outbound string `mapstructure:"outbound" yaml:"outbound,omitempty"`
	Receiver string `mapstructure:"receiver" yaml:"receiver,omitempty"`
}

// LedgerConfig configures the completed-job ledger.
type LedgerConfig struct {
	// Enabled turns duplicate forward-request detection on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	ledger.Config `mapstructure:",squash" yaml:",inline"`
}

// DIMSEConfig configures the protocol layer.
type DIMSEConfig struct {
	// Port is the inbound listener port.
	// Override: SCP_PORT
	Port int `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// Stack names the registered protocol stack implementation.
	Stack string `mapstructure:"stack" validate:"required" yaml:"stack"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg *Config
	if configFileFound {
		cfg = &Config{}
		if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
		ApplyDefaults(cfg)
	} else {
		cfg = GetDefaultConfig()
	}

	if err := applyLegacyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  dicomgw init\n\n"+
				"Or specify a custom config file:\n"+
				"  dicomgw <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  dicomgw init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may hold static AWS credentials or a database password.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DICOMGW_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DICOMGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/dicomgw/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dicomgw")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dicomgw")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
