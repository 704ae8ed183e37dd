package api

import "time"

// APIConfig configures the status API HTTP server. When Enabled is false
// no server is started.
type APIConfig struct {
	// Enabled is a pointer to tell "not set" (enabled) from false.
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port. Zero picks a free port.
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// IsEnabled defaults to true when Enabled is unset.
func (c *APIConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// ApplyDefaults fills zero timeouts.
func (c *APIConfig) ApplyDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}
