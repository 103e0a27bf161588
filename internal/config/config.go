// Package config loads the channelizer's YAML configuration file.
//
// Follows a Config/RadiodConfig/ServerConfig-style LoadConfig pattern
// (os.ReadFile + yaml.Unmarshal into a nested struct tree with
// `yaml:"..."` tags).
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level channelizer configuration.
type Config struct {
	Beam        BeamConfig        `yaml:"beam"`
	Filter      FilterConfig      `yaml:"filter"`
	Network     NetworkConfig     `yaml:"network"`
	Workers     WorkersConfig     `yaml:"workers"`
	Prometheus  PrometheusConfig  `yaml:"prometheus"`
	Control     ControlConfig     `yaml:"control"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// BeamConfig mirrors beam.Config's tunables.
type BeamConfig struct {
	TotalChannels  int     `yaml:"total_channels"`
	UsableChannels int     `yaml:"usable_channels"`
	Foldings       int     `yaml:"foldings"`
	Oversampling   float64 `yaml:"oversampling"`
	ChannelSamples int     `yaml:"channel_samples"`
	Decimation     int     `yaml:"decimation"`
	SwapInputs     bool    `yaml:"swap_inputs"`
	Src            uint16  `yaml:"src"`
	PolCode        uint8   `yaml:"pol_code"`
	CenterFreq     float64 `yaml:"center_freq_hz"`
	Bandwidth      float64 `yaml:"bandwidth_hz"`
	RingCapacity   int     `yaml:"ring_capacity_samples"`
	// StartAt is a Unix timestamp in seconds, or 0 to stay IDLE until an
	// explicit Start is issued over the control surface.
	StartAt float64 `yaml:"start_at_unix,omitempty"`
}

// FilterConfig optionally points at a custom WOLA prototype filter
// coefficient file. If CoeffPath is empty, the channelizer generates a
// default Hann-window prototype filter sized to the beam configuration.
type FilterConfig struct {
	CoeffPath string `yaml:"coeff_path"`
}

// NetworkConfig carries the multicast group/interface settings for both the
// beam input stream and the per-channel output streams.
type NetworkConfig struct {
	Interface      string `yaml:"interface"`
	BeamGroup      string `yaml:"beam_group"` // host:port
	ChannelBase    string `yaml:"channel_base_group"` // host:port for channel 0
}

// WorkersConfig sizes the worker pool.
type WorkersConfig struct {
	Count int `yaml:"count"`
}

// PrometheusConfig controls the metrics HTTP listener.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// ControlConfig controls the newline-JSON control listener.
type ControlConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig carries the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads and parses the YAML configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Beam.TotalChannels <= 0 {
		return fmt.Errorf("beam.total_channels must be positive")
	}
	if c.Beam.UsableChannels <= 0 || c.Beam.UsableChannels > c.Beam.TotalChannels {
		return fmt.Errorf("beam.usable_channels must be in (0, total_channels]")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be positive")
	}
	if _, _, err := net.SplitHostPort(c.Network.BeamGroup); err != nil {
		return fmt.Errorf("network.beam_group: %w", err)
	}
	if _, _, err := net.SplitHostPort(c.Network.ChannelBase); err != nil {
		return fmt.Errorf("network.channel_base_group: %w", err)
	}
	return nil
}
