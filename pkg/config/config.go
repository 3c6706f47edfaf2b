// Package config loads the server configuration from a YAML file and
// fills in defaults so a bare file, or no file at all, yields a
// runnable server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/campuseq/campuseq-go/pkg/transport"
)

// Duration decodes YAML strings like "30s" or "1m" through
// time.ParseDuration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the server configuration.
type Config struct {
	// Listen is the TCP listen address.
	Listen string `yaml:"listen"`

	// Database is the SQLite database path.
	Database string `yaml:"database"`

	// HeartbeatTimeout closes connections silent for longer than this.
	HeartbeatTimeout Duration `yaml:"heartbeat_timeout"`

	// SweepInterval spaces the supervisor passes.
	SweepInterval Duration `yaml:"sweep_interval"`

	// Log controls operational and protocol logging.
	Log LogConfig `yaml:"log"`

	// Discovery controls the mDNS advertisement.
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// LogConfig controls logging output.
type LogConfig struct {
	// Level is the slog level: debug, info, warn or error.
	Level string `yaml:"level"`

	// ProtocolFile, when set, appends binary protocol events to this
	// file for offline inspection.
	ProtocolFile string `yaml:"protocol_file"`
}

// DiscoveryConfig controls the mDNS advertisement.
type DiscoveryConfig struct {
	// Enabled turns the advertisement on.
	Enabled bool `yaml:"enabled"`

	// Instance is the advertised instance name.
	Instance string `yaml:"instance"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:           fmt.Sprintf(":%d", transport.DefaultPort),
		Database:         "campuseq.db",
		HeartbeatTimeout: Duration(60 * time.Second),
		SweepInterval:    Duration(time.Second),
		Log: LogConfig{
			Level: "info",
		},
		Discovery: DiscoveryConfig{
			Instance: "campuseq",
		},
	}
}

// Load reads a YAML configuration file over the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat_timeout must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}
