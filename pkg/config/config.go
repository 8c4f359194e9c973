package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quarrydb/quarry/pkg/types"
	"github.com/quarrydb/quarry/pkg/volume"
	"github.com/quarrydb/quarry/pkg/walreg"
)

// Config is the volume layer's slice of the process configuration.
type Config struct {
	// DataDir holds the metadata and registry databases plus coordinator
	// raft state.
	DataDir string `yaml:"data_dir"`

	// Volumes is the ordered list of active volume-root URI prefixes.
	Volumes []string `yaml:"volumes"`

	// VolumeReplacements maps retired prefixes to their successors and
	// triggers a metadata rewrite on next startup. Every new prefix must
	// appear in Volumes.
	VolumeReplacements []types.ReplacementRule `yaml:"volume_replacements"`

	Coordinator Coordinator `yaml:"coordinator"`
	Registry    Registry    `yaml:"registry"`
	Log         Log         `yaml:"log"`
}

// Coordinator configures the leader-elected process that runs rewrite and
// decommission passes.
type Coordinator struct {
	NodeID   string `yaml:"node_id"`
	BindAddr string `yaml:"bind_addr"`
}

// Registry tunes the bounded retry against the WAL location registry.
type Registry struct {
	MaxAttempts      int `yaml:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms"`
}

// Log configures process logging.
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a config with everything except volumes filled in.
func Default() *Config {
	return &Config{
		DataDir: "/var/lib/quarry",
		Coordinator: Coordinator{
			BindAddr: "127.0.0.1:7720",
		},
		Registry: Registry{
			MaxAttempts:      10,
			InitialBackoffMS: 50,
			MaxBackoffMS:     2000,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the process must not start with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	// Building the set runs the full topology validation: non-empty
	// volume list, unique prefixes, replacement targets active.
	if _, err := c.VolumeSet(); err != nil {
		return fmt.Errorf("invalid volume configuration: %w", err)
	}
	return nil
}

// VolumeSet builds the immutable volume set this configuration describes.
func (c *Config) VolumeSet() (*volume.Set, error) {
	return volume.NewSet(c.Volumes, c.VolumeReplacements)
}

// RetryPolicy builds the registry retry policy from the configured bounds.
func (c *Config) RetryPolicy() walreg.RetryPolicy {
	p := walreg.DefaultPolicy()
	if c.Registry.MaxAttempts > 0 {
		p.MaxAttempts = c.Registry.MaxAttempts
	}
	if c.Registry.InitialBackoffMS > 0 {
		p.InitialBackoff = time.Duration(c.Registry.InitialBackoffMS) * time.Millisecond
	}
	if c.Registry.MaxBackoffMS > 0 {
		p.MaxBackoff = time.Duration(c.Registry.MaxBackoffMS) * time.Millisecond
	}
	return p
}
