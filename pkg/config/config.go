package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values exported for documentation and validation
const (
	DefaultBind        = "127.0.0.1:8000"
	DefaultHistoryCap  = 50
	DefaultAskTimeout  = 0 // no timeout while awaiting user input, by design
	DefaultDialTimeout = 15 * time.Second
)

// Config represents the complete relay configuration
type Config struct {
	Relay   RelayConfig   `yaml:"relay"`
	Agent   AgentConfig   `yaml:"agent"`
	History HistoryConfig `yaml:"history"`
	Sync    SyncConfig    `yaml:"sync"`
	Logging LoggingConfig `yaml:"logging"`
}

// RelayConfig controls the HTTP surface of the relay server.
type RelayConfig struct {
	Bind string `yaml:"bind"`
}

// AgentConfig points the session controller at an agent backend.
type AgentConfig struct {
	// Endpoint is the generate endpoint, e.g. "ws://localhost:8000/generate"
	// or "http://localhost:8000/stream" for the SSE transport.
	Endpoint    string        `yaml:"endpoint"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// HistoryConfig controls the persisted session history.
type HistoryConfig struct {
	// Path is the backing store location. ".json" suffix selects the file
	// backend, anything else is opened as a SQLite database.
	Path string `yaml:"path"`
	Cap  int    `yaml:"cap"`
}

// SyncConfig controls cross-view change propagation.
type SyncConfig struct {
	// NATSURL enables the NATS broadcaster when set; empty means in-memory only.
	NATSURL string `yaml:"nats_url"`
}

// LoggingConfig controls the structured JSONL logs.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".nava-relay")
	return &Config{
		Relay: RelayConfig{Bind: DefaultBind},
		Agent: AgentConfig{
			Endpoint:    "ws://localhost:8000/generate",
			DialTimeout: DefaultDialTimeout,
		},
		History: HistoryConfig{
			Path: filepath.Join(base, "history.db"),
			Cap:  DefaultHistoryCap,
		},
		Logging: LoggingConfig{
			Dir:   filepath.Join(base, "logs"),
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file, applying defaults for anything
// left unset. A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Relay.Bind) == "" {
		c.Relay.Bind = DefaultBind
	}
	if c.Agent.DialTimeout <= 0 {
		c.Agent.DialTimeout = DefaultDialTimeout
	}
	if c.History.Cap <= 0 {
		c.History.Cap = DefaultHistoryCap
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.History.Cap < 1 {
		return fmt.Errorf("history cap must be positive, got %d", c.History.Cap)
	}
	return nil
}
