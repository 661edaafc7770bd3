package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values for the feed configuration.
const (
	DefaultGRPCPort   = 50061
	DefaultSendBuffer = 256
	DefaultLogLevel   = "info"
	DefaultHeader     = "x-api-key"
)

// Config holds the feed configuration parsed from the `feed:` section of
// config.yaml.
type Config struct {
	Feed FeedConfig `yaml:"feed"`
}

// FeedConfig holds all feed-side settings.
type FeedConfig struct {
	// GRPCPort is the port the Feed service listens on (default 50061).
	GRPCPort int `yaml:"grpc_port"`

	// Collection names the served collection and the YAML file backing it.
	Collection CollectionConfig `yaml:"collection"`

	// Auth configures how subscribers authenticate.
	Auth AuthConfig `yaml:"auth"`

	// SendBuffer is the number of events queued per subscriber before the
	// subscriber is considered too slow and disconnected.
	SendBuffer int `yaml:"send_buffer"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`
}

// CollectionConfig describes the single collection served by the feed.
type CollectionConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// AuthConfig controls subscriber authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable holding the expected key.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key carrying the key. Defaults to x-api-key.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return strings.ToLower(a.Header)
	}
	return DefaultHeader
}

// Level returns the slog level named by LogLevel.
func (c FeedConfig) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Load reads and parses the config file at path, returning the feed
// configuration. Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("feed config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("feed config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("feed config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Feed: FeedConfig{
			GRPCPort:   DefaultGRPCPort,
			SendBuffer: DefaultSendBuffer,
			LogLevel:   DefaultLogLevel,
		},
	}
}

func validate(cfg *Config) error {
	f := cfg.Feed
	if f.GRPCPort <= 0 || f.GRPCPort > 65535 {
		return fmt.Errorf("feed.grpc_port %d is out of range [1, 65535]", f.GRPCPort)
	}
	if f.Collection.Name == "" {
		return fmt.Errorf("feed.collection.name is required")
	}
	if f.Collection.Path == "" {
		return fmt.Errorf("feed.collection.path is required")
	}
	if f.SendBuffer <= 0 {
		return fmt.Errorf("feed.send_buffer must be positive")
	}
	switch f.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("feed.auth.mode %q unknown: want apikey|none", f.Auth.Mode)
	}
	switch strings.ToLower(f.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("feed.log_level %q unknown: want debug|info|warn|error", f.LogLevel)
	}
	return nil
}
