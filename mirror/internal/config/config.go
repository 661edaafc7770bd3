package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the mirror configuration.
const (
	DefaultHTTPPort           = 8080
	DefaultReconnectInitial   = 1 * time.Second
	DefaultReconnectMax       = 60 * time.Second
	DefaultCheckpointBackend  = "none"
	DefaultCheckpointInterval = 10 * time.Second
	DefaultLogLevel           = "info"
	DefaultHeader             = "x-api-key"
	DefaultAlertCooldown      = 15 * time.Minute
)

// Config holds the mirror configuration parsed from the `mirror:` section of
// config.yaml. The `feed:` key in the same file is ignored.
type Config struct {
	Mirror MirrorConfig `yaml:"mirror"`
}

// MirrorConfig holds all mirror-side settings.
type MirrorConfig struct {
	// Upstream is the feed the mirror subscribes to.
	Upstream UpstreamConfig `yaml:"upstream"`

	// HTTPPort serves the REST API, the WebSocket stream and /metrics.
	HTTPPort int `yaml:"http_port"`

	// Reconnect bounds the backoff between upstream subscriptions after the
	// feed cancels one.
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// Checkpoint configures the last-known-state backend.
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// Alerts configures notifications about upstream cancellations.
	Alerts AlertsConfig `yaml:"alerts"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`
}

// AlertsConfig holds webhook targets notified when the upstream cancels the
// subscription and when the mirror has resynced.
type AlertsConfig struct {
	// Cooldown suppresses repeated notifications for a flapping upstream.
	Cooldown time.Duration `yaml:"cooldown"`

	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// UpstreamConfig locates the feed.
type UpstreamConfig struct {
	// Endpoint is the gRPC address of the feed (host:port).
	Endpoint string `yaml:"endpoint"`

	// Collection is the collection name to subscribe to.
	Collection string `yaml:"collection"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig specifies how the mirror authenticates to the feed.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// API key fields, used when Mode == "apikey".
	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key resolved from the environment.
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

// ReconnectConfig bounds the resubscribe backoff.
type ReconnectConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// CheckpointConfig selects where the last known collection state is kept.
type CheckpointConfig struct {
	// Backend is one of: sqlite | file | none.
	Backend string `yaml:"backend"`

	// Path is the database or JSON file path.
	Path string `yaml:"path"`

	// Interval is how often a changed collection is saved.
	Interval time.Duration `yaml:"interval"`
}

// Level returns the slog level named by LogLevel.
func (c MirrorConfig) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Load reads and parses the config file at path, returning the mirror
// configuration. Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mirror config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("mirror config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("mirror config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Mirror: MirrorConfig{
			HTTPPort: DefaultHTTPPort,
			Reconnect: ReconnectConfig{
				Initial: DefaultReconnectInitial,
				Max:     DefaultReconnectMax,
			},
			Checkpoint: CheckpointConfig{
				Backend:  DefaultCheckpointBackend,
				Interval: DefaultCheckpointInterval,
			},
			Alerts: AlertsConfig{
				Cooldown: DefaultAlertCooldown,
			},
			LogLevel: DefaultLogLevel,
		},
	}
}

func validate(cfg *Config) error {
	m := cfg.Mirror
	if m.Upstream.Endpoint == "" {
		return fmt.Errorf("mirror.upstream.endpoint is required")
	}
	if m.Upstream.Collection == "" {
		return fmt.Errorf("mirror.upstream.collection is required")
	}
	switch m.Upstream.Auth.Mode {
	case "mtls":
		if m.Upstream.Auth.CertFile == "" || m.Upstream.Auth.KeyFile == "" {
			return fmt.Errorf("mirror.upstream.auth: mtls needs cert_file and key_file")
		}
	case "apikey", "none", "":
	default:
		return fmt.Errorf("mirror.upstream.auth.mode %q unknown: want mtls|apikey|none", m.Upstream.Auth.Mode)
	}
	if m.HTTPPort <= 0 || m.HTTPPort > 65535 {
		return fmt.Errorf("mirror.http_port %d is out of range [1, 65535]", m.HTTPPort)
	}
	if m.Reconnect.Initial <= 0 || m.Reconnect.Max < m.Reconnect.Initial {
		return fmt.Errorf("mirror.reconnect: want 0 < initial <= max, got %v/%v",
			m.Reconnect.Initial, m.Reconnect.Max)
	}
	switch m.Checkpoint.Backend {
	case "sqlite", "file":
		if m.Checkpoint.Path == "" {
			return fmt.Errorf("mirror.checkpoint.path is required for backend %q", m.Checkpoint.Backend)
		}
		if m.Checkpoint.Interval <= 0 {
			return fmt.Errorf("mirror.checkpoint.interval must be positive")
		}
	case "none", "":
	default:
		return fmt.Errorf("mirror.checkpoint.backend %q unknown: want sqlite|file|none", m.Checkpoint.Backend)
	}
	for i, wh := range m.Alerts.Webhooks {
		switch wh.Type {
		case "teams", "slack", "http":
		default:
			return fmt.Errorf("mirror.alerts.webhooks[%d].type %q unknown: want teams|slack|http", i, wh.Type)
		}
	}
	switch strings.ToLower(m.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("mirror.log_level %q unknown: want debug|info|warn|error", m.LogLevel)
	}
	return nil
}
