// Package config loads daemon configuration from a TOML file, layering the
// file's values over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML files can use strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the full daemon configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Sync    SyncConfig    `toml:"sync"`
}

// ServerConfig describes the sync server to connect to.
type ServerConfig struct {
	// URL is the websocket endpoint, e.g. "wss://sync.example.com/ws".
	URL string `toml:"url"`
	// AuthToken authenticates the connection. Prefer AuthTokenFile or the
	// NOTE_SYNC_TOKEN environment variable over embedding tokens in config.
	AuthToken string `toml:"auth_token"`
	// AuthTokenFile reads the token from a file at startup.
	AuthTokenFile string `toml:"auth_token_file"`

	HandshakeTimeout Duration `toml:"handshake_timeout"`
}

// StorageConfig selects and configures the local document store.
type StorageConfig struct {
	// Backend is "sqlite" or "boltdb".
	Backend string `toml:"backend"`
	// Path is the database file location.
	Path string `toml:"path"`
}

// SyncConfig tunes the channel's keepalive and reconnect behaviour.
type SyncConfig struct {
	HeartbeatInterval    Duration `toml:"heartbeat_interval"`
	PongTimeout          Duration `toml:"pong_timeout"`
	BackoffInitial       Duration `toml:"backoff_initial"`
	BackoffMax           Duration `toml:"backoff_max"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	// PushInterval is how often pending local edits are retried while
	// connected. Zero disables the periodic push.
	PushInterval Duration `toml:"push_interval"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HandshakeTimeout: Duration{10 * time.Second},
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    "notes.db",
		},
		Sync: SyncConfig{
			HeartbeatInterval:    Duration{30 * time.Second},
			PongTimeout:          Duration{5 * time.Second},
			BackoffInitial:       Duration{time.Second},
			BackoffMax:           Duration{30 * time.Second},
			MaxReconnectAttempts: 10,
			PushInterval:         Duration{time.Minute},
		},
	}
}

// Load reads a TOML file over the defaults. An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config %s: unknown key %q", path, undecoded[0])
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Token resolves the auth token, preferring the NOTE_SYNC_TOKEN environment
// variable, then AuthTokenFile, then the inline AuthToken value.
func (c ServerConfig) Token() (string, error) {
	if tok := os.Getenv("NOTE_SYNC_TOKEN"); tok != "" {
		return tok, nil
	}
	if c.AuthTokenFile != "" {
		data, err := os.ReadFile(c.AuthTokenFile)
		if err != nil {
			return "", fmt.Errorf("read auth token file: %w", err)
		}
		return string(trimNewline(data)), nil
	}
	return c.AuthToken, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func (c Config) validate() error {
	switch c.Storage.Backend {
	case "sqlite", "boltdb":
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}
	if c.Sync.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must not be negative")
	}
	if c.Sync.BackoffInitial.Duration > c.Sync.BackoffMax.Duration {
		return fmt.Errorf("backoff_initial exceeds backoff_max")
	}
	return nil
}
