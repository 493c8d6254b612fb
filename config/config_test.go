package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Sync.HeartbeatInterval.Duration != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", cfg.Sync.HeartbeatInterval.Duration)
	}
	if cfg.Sync.MaxReconnectAttempts != 10 {
		t.Errorf("MaxReconnectAttempts = %d, want 10", cfg.Sync.MaxReconnectAttempts)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Backend = %q, want sqlite", cfg.Storage.Backend)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
url = "wss://sync.example.com/ws"
handshake_timeout = "3s"

[storage]
backend = "boltdb"
path = "/var/lib/notes/notes.bolt"

[sync]
heartbeat_interval = "10s"
pong_timeout = "2s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.URL != "wss://sync.example.com/ws" {
		t.Errorf("URL = %q", cfg.Server.URL)
	}
	if cfg.Server.HandshakeTimeout.Duration != 3*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 3s", cfg.Server.HandshakeTimeout.Duration)
	}
	if cfg.Storage.Backend != "boltdb" {
		t.Errorf("Backend = %q, want boltdb", cfg.Storage.Backend)
	}
	if cfg.Sync.HeartbeatInterval.Duration != 10*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 10s", cfg.Sync.HeartbeatInterval.Duration)
	}
	// Untouched keys keep their defaults.
	if cfg.Sync.BackoffMax.Duration != 30*time.Second {
		t.Errorf("BackoffMax = %v, want default 30s", cfg.Sync.BackoffMax.Duration)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[server]
ulr = "typo"
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted a config with an unknown key")
	}
}

func TestLoad_RejectsBadBackend(t *testing.T) {
	path := writeConfig(t, `
[storage]
backend = "postgres"
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted an unsupported storage backend")
	}
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
[sync]
heartbeat_interval = "thirty seconds"
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted a malformed duration")
	}
}

func TestToken_Precedence(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenFile, []byte("file-token\n"), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}

	sc := ServerConfig{AuthToken: "inline-token", AuthTokenFile: tokenFile}

	t.Run("env wins", func(t *testing.T) {
		t.Setenv("NOTE_SYNC_TOKEN", "env-token")
		tok, err := sc.Token()
		if err != nil {
			t.Fatalf("Token() failed: %v", err)
		}
		if tok != "env-token" {
			t.Errorf("Token() = %q, want env-token", tok)
		}
	})

	t.Run("file beats inline", func(t *testing.T) {
		t.Setenv("NOTE_SYNC_TOKEN", "")
		tok, err := sc.Token()
		if err != nil {
			t.Fatalf("Token() failed: %v", err)
		}
		if tok != "file-token" {
			t.Errorf("Token() = %q, want file-token (trailing newline trimmed)", tok)
		}
	})

	t.Run("inline fallback", func(t *testing.T) {
		t.Setenv("NOTE_SYNC_TOKEN", "")
		tok, err := ServerConfig{AuthToken: "inline-token"}.Token()
		if err != nil {
			t.Fatalf("Token() failed: %v", err)
		}
		if tok != "inline-token" {
			t.Errorf("Token() = %q, want inline-token", tok)
		}
	})
}
