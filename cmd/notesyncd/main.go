// Command notesyncd runs the note sync daemon: it keeps a local document
// store reconciled with a sync server over a websocket channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	notesync "github.com/c0deZ3R0/go-note-sync"
	"github.com/c0deZ3R0/go-note-sync/channel"
	"github.com/c0deZ3R0/go-note-sync/config"
	"github.com/c0deZ3R0/go-note-sync/logging"
	"github.com/c0deZ3R0/go-note-sync/storage/boltdb"
	"github.com/c0deZ3R0/go-note-sync/storage/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "notesyncd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to TOML config file")
	serverURL := flag.String("server", "", "sync server websocket URL (overrides config)")
	flag.Parse()

	logging.Init(logging.GetConfigFromEnv())

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *serverURL != "" {
		cfg.Server.URL = *serverURL
	}
	if cfg.Server.URL == "" {
		return fmt.Errorf("no server URL configured (use -server or the config file)")
	}

	token, err := cfg.Server.Token()
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	ch := channel.NewWebSocketChannel(
		channel.WithHandshakeTimeout(cfg.Server.HandshakeTimeout.Duration),
		channel.WithHeartbeat(cfg.Sync.HeartbeatInterval.Duration, cfg.Sync.PongTimeout.Duration),
		channel.WithBackoff(&channel.ExponentialBackoff{
			InitialDelay: cfg.Sync.BackoffInitial.Duration,
			MaxDelay:     cfg.Sync.BackoffMax.Duration,
			Multiplier:   2.0,
		}),
		channel.WithMaxReconnectAttempts(cfg.Sync.MaxReconnectAttempts),
	)

	engine := notesync.NewEngine(store, ch)

	sub := engine.Subscribe(notesync.EventConflictDetected, func(ev notesync.Event) {
		logging.Warn("sync conflict detected",
			slog.String("document_id", ev.DocumentID),
		)
	})
	defer sub.Cancel()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connected, err := engine.EnableSync(ctx, cfg.Server.URL, token)
	if err != nil {
		return fmt.Errorf("enable sync: %w", err)
	}
	logging.Info("sync enabled",
		slog.String("server", cfg.Server.URL),
		slog.Bool("connected", connected),
	)

	if interval := cfg.Sync.PushInterval.Duration; interval > 0 {
		go pushLoop(ctx, engine, interval)
	}

	<-ctx.Done()
	logging.Info("shutting down")

	if err := engine.DisableSync(); err != nil {
		logging.Error("disable sync failed", slog.String("error", err.Error()))
	}
	return nil
}

// pushLoop periodically retries pending local edits. Remote changes arrive
// through the channel on their own; this only covers edits made while a send
// failed or the connection was down.
func pushLoop(ctx context.Context, engine *notesync.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			meta := engine.Metadata(ctx)
			if meta.PendingSyncCount == 0 || meta.ConnectionState != channel.StateConnected {
				continue
			}
			result, err := engine.SyncPending(ctx)
			if err != nil {
				logging.Warn("periodic push failed", slog.String("error", err.Error()))
				continue
			}
			if len(result.Synced) > 0 || len(result.Errors) > 0 {
				logging.Info("periodic push finished",
					slog.Int("synced", len(result.Synced)),
					slog.Int("errors", len(result.Errors)),
					slog.Duration("duration", result.Duration),
				)
			}
		}
	}
}

func openStore(cfg config.StorageConfig) (notesync.DocumentStore, func(), error) {
	switch cfg.Backend {
	case "sqlite":
		s, err := sqlite.NewWithDataSource("file:" + cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, closer(s), nil
	case "boltdb":
		s, err := boltdb.Open(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open boltdb store: %w", err)
		}
		return s, closer(s), nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

func closer(c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			logging.Error("store close failed", slog.String("error", err.Error()))
		}
	}
}
