package channel

import (
	"log/slog"
	"time"
)

// Options configures a WebSocketChannel.
type Options struct {
	// HandshakeTimeout bounds the dial + upgrade of a single attempt.
	HandshakeTimeout time.Duration

	// HeartbeatInterval is how often an application-level ping is sent while
	// connected.
	HeartbeatInterval time.Duration

	// PongTimeout is how long to wait for the matching pong before declaring
	// the connection dead.
	PongTimeout time.Duration

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration

	// Backoff computes the delay before each reconnection attempt.
	Backoff BackoffStrategy

	// MaxReconnectAttempts is the number of consecutive failed reconnection
	// attempts before the channel enters the terminal error state.
	MaxReconnectAttempts int

	// Subprotocols are offered during the WebSocket handshake.
	Subprotocols []string

	// Logger for channel events. Defaults to logging.Default().
	Logger *slog.Logger

	// Dialer overrides the WebSocket dialer. Tests inject fakes here.
	Dialer Dialer
}

// DefaultOptions returns the production settings: 10s handshake, 30s
// heartbeat with a 5s pong window, 1s..30s backoff, 10 attempts.
func DefaultOptions() *Options {
	return &Options{
		HandshakeTimeout:     10 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		PongTimeout:          5 * time.Second,
		WriteTimeout:         10 * time.Second,
		Backoff:              DefaultBackoff(),
		MaxReconnectAttempts: 10,
	}
}

// Option mutates Options.
type Option func(*Options)

// WithHeartbeat overrides the ping interval and pong window.
func WithHeartbeat(interval, pongTimeout time.Duration) Option {
	return func(o *Options) {
		o.HeartbeatInterval = interval
		o.PongTimeout = pongTimeout
	}
}

// WithHandshakeTimeout overrides the handshake deadline.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *Options) { o.HandshakeTimeout = d }
}

// WithBackoff overrides the reconnect backoff strategy.
func WithBackoff(b BackoffStrategy) Option {
	return func(o *Options) { o.Backoff = b }
}

// WithMaxReconnectAttempts overrides the reconnect attempt budget.
func WithMaxReconnectAttempts(n int) Option {
	return func(o *Options) { o.MaxReconnectAttempts = n }
}

// WithSubprotocols sets subprotocols offered during the handshake.
func WithSubprotocols(protos ...string) Option {
	return func(o *Options) { o.Subprotocols = protos }
}

// WithChannelLogger sets the logger.
func WithChannelLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithDialer injects a custom dialer. Used by tests.
func WithDialer(d Dialer) Option {
	return func(o *Options) { o.Dialer = d }
}
