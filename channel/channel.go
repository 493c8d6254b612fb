// Package channel provides the duplex transport channel between a client and
// the sync server: a WebSocket connection that monitors its own liveness with
// application-level heartbeats and restores itself with exponential backoff
// when it drops. The channel moves opaque note messages; it never interprets
// their contents beyond envelope validation.
package channel

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	kiterrors "github.com/c0deZ3R0/go-note-sync/errors"
	"github.com/c0deZ3R0/go-note-sync/logging"
	"github.com/c0deZ3R0/go-note-sync/wire"
)

// MessageHandler receives validated inbound messages. Heartbeat pongs are
// consumed internally and never reach handlers.
type MessageHandler func(msg wire.Message)

// StateHandler receives lifecycle transitions.
type StateHandler func(state State)

// Channel is a reconnecting duplex message channel.
type Channel interface {
	// Connect dials the endpoint and performs the handshake. The auth token
	// travels in the Authorization header, never in the URL.
	Connect(ctx context.Context, endpointURL, authToken string) error

	// Send delivers a message if the channel is connected, and fails fast
	// with an unavailable-kind error otherwise. Nothing is buffered.
	Send(msg wire.Message) error

	// Disconnect closes the connection intentionally: no reconnection is
	// attempted and pending reconnect timers are cancelled.
	Disconnect() error

	// OnMessage registers a handler for inbound messages.
	OnMessage(h MessageHandler)

	// OnStateChange registers a handler for state transitions.
	OnStateChange(h StateHandler)

	// State returns the current lifecycle state.
	State() State
}

// Conn is the slice of a WebSocket connection the channel needs. Tests
// substitute fakes; production uses gorilla/websocket.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer establishes a Conn. The context carries the handshake deadline.
type Dialer func(ctx context.Context, endpointURL string, header http.Header) (Conn, error)

func gorillaDialer(handshakeTimeout time.Duration, subprotocols []string) Dialer {
	return func(ctx context.Context, endpointURL string, header http.Header) (Conn, error) {
		d := &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			Subprotocols:     subprotocols,
		}
		conn, resp, err := d.DialContext(ctx, endpointURL, header)
		if err != nil {
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			return nil, err
		}
		return conn, nil
	}
}

// WebSocketChannel implements Channel.
type WebSocketChannel struct {
	opts   Options
	logger *slog.Logger
	dial   Dialer

	// writeMu serializes frame writes; gorilla connections allow only one
	// concurrent writer.
	writeMu sync.Mutex

	mu            sync.Mutex
	state         State
	conn          Conn
	endpointURL   string
	authToken     string
	intentional   bool
	stop          chan struct{}
	generation    int
	msgHandlers   []MessageHandler
	stateHandlers []StateHandler

	pongCh chan struct{}
}

// NewWebSocketChannel builds a channel with the given option overrides.
func NewWebSocketChannel(opts ...Option) *WebSocketChannel {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.Logger == nil {
		o.Logger = logging.Default().Logger
	}
	if o.Backoff == nil {
		o.Backoff = DefaultBackoff()
	}
	dial := o.Dialer
	if dial == nil {
		dial = gorillaDialer(o.HandshakeTimeout, o.Subprotocols)
	}
	return &WebSocketChannel{
		opts:   *o,
		logger: o.Logger.With(slog.String("component", "channel")),
		dial:   dial,
		state:  StateDisconnected,
		pongCh: make(chan struct{}, 1),
	}
}

// Connect implements Channel.
func (c *WebSocketChannel) Connect(ctx context.Context, endpointURL, authToken string) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected, StateReconnecting:
		state := c.state
		c.mu.Unlock()
		return kiterrors.E(kiterrors.OpConnect, kiterrors.Component("channel"),
			"channel is already "+state.String())
	}
	c.endpointURL = endpointURL
	c.authToken = authToken
	c.intentional = false
	c.stop = make(chan struct{})
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, err := c.dialOnce(ctx, kiterrors.OpConnect)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return err
	}

	c.adoptConn(conn, 0)
	return nil
}

// dialOnce performs a single dial attempt under the handshake deadline.
func (c *WebSocketChannel) dialOnce(ctx context.Context, op kiterrors.Operation) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	header := http.Header{}
	c.mu.Lock()
	token := c.authToken
	endpoint := c.endpointURL
	c.mu.Unlock()
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
		warnIfExpired(c.logger, token)
	}

	conn, err := c.dial(dialCtx, endpoint, header)
	if err != nil {
		kind := kiterrors.KindTransportFailure
		if stderrors.Is(err, context.DeadlineExceeded) {
			kind = kiterrors.KindTimeout
		}
		return nil, kiterrors.NewConnectionError(op, kind, err)
	}
	return conn, nil
}

// adoptConn installs a live connection and starts its read and heartbeat
// loops. attempts is logged for reconnects.
func (c *WebSocketChannel) adoptConn(conn Conn, attempts int) {
	c.mu.Lock()
	select {
	case <-c.stopChanLocked():
		// Disconnect raced the dial.
		c.mu.Unlock()
		conn.Close()
		return
	default:
	}
	c.conn = conn
	c.generation++
	gen := c.generation
	stop := c.stop
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	if attempts > 0 {
		c.logger.Info("reconnected", slog.Int("attempts", attempts))
	} else {
		c.logger.Info("connected")
	}

	go c.readLoop(conn, gen)
	go c.heartbeatLoop(conn, gen, stop)
}

func (c *WebSocketChannel) stopChanLocked() chan struct{} {
	if c.stop == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.stop
}

// readLoop pumps inbound frames until the connection fails.
func (c *WebSocketChannel) readLoop(conn Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleConnFailure(gen, kiterrors.E(kiterrors.OpReceive,
				kiterrors.Component("channel"), kiterrors.KindTransportFailure, err))
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			// Malformed frames are dropped, never fatal.
			c.logger.Warn("dropping invalid frame", slog.String("error", err.Error()))
			continue
		}

		if msg.Type == wire.TypePong {
			select {
			case c.pongCh <- struct{}{}:
			default:
			}
			continue
		}

		c.dispatch(msg)
	}
}

func (c *WebSocketChannel) dispatch(msg wire.Message) {
	c.mu.Lock()
	handlers := make([]MessageHandler, len(c.msgHandlers))
	copy(handlers, c.msgHandlers)
	c.mu.Unlock()

	for _, h := range handlers {
		c.safeDispatch(h, msg)
	}
}

func (c *WebSocketChannel) safeDispatch(h MessageHandler, msg wire.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked",
				slog.Any("panic", r),
				slog.String("message_type", string(msg.Type)))
		}
	}()
	h(msg)
}

// heartbeatLoop sends a ping every HeartbeatInterval and waits PongTimeout
// for the reply. A missed pong counts as a dead connection.
func (c *WebSocketChannel) heartbeatLoop(conn Conn, gen int, stop chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		// Drain a stale pong from a previous round.
		select {
		case <-c.pongCh:
		default:
		}

		if err := c.writeFrame(conn, wire.NewPing()); err != nil {
			c.handleConnFailure(gen, kiterrors.E(kiterrors.OpHeartbeat,
				kiterrors.Component("channel"), kiterrors.KindTransportFailure, err))
			return
		}

		timer := time.NewTimer(c.opts.PongTimeout)
		select {
		case <-c.pongCh:
			timer.Stop()
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			c.handleConnFailure(gen, kiterrors.E(kiterrors.OpHeartbeat,
				kiterrors.Component("channel"), kiterrors.KindTimeout,
				"no pong within "+c.opts.PongTimeout.String()))
			return
		}
	}
}

// handleConnFailure tears down a failed connection and kicks off the
// reconnect loop. The generation check makes the first failure win when the
// read and heartbeat loops race.
func (c *WebSocketChannel) handleConnFailure(gen int, cause error) {
	c.mu.Lock()
	if gen != c.generation || c.intentional {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.generation++
	stop := c.stop
	c.setStateLocked(StateReconnecting)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.logger.Warn("connection lost", slog.String("error", cause.Error()))

	go c.reconnectLoop(stop)
}

// reconnectLoop retries with exponential backoff until it succeeds, is
// stopped, or exhausts its attempt budget.
func (c *WebSocketChannel) reconnectLoop(stop chan struct{}) {
	backoff := c.opts.Backoff

	for attempt := 0; attempt < c.opts.MaxReconnectAttempts; attempt++ {
		delay := backoff.NextDelay(attempt)
		c.logger.Debug("scheduling reconnect",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		conn, err := c.dialOnce(context.Background(), kiterrors.OpReconnect)
		if err != nil {
			c.logger.Warn("reconnect attempt failed",
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
			continue
		}

		backoff.Reset()
		c.adoptConn(conn, attempt+1)
		return
	}

	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateError)
	c.mu.Unlock()
	c.logger.Error("reconnect attempts exhausted",
		slog.Int("attempts", c.opts.MaxReconnectAttempts))
}

// Send implements Channel.
func (c *WebSocketChannel) Send(msg wire.Message) error {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		state := c.state
		c.mu.Unlock()
		return kiterrors.E(kiterrors.OpSend, kiterrors.Component("channel"),
			kiterrors.KindUnavailable, "channel is "+state.String())
	}
	conn := c.conn
	c.mu.Unlock()

	return c.writeFrame(conn, msg)
}

func (c *WebSocketChannel) writeFrame(conn Conn, msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return kiterrors.E(kiterrors.OpSend, kiterrors.Component("channel"),
			kiterrors.KindTransportFailure, err)
	}
	return nil
}

// Disconnect implements Channel.
func (c *WebSocketChannel) Disconnect() error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.intentional = true
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	conn := c.conn
	c.conn = nil
	c.generation++
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.logger.Info("disconnected")
	return nil
}

// OnMessage implements Channel.
func (c *WebSocketChannel) OnMessage(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgHandlers = append(c.msgHandlers, h)
}

// OnStateChange implements Channel.
func (c *WebSocketChannel) OnStateChange(h StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandlers = append(c.stateHandlers, h)
}

// State implements Channel.
func (c *WebSocketChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setStateLocked records a transition and notifies handlers. Callers hold mu;
// handlers run on a fresh goroutine so they can call back into the channel.
func (c *WebSocketChannel) setStateLocked(to State) {
	if c.state == to {
		return
	}
	from := c.state
	c.state = to

	handlers := make([]StateHandler, len(c.stateHandlers))
	copy(handlers, c.stateHandlers)

	c.logger.Debug("state transition",
		slog.String("from", from.String()),
		slog.String("to", to.String()))

	if len(handlers) == 0 {
		return
	}
	go func() {
		for _, h := range handlers {
			c.safeStateDispatch(h, to)
		}
	}()
}

func (c *WebSocketChannel) safeStateDispatch(h StateHandler, s State) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("state handler panicked", slog.Any("panic", r))
		}
	}()
	h(s)
}
