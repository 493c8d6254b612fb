package channel

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	kiterrors "github.com/c0deZ3R0/go-note-sync/errors"
	"github.com/c0deZ3R0/go-note-sync/wire"
)

// fakeConn is a scriptable Conn for driving the channel without a network.
type fakeConn struct {
	mu        sync.Mutex
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	written   [][]byte
	writeErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return 1, data, nil
	case <-f.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) deliver(t *testing.T, msg wire.Message) {
	t.Helper()
	data, err := wire.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.inbound <- data
}

func (f *fakeConn) deliverRaw(data []byte) {
	f.inbound <- data
}

func (f *fakeConn) writtenFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

// fakeDialer hands out fakeConns, optionally failing a budgeted number of
// dials first.
type fakeDialer struct {
	mu            sync.Mutex
	successBudget int // -1 means unlimited
	dials         int
	conns         []*fakeConn
	urls          []string
	headers       []http.Header
	block         bool // block until ctx is done, then fail
}

func (d *fakeDialer) dial(ctx context.Context, endpointURL string, header http.Header) (Conn, error) {
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.urls = append(d.urls, endpointURL)
	d.headers = append(d.headers, header)
	if d.successBudget == 0 {
		return nil, errors.New("connection refused")
	}
	if d.successBudget > 0 {
		d.successBudget--
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func fastOptions(d *fakeDialer) []Option {
	return []Option{
		WithDialer(d.dial),
		WithHandshakeTimeout(100 * time.Millisecond),
		WithHeartbeat(20*time.Millisecond, 20*time.Millisecond),
		WithBackoff(&ExponentialBackoff{
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
		}),
	}
}

func waitForState(t *testing.T, c *WebSocketChannel, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", c.State(), want)
}

// respondToPings answers heartbeat pings until the test finishes.
func respondToPings(t *testing.T, conn *fakeConn) {
	t.Helper()
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		answered := 0
		for {
			select {
			case <-done:
				return
			case <-time.After(2 * time.Millisecond):
			}
			for _, frame := range conn.writtenFrames()[answered:] {
				answered++
				msg, err := wire.Decode(frame)
				if err == nil && msg.Type == wire.TypePing {
					select {
					case conn.inbound <- mustEncode(wire.NewPong()):
					case <-done:
						return
					}
				}
			}
		}
	}()
}

func mustEncode(msg wire.Message) []byte {
	data, err := wire.Encode(msg)
	if err != nil {
		panic(err)
	}
	return data
}

func TestConnect_Success(t *testing.T) {
	dialer := &fakeDialer{successBudget: -1}
	c := NewWebSocketChannel(fastOptions(dialer)...)

	err := c.Connect(context.Background(), "wss://example.test/sync", "token-abc")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Disconnect()

	waitForState(t, c, StateConnected)

	if got := dialer.urls[0]; strings.Contains(got, "token") {
		t.Errorf("dial URL %q leaks the auth token", got)
	}
	if got := dialer.headers[0].Get("Authorization"); got != "Bearer token-abc" {
		t.Errorf("Authorization header = %q, want Bearer token-abc", got)
	}
}

func TestConnect_RejectsSecondConnect(t *testing.T) {
	dialer := &fakeDialer{successBudget: -1}
	c := NewWebSocketChannel(fastOptions(dialer)...)

	if err := c.Connect(context.Background(), "wss://example.test/sync", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Disconnect()

	if err := c.Connect(context.Background(), "wss://example.test/sync", ""); err == nil {
		t.Error("second Connect() should fail while connected")
	}
}

func TestConnect_HandshakeTimeout(t *testing.T) {
	dialer := &fakeDialer{block: true}
	c := NewWebSocketChannel(
		WithDialer(dialer.dial),
		WithHandshakeTimeout(10*time.Millisecond),
	)

	err := c.Connect(context.Background(), "wss://example.test/sync", "")
	if err == nil {
		t.Fatal("Connect() should fail when the handshake never completes")
	}
	if !kiterrors.IsKind(err, kiterrors.KindTimeout) {
		t.Errorf("error kind = %v, want timeout", kiterrors.KindOf(err))
	}
	if c.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", c.State())
	}
}

func TestSend_FailsFastWhenDisconnected(t *testing.T) {
	c := NewWebSocketChannel(WithDialer((&fakeDialer{}).dial))

	err := c.Send(wire.NewPing())
	if err == nil {
		t.Fatal("Send() should fail when disconnected")
	}
	if !kiterrors.IsKind(err, kiterrors.KindUnavailable) {
		t.Errorf("error kind = %v, want unavailable", kiterrors.KindOf(err))
	}
}

func TestSend_WritesFrame(t *testing.T) {
	dialer := &fakeDialer{successBudget: -1}
	c := NewWebSocketChannel(fastOptions(dialer)...)

	if err := c.Connect(context.Background(), "wss://example.test/sync", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Disconnect()

	note := wire.Note{ID: "n1", Title: "t", Content: "c", UpdatedAt: time.Now().UTC()}
	if err := c.Send(wire.NewNoteUpdate(note, "u1")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	frames := dialer.lastConn().writtenFrames()
	if len(frames) == 0 {
		t.Fatal("no frame written")
	}
	msg, err := wire.Decode(frames[0])
	if err != nil {
		t.Fatalf("written frame does not decode: %v", err)
	}
	if msg.Type != wire.TypeNoteUpdate || msg.Note == nil || msg.Note.Note.ID != "n1" {
		t.Errorf("unexpected frame: %+v", msg)
	}
}

func TestInboundDispatch_DropsInvalidFrames(t *testing.T) {
	dialer := &fakeDialer{successBudget: -1}
	c := NewWebSocketChannel(fastOptions(dialer)...)

	received := make(chan wire.Message, 4)
	c.OnMessage(func(msg wire.Message) { received <- msg })

	if err := c.Connect(context.Background(), "wss://example.test/sync", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Disconnect()
	respondToPings(t, dialer.lastConn())

	conn := dialer.lastConn()
	note := wire.Note{ID: "n1", Title: "t", Content: "c", UpdatedAt: time.Now().UTC()}
	conn.deliver(t, wire.NewNoteUpdated(note, "u2"))
	conn.deliverRaw([]byte(`{"type":"gossip","payload":{},"timestamp":"2025-06-01T10:00:00Z"}`))
	conn.deliverRaw([]byte(`not even json`))
	conn.deliver(t, wire.NewNoteDeleted("n2", "u2"))

	var got []wire.Message
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case msg := <-received:
			got = append(got, msg)
		case <-timeout:
			t.Fatalf("received %d messages, want 2", len(got))
		}
	}

	if got[0].Type != wire.TypeNoteUpdated {
		t.Errorf("first message type = %v, want note_updated", got[0].Type)
	}
	if got[1].Type != wire.TypeNoteDeleted {
		t.Errorf("second message type = %v, want note_deleted", got[1].Type)
	}
	// Invalid frames must not tear down the connection.
	if c.State() != StateConnected {
		t.Errorf("state = %v, want connected", c.State())
	}
}

func TestInboundDispatch_PanicIsolation(t *testing.T) {
	dialer := &fakeDialer{successBudget: -1}
	c := NewWebSocketChannel(fastOptions(dialer)...)

	received := make(chan wire.Message, 1)
	c.OnMessage(func(msg wire.Message) { panic("handler bug") })
	c.OnMessage(func(msg wire.Message) { received <- msg })

	if err := c.Connect(context.Background(), "wss://example.test/sync", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Disconnect()
	respondToPings(t, dialer.lastConn())

	note := wire.Note{ID: "n1", Title: "t", Content: "c", UpdatedAt: time.Now().UTC()}
	dialer.lastConn().deliver(t, wire.NewNoteUpdated(note, "u2"))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("second handler never ran after first panicked")
	}
}

func TestHeartbeat_KeepsConnectionAlive(t *testing.T) {
	dialer := &fakeDialer{successBudget: -1}
	c := NewWebSocketChannel(fastOptions(dialer)...)

	if err := c.Connect(context.Background(), "wss://example.test/sync", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Disconnect()
	respondToPings(t, dialer.lastConn())

	// Outlive several heartbeat rounds.
	time.Sleep(120 * time.Millisecond)

	if c.State() != StateConnected {
		t.Fatalf("state = %v, want connected", c.State())
	}

	pings := 0
	for _, frame := range dialer.lastConn().writtenFrames() {
		if msg, err := wire.Decode(frame); err == nil && msg.Type == wire.TypePing {
			pings++
		}
	}
	if pings < 2 {
		t.Errorf("pings sent = %d, want at least 2", pings)
	}
}

func TestHeartbeat_MissedPongTriggersReconnect(t *testing.T) {
	dialer := &fakeDialer{successBudget: -1}
	c := NewWebSocketChannel(fastOptions(dialer)...)

	states := make(chan State, 16)
	c.OnStateChange(func(s State) { states <- s })

	if err := c.Connect(context.Background(), "wss://example.test/sync", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Disconnect()

	// No pong responder: the first heartbeat round must fail and a new
	// connection must be dialed.
	deadline := time.Now().Add(2 * time.Second)
	sawReconnecting := false
	for time.Now().Before(deadline) && !sawReconnecting {
		select {
		case s := <-states:
			if s == StateReconnecting {
				sawReconnecting = true
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
	if !sawReconnecting {
		t.Fatal("missed pong never triggered reconnecting state")
	}

	waitForState(t, c, StateConnected)
	if dialer.dialCount() < 2 {
		t.Errorf("dials = %d, want at least 2", dialer.dialCount())
	}
}

func TestReconnect_ExhaustionEntersErrorState(t *testing.T) {
	// First dial succeeds; every reconnect attempt fails.
	dialer := &fakeDialer{successBudget: 1}
	c := NewWebSocketChannel(append(fastOptions(dialer),
		WithMaxReconnectAttempts(10),
	)...)

	if err := c.Connect(context.Background(), "wss://example.test/sync", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Kill the live connection to start the reconnect loop.
	dialer.lastConn().Close()

	waitForState(t, c, StateError)

	// 1 initial dial + 10 failed reconnect attempts.
	if got := dialer.dialCount(); got != 11 {
		t.Errorf("dials = %d, want 11", got)
	}

	if err := c.Send(wire.NewPing()); err == nil {
		t.Error("Send() should fail in error state")
	}
}

func TestDisconnect_CancelsReconnect(t *testing.T) {
	dialer := &fakeDialer{successBudget: 1}
	c := NewWebSocketChannel(append(fastOptions(dialer),
		WithBackoff(&ExponentialBackoff{
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     50 * time.Millisecond,
			Multiplier:   1.0,
		}),
	)...)

	if err := c.Connect(context.Background(), "wss://example.test/sync", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	dialer.lastConn().Close()
	waitForState(t, c, StateReconnecting)

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", c.State())
	}

	dialsAfter := dialer.dialCount()
	time.Sleep(150 * time.Millisecond)
	if got := dialer.dialCount(); got != dialsAfter {
		t.Errorf("reconnect attempts continued after Disconnect: %d -> %d", dialsAfter, got)
	}
	if c.State() != StateDisconnected {
		t.Errorf("state drifted to %v after Disconnect", c.State())
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	c := NewWebSocketChannel(WithDialer((&fakeDialer{}).dial))
	if err := c.Disconnect(); err != nil {
		t.Errorf("Disconnect() on fresh channel = %v, want nil", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("second Disconnect() = %v, want nil", err)
	}
}

func TestConnect_AfterErrorStateRecovers(t *testing.T) {
	dialer := &fakeDialer{successBudget: 1}
	c := NewWebSocketChannel(append(fastOptions(dialer),
		WithMaxReconnectAttempts(2),
	)...)

	if err := c.Connect(context.Background(), "wss://example.test/sync", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	dialer.lastConn().Close()
	waitForState(t, c, StateError)

	// A fresh Connect leaves the terminal state.
	dialer.mu.Lock()
	dialer.successBudget = -1
	dialer.mu.Unlock()

	if err := c.Connect(context.Background(), "wss://example.test/sync", ""); err != nil {
		t.Fatalf("Connect() after error state = %v", err)
	}
	defer c.Disconnect()
	waitForState(t, c, StateConnected)
}
