package notesync

import (
	"context"
	"sync"

	"github.com/c0deZ3R0/go-note-sync/channel"
	kiterrors "github.com/c0deZ3R0/go-note-sync/errors"
	"github.com/c0deZ3R0/go-note-sync/wire"
)

// mockDocumentStore is an in-memory DocumentStore for testing.
type mockDocumentStore struct {
	mu      sync.Mutex
	docs    map[string]Document
	putErr  map[string]error // per-document injected Put failures
	listErr error
}

func newMockDocumentStore() *mockDocumentStore {
	return &mockDocumentStore{
		docs:   make(map[string]Document),
		putErr: make(map[string]error),
	}
}

func (m *mockDocumentStore) Get(ctx context.Context, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *mockDocumentStore) Put(ctx context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.putErr[doc.ID]; err != nil {
		return err
	}
	m.docs[doc.ID] = doc.Clone()
	return nil
}

func (m *mockDocumentStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

func (m *mockDocumentStore) ListPending(ctx context.Context) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []Document
	for _, doc := range m.docs {
		if doc.Status == StatusPending {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

func (m *mockDocumentStore) failPut(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putErr[id] = err
}

// mockChannel is a scriptable channel.Channel. State changes and message
// delivery are synchronous so tests stay deterministic.
type mockChannel struct {
	mu            sync.Mutex
	state         channel.State
	sent          []wire.Message
	sendErr       error
	connectErr    error
	connects      int
	disconnects   int
	msgHandlers   []channel.MessageHandler
	stateHandlers []channel.StateHandler
}

func newMockChannel() *mockChannel {
	return &mockChannel{state: channel.StateDisconnected}
}

func (m *mockChannel) Connect(ctx context.Context, endpointURL, authToken string) error {
	m.mu.Lock()
	m.connects++
	err := m.connectErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.setState(channel.StateConnected)
	return nil
}

func (m *mockChannel) Send(msg wire.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	if m.state != channel.StateConnected {
		return kiterrors.E(kiterrors.OpSend, kiterrors.Component("channel"),
			kiterrors.KindUnavailable, "channel is "+m.state.String())
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockChannel) Disconnect() error {
	m.mu.Lock()
	m.disconnects++
	m.mu.Unlock()
	m.setState(channel.StateDisconnected)
	return nil
}

func (m *mockChannel) OnMessage(h channel.MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgHandlers = append(m.msgHandlers, h)
}

func (m *mockChannel) OnStateChange(h channel.StateHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateHandlers = append(m.stateHandlers, h)
}

func (m *mockChannel) State() channel.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// setState transitions and notifies handlers synchronously.
func (m *mockChannel) setState(s channel.State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	handlers := make([]channel.StateHandler, len(m.stateHandlers))
	copy(handlers, m.stateHandlers)
	m.mu.Unlock()
	for _, h := range handlers {
		h(s)
	}
}

// markConnected flips the state without notifying handlers, for tests that
// need a live channel without reconnect side effects.
func (m *mockChannel) markConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = channel.StateConnected
}

// deliver pushes a message to subscribers as if it arrived off the wire.
func (m *mockChannel) deliver(msg wire.Message) {
	m.mu.Lock()
	handlers := make([]channel.MessageHandler, len(m.msgHandlers))
	copy(handlers, m.msgHandlers)
	m.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (m *mockChannel) sentMessages() []wire.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]wire.Message, len(m.sent))
	copy(out, m.sent)
	return out
}
