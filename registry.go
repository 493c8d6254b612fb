package notesync

import (
	"log/slog"
	"sync"

	"github.com/c0deZ3R0/go-note-sync/logging"
)

// EventKind identifies a class of engine notification.
type EventKind int

const (
	// EventDocumentUpdated fires when a remote update was applied locally or
	// a conflict was resolved.
	EventDocumentUpdated EventKind = iota

	// EventDocumentDeleted fires when a remote deletion was applied locally.
	EventDocumentDeleted

	// EventResyncRequired fires when the server demands a full
	// reconciliation pass.
	EventResyncRequired

	// EventConflictDetected fires when a divergence is recorded.
	EventConflictDetected
)

func (k EventKind) String() string {
	switch k {
	case EventDocumentUpdated:
		return "document_updated"
	case EventDocumentDeleted:
		return "document_deleted"
	case EventResyncRequired:
		return "resync_required"
	case EventConflictDetected:
		return "conflict_detected"
	default:
		return "unknown"
	}
}

// Event is the payload delivered to subscribers. The fields populated depend
// on the kind.
type Event struct {
	Kind       EventKind
	Document   *Document     // document_updated
	DocumentID string        // document_deleted, and set for updated too
	Conflict   *SyncConflict // conflict_detected
	Reason     string        // resync_required
}

// Handler consumes events. A panicking handler is logged and isolated; it
// never takes down the dispatcher or its sibling subscribers.
type Handler func(ev Event)

// Registry is a typed publish/subscribe hub keyed by event kind.
type Registry struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[EventKind]map[uint64]Handler
	logger *slog.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.Default().Logger
	}
	return &Registry{
		subs:   make(map[EventKind]map[uint64]Handler),
		logger: logger.With(slog.String("component", "registry")),
	}
}

// Subscription identifies one registered handler. Cancel is O(1) and
// idempotent.
type Subscription struct {
	kind     EventKind
	id       uint64
	registry *Registry
}

// Cancel removes the handler. Safe to call more than once.
func (s Subscription) Cancel() {
	if s.registry == nil {
		return
	}
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	if handlers, ok := s.registry.subs[s.kind]; ok {
		delete(handlers, s.id)
	}
}

// Subscribe registers a handler for one event kind.
func (r *Registry) Subscribe(kind EventKind, h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	if r.subs[kind] == nil {
		r.subs[kind] = make(map[uint64]Handler)
	}
	r.subs[kind][id] = h
	return Subscription{kind: kind, id: id, registry: r}
}

// Publish delivers ev to every subscriber of its kind, sequentially, each
// behind a recover.
func (r *Registry) Publish(ev Event) {
	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.subs[ev.Kind]))
	for _, h := range r.subs[ev.Kind] {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		r.publishOne(h, ev)
	}
}

func (r *Registry) publishOne(h Handler, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("subscriber panicked",
				slog.String("event", ev.Kind.String()),
				slog.Any("panic", rec))
		}
	}()
	h(ev)
}
