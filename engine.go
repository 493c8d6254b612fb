package notesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c0deZ3R0/go-note-sync/channel"
	kiterrors "github.com/c0deZ3R0/go-note-sync/errors"
	"github.com/c0deZ3R0/go-note-sync/logging"
	"github.com/c0deZ3R0/go-note-sync/wire"
)

// SyncMetadata is a point-in-time snapshot of the engine's state.
type SyncMetadata struct {
	LastSyncTime     time.Time
	PendingSyncCount int
	ConflictCount    int
	SyncEnabled      bool
	ConnectionState  channel.State
}

// Engine coordinates the local document store, the transport channel and the
// conflict resolver. It is the single writer to the store; all remote and
// local mutations funnel through it.
type Engine struct {
	store    DocumentStore
	bases    BaseStore // nil when the store has no base capability
	ch       channel.Channel
	registry *Registry
	logger   *slog.Logger
	metrics  MetricsCollector
	userID   string

	mu        sync.Mutex
	enabled   bool
	memBases  map[string]Document
	conflicts map[string]SyncConflict
	lastSync  time.Time
	connState channel.State
}

// NewEngine wires an engine to its store and channel. The engine subscribes
// to the channel immediately; messages arriving before EnableSync are still
// reconciled.
func NewEngine(store DocumentStore, ch channel.Channel, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		ch:        ch,
		metrics:   &NoOpMetricsCollector{},
		memBases:  make(map[string]Document),
		conflicts: make(map[string]SyncConflict),
		connState: channel.StateDisconnected,
	}
	if bs, ok := store.(BaseStore); ok {
		e.bases = bs
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Default().Logger
	}
	e.logger = e.logger.With(slog.String("component", "engine"))
	if e.userID == "" {
		e.userID = uuid.NewString()
	}
	if e.registry == nil {
		e.registry = NewRegistry(e.logger)
	}

	ch.OnMessage(e.handleMessage)
	ch.OnStateChange(e.handleStateChange)
	return e
}

// UserID returns the actor identifier stamped on outbound messages.
func (e *Engine) UserID() string { return e.userID }

// EnableSync connects the channel and starts reconciling. The returned bool
// reports whether the channel connected.
func (e *Engine) EnableSync(ctx context.Context, endpointURL, authToken string) (bool, error) {
	e.mu.Lock()
	if e.enabled {
		connected := e.connState == channel.StateConnected
		e.mu.Unlock()
		return connected, nil
	}
	e.mu.Unlock()

	if err := e.ch.Connect(ctx, endpointURL, authToken); err != nil {
		return false, err
	}

	e.mu.Lock()
	e.enabled = true
	e.mu.Unlock()

	e.logger.Info("sync enabled")
	go e.pushPending(context.Background(), "enable")
	return true, nil
}

// DisableSync disconnects the channel and stops reconciling. Reconnect
// timers are cancelled before this returns. Idempotent.
func (e *Engine) DisableSync() error {
	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return nil
	}
	e.enabled = false
	e.mu.Unlock()

	err := e.ch.Disconnect()
	e.logger.Info("sync disabled")
	return err
}

// SyncNotes runs one reconciliation pass over the given documents: pending
// ones are pushed, conflicted ones are surfaced, the rest are skipped.
// Per-document failures land in the result; they never abort the pass.
func (e *Engine) SyncNotes(ctx context.Context, docs []Document, source string) (*SyncResult, error) {
	result := &SyncResult{StartTime: time.Now()}
	defer func() {
		result.Duration = time.Since(result.StartTime)
		e.metrics.RecordSyncDuration("sync", result.Duration)
	}()

	e.logger.Debug("sync pass started",
		slog.String("source", source),
		slog.Int("documents", len(docs)))

	e.mu.Lock()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err)
			break
		}

		if c, ok := e.conflicts[doc.ID]; ok {
			result.Conflicts = append(result.Conflicts, c)
			continue
		}
		if doc.Status != StatusPending && doc.Status != StatusError {
			continue
		}

		pushed, err := e.pushLocked(ctx, doc)
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Errorf("push %s: %w", doc.ID, err))
			e.metrics.RecordSyncErrors("push", string(kiterrors.KindOf(err)))
			continue
		}
		result.Synced = append(result.Synced, pushed)
	}
	if len(result.Synced) > 0 {
		e.lastSync = time.Now()
	}
	e.mu.Unlock()

	e.metrics.RecordSyncDocuments(len(result.Synced), 0)
	e.logger.Debug("sync pass finished",
		slog.String("source", source),
		slog.Int("synced", len(result.Synced)),
		slog.Int("conflicts", len(result.Conflicts)),
		slog.Int("errors", len(result.Errors)))

	return result, nil
}

// SyncPending runs a reconciliation pass over every document the store marks
// pending.
func (e *Engine) SyncPending(ctx context.Context) (*SyncResult, error) {
	docs, err := e.store.ListPending(ctx)
	if err != nil {
		return nil, kiterrors.WrapOpComponentKind(err,
			kiterrors.OpSync, "engine", kiterrors.KindStorage)
	}
	return e.SyncNotes(ctx, docs, "manual")
}

// pushLocked sends one document over the channel and settles its status.
// A send failure leaves the document pending so a later pass retries it.
func (e *Engine) pushLocked(ctx context.Context, doc Document) (Document, error) {
	doc.Status = StatusSyncing
	if err := e.store.Put(ctx, doc); err != nil {
		return Document{}, kiterrors.WrapOpComponentKind(err,
			kiterrors.OpStore, "engine", kiterrors.KindStorage)
	}

	if err := e.ch.Send(wire.NewNoteUpdate(toWireNote(doc), e.userID)); err != nil {
		doc.Status = StatusPending
		if perr := e.store.Put(ctx, doc); perr != nil {
			e.logger.Error("failed to restore pending status",
				slog.String("document_id", doc.ID),
				slog.String("error", perr.Error()))
		}
		return Document{}, err
	}

	doc.Status = StatusSynced
	if err := e.store.Put(ctx, doc); err != nil {
		return Document{}, kiterrors.WrapOpComponentKind(err,
			kiterrors.OpStore, "engine", kiterrors.KindStorage)
	}
	e.setBase(ctx, doc)
	return doc, nil
}

// SendDocumentUpdate pushes a local edit immediately. The document keeps
// pending status if the channel is down and is retried on the next pass.
func (e *Engine) SendDocumentUpdate(ctx context.Context, doc Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.conflicts[doc.ID]; ok {
		return kiterrors.NewConflictError(kiterrors.OpSend,
			fmt.Errorf("document %s has an unresolved conflict", doc.ID))
	}

	doc.Status = StatusPending
	_, err := e.pushLocked(ctx, doc)
	return err
}

// SendDocumentDelete removes a document locally and tells the server. The
// local removal happens even when the channel is down; deletes carry no
// tombstones, so an offline delete is not replayed later.
func (e *Engine) SendDocumentDelete(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Delete(ctx, id); err != nil {
		return kiterrors.WrapOpComponentKind(err,
			kiterrors.OpStore, "engine", kiterrors.KindStorage)
	}
	if _, ok := e.conflicts[id]; ok {
		delete(e.conflicts, id)
		e.metrics.RecordConflicts(len(e.conflicts))
	}
	e.dropBase(ctx, id)

	return e.ch.Send(wire.NewNoteDelete(id, e.userID))
}

// ResolveConflictManually settles a recorded conflict with the caller's
// chosen version. Returns false when no conflict exists for the document,
// which makes repeated calls harmless.
func (e *Engine) ResolveConflictManually(ctx context.Context, id string, chosen Document) (bool, error) {
	e.mu.Lock()
	c, ok := e.conflicts[id]
	if !ok {
		e.mu.Unlock()
		return false, nil
	}
	delete(e.conflicts, id)
	e.metrics.RecordConflicts(len(e.conflicts))

	chosen.ID = id
	chosen.UpdatedAt = resolutionTimestamp(c, time.Now().UTC())
	chosen.Status = StatusSynced

	if err := e.store.Put(ctx, chosen); err != nil {
		// Keep the conflict open rather than losing it.
		e.conflicts[id] = c
		e.metrics.RecordConflicts(len(e.conflicts))
		e.mu.Unlock()
		return false, kiterrors.WrapOpComponentKind(err,
			kiterrors.OpResolve, "engine", kiterrors.KindStorage)
	}

	if err := e.ch.Send(wire.NewNoteUpdate(toWireNote(chosen), e.userID)); err != nil {
		// Offline: the resolution holds locally and is pushed later. The
		// base stays at the remote version so the local win is still seen
		// as a change to push.
		chosen.Status = StatusPending
		if perr := e.store.Put(ctx, chosen); perr != nil {
			e.logger.Error("failed to mark resolution pending",
				slog.String("document_id", id),
				slog.String("error", perr.Error()))
		}
		e.setBase(ctx, c.Remote)
	} else {
		e.setBase(ctx, chosen)
	}

	doc := chosen
	e.mu.Unlock()

	e.logger.Info("conflict resolved",
		slog.String("document_id", id))
	e.registry.Publish(Event{Kind: EventDocumentUpdated, Document: &doc, DocumentID: id})
	return true, nil
}

// resolutionTimestamp picks a timestamp strictly after both conflicting
// versions so the resolution supersedes them everywhere.
func resolutionTimestamp(c SyncConflict, now time.Time) time.Time {
	ts := now
	if !ts.After(c.Local.UpdatedAt) {
		ts = c.Local.UpdatedAt.Add(time.Millisecond)
	}
	if !ts.After(c.Remote.UpdatedAt) {
		ts = c.Remote.UpdatedAt.Add(time.Millisecond)
	}
	return ts
}

// Conflicts returns the open conflicts.
func (e *Engine) Conflicts() []SyncConflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]SyncConflict, 0, len(e.conflicts))
	for _, c := range e.conflicts {
		out = append(out, c)
	}
	return out
}

// Metadata snapshots the engine state.
func (e *Engine) Metadata(ctx context.Context) SyncMetadata {
	e.mu.Lock()
	meta := SyncMetadata{
		LastSyncTime:    e.lastSync,
		ConflictCount:   len(e.conflicts),
		SyncEnabled:     e.enabled,
		ConnectionState: e.connState,
	}
	e.mu.Unlock()

	if pending, err := e.store.ListPending(ctx); err == nil {
		meta.PendingSyncCount = len(pending)
	} else {
		e.logger.Warn("failed to count pending documents",
			slog.String("error", err.Error()))
	}
	return meta
}

// Subscribe registers a handler for one event kind.
func (e *Engine) Subscribe(kind EventKind, h Handler) Subscription {
	return e.registry.Subscribe(kind, h)
}

// OnRealtimeUpdate subscribes to applied document updates. Cancel the
// returned subscription to stop receiving them.
func (e *Engine) OnRealtimeUpdate(fn func(doc Document)) Subscription {
	return e.registry.Subscribe(EventDocumentUpdated, func(ev Event) {
		if ev.Document != nil {
			fn(*ev.Document)
		}
	})
}

// handleStateChange tracks the channel state and re-pushes pending edits
// after a reconnect.
func (e *Engine) handleStateChange(s channel.State) {
	e.mu.Lock()
	prev := e.connState
	e.connState = s
	enabled := e.enabled
	e.mu.Unlock()

	e.logger.Debug("channel state changed",
		slog.String("from", prev.String()),
		slog.String("to", s.String()))

	if enabled && s == channel.StateConnected && prev != channel.StateConnected {
		go e.pushPending(context.Background(), "reconnect")
	}
}

// pushPending runs a pass over everything the store marks pending.
func (e *Engine) pushPending(ctx context.Context, source string) {
	docs, err := e.store.ListPending(ctx)
	if err != nil {
		e.logger.Error("failed to list pending documents",
			slog.String("error", err.Error()))
		return
	}
	if len(docs) == 0 {
		return
	}
	if _, err := e.SyncNotes(ctx, docs, source); err != nil {
		e.logger.Error("pending push failed", slog.String("error", err.Error()))
	}
}

// handleMessage reconciles one inbound channel message.
func (e *Engine) handleMessage(msg wire.Message) {
	ctx := context.Background()

	switch msg.Type {
	case wire.TypeNoteUpdated:
		if msg.Note == nil {
			return
		}
		e.applyRemoteUpdate(ctx, fromWireNote(msg.Note.Note))

	case wire.TypeNoteDeleted:
		if msg.Delete == nil {
			return
		}
		e.applyRemoteDelete(ctx, msg.Delete.NoteID)

	case wire.TypeSyncRequired:
		reason := ""
		if msg.SyncRequired != nil {
			reason = msg.SyncRequired.Reason
		}
		e.logger.Info("server requested full resync", slog.String("reason", reason))
		e.registry.Publish(Event{Kind: EventResyncRequired, Reason: reason})
		e.pushPending(ctx, "sync_required")
	}
}

func (e *Engine) applyRemoteUpdate(ctx context.Context, remote Document) {
	e.mu.Lock()
	events := e.applyRemoteUpdateLocked(ctx, remote)
	e.mu.Unlock()
	for _, ev := range events {
		e.registry.Publish(ev)
	}
}

func (e *Engine) applyRemoteUpdateLocked(ctx context.Context, remote Document) []Event {
	local, err := e.store.Get(ctx, remote.ID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.logger.Error("store read failed during remote update",
				slog.String("document_id", remote.ID),
				slog.String("error", err.Error()))
			return nil
		}
		// New document from another device.
		remote.Status = StatusSynced
		if err := e.store.Put(ctx, remote); err != nil {
			e.logger.Error("failed to store new remote document",
				slog.String("document_id", remote.ID),
				slog.String("error", err.Error()))
			return nil
		}
		e.setBase(ctx, remote)
		doc := remote
		return []Event{{Kind: EventDocumentUpdated, Document: &doc, DocumentID: doc.ID}}
	}

	base := e.baseFor(ctx, remote.ID)
	resolution := Resolve(base, local, remote)
	e.logger.Debug("remote update resolved",
		slog.String("document_id", remote.ID),
		slog.String("resolution", resolution.String()))

	switch resolution {
	case ResolutionInSync:
		// Same content on both sides; settle bookkeeping.
		if local.Status != StatusSynced {
			local.Status = StatusSynced
			if err := e.store.Put(ctx, local); err != nil {
				e.logger.Error("failed to settle document status",
					slog.String("document_id", local.ID),
					slog.String("error", err.Error()))
			}
		}
		e.setBase(ctx, remote)
		return nil

	case ResolutionApplyRemote:
		remote.Status = StatusSynced
		if err := e.store.Put(ctx, remote); err != nil {
			e.logger.Error("failed to apply remote update",
				slog.String("document_id", remote.ID),
				slog.String("error", err.Error()))
			return nil
		}
		e.setBase(ctx, remote)
		doc := remote
		return []Event{{Kind: EventDocumentUpdated, Document: &doc, DocumentID: doc.ID}}

	case ResolutionPushLocal:
		// The server echoed state older than our pending edit; the next
		// push pass supersedes it.
		return nil

	case ResolutionConflict:
		return e.recordConflictLocked(ctx, local, remote)
	}
	return nil
}

func (e *Engine) recordConflictLocked(ctx context.Context, local, remote Document) []Event {
	if existing, ok := e.conflicts[local.ID]; ok {
		// Already surfaced; keep the remote side current.
		existing.Remote = remote.Clone()
		e.conflicts[local.ID] = existing
		return nil
	}

	c := SyncConflict{
		DocumentID: local.ID,
		Local:      local.Clone(),
		Remote:     remote.Clone(),
		DetectedAt: time.Now().UTC(),
	}
	e.conflicts[local.ID] = c
	e.metrics.RecordConflicts(len(e.conflicts))

	if local.Status != StatusConflict {
		local.Status = StatusConflict
		if err := e.store.Put(ctx, local); err != nil {
			e.logger.Error("failed to mark document conflicted",
				slog.String("document_id", local.ID),
				slog.String("error", err.Error()))
		}
	}

	e.logger.Warn("conflict detected",
		slog.String("document_id", c.DocumentID))

	conflict := c
	return []Event{{Kind: EventConflictDetected, Conflict: &conflict, DocumentID: c.DocumentID}}
}

func (e *Engine) applyRemoteDelete(ctx context.Context, id string) {
	e.mu.Lock()
	events := e.applyRemoteDeleteLocked(ctx, id)
	e.mu.Unlock()
	for _, ev := range events {
		e.registry.Publish(ev)
	}
}

func (e *Engine) applyRemoteDeleteLocked(ctx context.Context, id string) []Event {
	local, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.dropBase(ctx, id)
		} else {
			e.logger.Error("store read failed during remote delete",
				slog.String("document_id", id),
				slog.String("error", err.Error()))
		}
		return nil
	}

	base := e.baseFor(ctx, id)
	dirty := local.Status == StatusPending || local.Status == StatusConflict ||
		(base != nil && changedSince(local, *base))

	if dirty {
		// The remote copy is gone but local edits exist. Keep the local
		// copy pending; the next push recreates the note server-side.
		if _, ok := e.conflicts[id]; ok {
			delete(e.conflicts, id)
			e.metrics.RecordConflicts(len(e.conflicts))
		}
		local.Status = StatusPending
		if err := e.store.Put(ctx, local); err != nil {
			e.logger.Error("failed to keep locally edited document",
				slog.String("document_id", id),
				slog.String("error", err.Error()))
		}
		e.dropBase(ctx, id)
		e.logger.Info("remote deleted a locally edited document, keeping local copy",
			slog.String("document_id", id))
		return nil
	}

	if err := e.store.Delete(ctx, id); err != nil {
		e.logger.Error("failed to apply remote delete",
			slog.String("document_id", id),
			slog.String("error", err.Error()))
		return nil
	}
	e.dropBase(ctx, id)
	return []Event{{Kind: EventDocumentDeleted, DocumentID: id}}
}

// baseFor returns the base snapshot for a document, consulting the
// persistent base store on a memory miss.
func (e *Engine) baseFor(ctx context.Context, id string) *Document {
	if base, ok := e.memBases[id]; ok {
		b := base
		return &b
	}
	if e.bases == nil {
		return nil
	}
	base, err := e.bases.GetBase(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.logger.Warn("base store read failed",
				slog.String("document_id", id),
				slog.String("error", err.Error()))
		}
		return nil
	}
	e.memBases[id] = base.Clone()
	return &base
}

func (e *Engine) setBase(ctx context.Context, doc Document) {
	e.memBases[doc.ID] = doc.Clone()
	if e.bases == nil {
		return
	}
	if err := e.bases.PutBase(ctx, doc); err != nil {
		e.logger.Warn("base store write failed",
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) dropBase(ctx context.Context, id string) {
	delete(e.memBases, id)
	if e.bases == nil {
		return
	}
	if err := e.bases.DeleteBase(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		e.logger.Warn("base store delete failed",
			slog.String("document_id", id),
			slog.String("error", err.Error()))
	}
}
