package notesync

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when a document does not exist.
var ErrNotFound = errors.New("document not found")

// DocumentStore is the local persistence the engine reconciles against. The
// engine is the only writer; readers elsewhere are fine.
type DocumentStore interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, id string) (Document, error)

	// Put inserts or replaces a document.
	Put(ctx context.Context, doc Document) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, id string) error

	// ListPending returns documents whose status is pending.
	ListPending(ctx context.Context) ([]Document, error)
}

// BaseStore is an optional capability: stores that implement it persist the
// base snapshots used for three-way resolution, so conflicts survive a
// process restart. Without it the engine keeps bases in memory.
type BaseStore interface {
	// GetBase returns the base snapshot or ErrNotFound.
	GetBase(ctx context.Context, id string) (Document, error)

	// PutBase inserts or replaces a base snapshot.
	PutBase(ctx context.Context, doc Document) error

	// DeleteBase removes a base snapshot. Missing is not an error.
	DeleteBase(ctx context.Context, id string) error
}
