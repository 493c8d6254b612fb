// Package notesync implements offline-first synchronization for a personal
// note store: a reconnecting transport channel, three-way conflict
// resolution, and an engine that reconciles local documents against remote
// updates without ever silently discarding a divergent edit.
package notesync

import (
	"sort"
	"time"

	"github.com/c0deZ3R0/go-note-sync/wire"
)

// SyncStatus is the per-document synchronization state.
type SyncStatus string

const (
	// StatusSynced means local and remote agree as far as this client knows.
	StatusSynced SyncStatus = "synced"

	// StatusPending means a local edit has not reached the server yet.
	StatusPending SyncStatus = "pending"

	// StatusSyncing means a push for this document is in flight.
	StatusSyncing SyncStatus = "syncing"

	// StatusConflict means local and remote diverged and a human has to pick.
	StatusConflict SyncStatus = "conflict"

	// StatusError means the last push attempt failed non-retryably.
	StatusError SyncStatus = "error"
)

// Document is a note as the sync layer sees it.
type Document struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Tags      []string   `json:"tags,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Status    SyncStatus `json:"status"`
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	out := d
	if d.Tags != nil {
		out.Tags = append([]string(nil), d.Tags...)
	}
	return out
}

// ContentEquals reports whether two documents carry the same user-visible
// content: title, body and normalized tag set. Status and timestamps are
// bookkeeping, not content.
func (d Document) ContentEquals(other Document) bool {
	if d.Title != other.Title || d.Content != other.Content {
		return false
	}
	a := NormalizeTags(d.Tags)
	b := NormalizeTags(other.Tags)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// NormalizeTags returns a sorted, deduplicated copy of tags.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := append([]string(nil), tags...)
	sort.Strings(out)
	dedup := out[:1]
	for _, tag := range out[1:] {
		if tag != dedup[len(dedup)-1] {
			dedup = append(dedup, tag)
		}
	}
	return dedup
}

// SyncConflict records a divergence awaiting manual resolution. At most one
// exists per document at a time.
type SyncConflict struct {
	DocumentID string    `json:"documentId"`
	Local      Document  `json:"local"`
	Remote     Document  `json:"remote"`
	DetectedAt time.Time `json:"detectedAt"`
}

// SyncResult summarizes one reconciliation pass.
type SyncResult struct {
	// Synced lists documents whose local edits were pushed this pass.
	Synced []Document

	// Conflicts lists divergences surfaced this pass.
	Conflicts []SyncConflict

	// Errors contains per-document failures; the pass continues past them.
	Errors []error

	// StartTime is when the pass began.
	StartTime time.Time

	// Duration is how long the pass took.
	Duration time.Duration
}

// Success reports whether the pass completed without errors. Conflicts are
// not errors.
func (r *SyncResult) Success() bool {
	return len(r.Errors) == 0
}

func toWireNote(d Document) wire.Note {
	return wire.Note{
		ID:        d.ID,
		Title:     d.Title,
		Content:   d.Content,
		Tags:      NormalizeTags(d.Tags),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func fromWireNote(n wire.Note) Document {
	return Document{
		ID:        n.ID,
		Title:     n.Title,
		Content:   n.Content,
		Tags:      NormalizeTags(n.Tags),
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}
