// Package wire defines the message envelope exchanged over the sync channel
// and validates inbound frames against an embedded JSON Schema before they
// reach the rest of the module.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	kiterrors "github.com/c0deZ3R0/go-note-sync/errors"
)

// Type tags a message envelope. The tag set is closed: anything else is
// rejected at the boundary.
type Type string

// Client-to-server tags.
const (
	TypeNoteUpdate Type = "note_update"
	TypeNoteDelete Type = "note_delete"
	TypePing       Type = "ping"
)

// Server-to-client tags.
const (
	TypeNoteUpdated  Type = "note_updated"
	TypeNoteDeleted  Type = "note_deleted"
	TypeSyncRequired Type = "sync_required"
	TypePong         Type = "pong"
)

// Note is the wire representation of a document. Field names follow the
// server's JSON contract.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NotePayload carries a full note snapshot for note_update/note_updated.
type NotePayload struct {
	Note   Note   `json:"note"`
	UserID string `json:"userId,omitempty"`
}

// DeletePayload carries a deletion for note_delete/note_deleted.
type DeletePayload struct {
	NoteID string `json:"noteId"`
	UserID string `json:"userId,omitempty"`
}

// SyncRequiredPayload asks the client to run a full reconciliation pass.
type SyncRequiredPayload struct {
	Reason string `json:"reason,omitempty"`
}

// Message is the decoded form of an envelope. Exactly one payload pointer is
// non-nil for note/delete/sync_required tags; ping and pong carry none.
type Message struct {
	Type         Type
	Timestamp    time.Time
	Note         *NotePayload
	Delete       *DeletePayload
	SyncRequired *SyncRequiredPayload
}

// envelope is the raw JSON shape on the wire.
type envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

var emptyPayload = json.RawMessage(`{}`)

// NewNoteUpdate builds a client-side note_update message.
func NewNoteUpdate(note Note, userID string) Message {
	return Message{
		Type:      TypeNoteUpdate,
		Timestamp: time.Now().UTC(),
		Note:      &NotePayload{Note: note, UserID: userID},
	}
}

// NewNoteDelete builds a client-side note_delete message.
func NewNoteDelete(noteID, userID string) Message {
	return Message{
		Type:      TypeNoteDelete,
		Timestamp: time.Now().UTC(),
		Delete:    &DeletePayload{NoteID: noteID, UserID: userID},
	}
}

// NewPing builds a heartbeat probe.
func NewPing() Message {
	return Message{Type: TypePing, Timestamp: time.Now().UTC()}
}

// NewPong builds a heartbeat reply. Servers send these; it exists here so
// tests can fake a server end.
func NewPong() Message {
	return Message{Type: TypePong, Timestamp: time.Now().UTC()}
}

// NewNoteUpdated builds a server-side note_updated message (test servers).
func NewNoteUpdated(note Note, userID string) Message {
	return Message{
		Type:      TypeNoteUpdated,
		Timestamp: time.Now().UTC(),
		Note:      &NotePayload{Note: note, UserID: userID},
	}
}

// NewNoteDeleted builds a server-side note_deleted message (test servers).
func NewNoteDeleted(noteID, userID string) Message {
	return Message{
		Type:      TypeNoteDeleted,
		Timestamp: time.Now().UTC(),
		Delete:    &DeletePayload{NoteID: noteID, UserID: userID},
	}
}

// NewSyncRequired builds a server-side sync_required message (test servers).
func NewSyncRequired(reason string) Message {
	return Message{
		Type:         TypeSyncRequired,
		Timestamp:    time.Now().UTC(),
		SyncRequired: &SyncRequiredPayload{Reason: reason},
	}
}

// Encode serializes a message into its wire envelope.
func Encode(m Message) ([]byte, error) {
	env := envelope{
		Type:      string(m.Type),
		Timestamp: m.Timestamp,
		Payload:   emptyPayload,
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	var payload interface{}
	switch m.Type {
	case TypeNoteUpdate, TypeNoteUpdated:
		if m.Note == nil {
			return nil, kiterrors.NewValidationError(kiterrors.OpSend,
				fmt.Errorf("%s message has no note payload", m.Type))
		}
		payload = m.Note
	case TypeNoteDelete, TypeNoteDeleted:
		if m.Delete == nil {
			return nil, kiterrors.NewValidationError(kiterrors.OpSend,
				fmt.Errorf("%s message has no delete payload", m.Type))
		}
		payload = m.Delete
	case TypeSyncRequired:
		if m.SyncRequired == nil {
			return nil, kiterrors.NewValidationError(kiterrors.OpSend,
				fmt.Errorf("%s message has no payload", m.Type))
		}
		payload = m.SyncRequired
	case TypePing, TypePong:
		// empty payload
	default:
		return nil, kiterrors.NewValidationError(kiterrors.OpSend,
			fmt.Errorf("unknown message type %q", m.Type))
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, kiterrors.NewValidationError(kiterrors.OpSend, err)
		}
		env.Payload = raw
	}

	return json.Marshal(env)
}

// Decode validates a raw frame against the message schema and unmarshals it
// into a typed Message. Invalid frames yield a validation-kind error; callers
// drop the frame, they never tear the connection down over it.
func Decode(data []byte) (Message, error) {
	if err := Validate(data); err != nil {
		return Message{}, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, kiterrors.NewValidationError(kiterrors.OpReceive, err)
	}

	msg := Message{
		Type:      Type(env.Type),
		Timestamp: env.Timestamp,
	}

	switch msg.Type {
	case TypeNoteUpdate, TypeNoteUpdated:
		var p NotePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Message{}, kiterrors.NewValidationError(kiterrors.OpReceive, err)
		}
		msg.Note = &p
	case TypeNoteDelete, TypeNoteDeleted:
		var p DeletePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Message{}, kiterrors.NewValidationError(kiterrors.OpReceive, err)
		}
		msg.Delete = &p
	case TypeSyncRequired:
		var p SyncRequiredPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Message{}, kiterrors.NewValidationError(kiterrors.OpReceive, err)
		}
		msg.SyncRequired = &p
	case TypePing, TypePong:
		// nothing to decode
	}

	return msg, nil
}
