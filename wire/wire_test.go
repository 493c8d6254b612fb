package wire

import (
	"testing"
	"time"

	kiterrors "github.com/c0deZ3R0/go-note-sync/errors"
)

func testNote() Note {
	return Note{
		ID:        "note-1",
		Title:     "Groceries",
		Content:   "milk, eggs",
		Tags:      []string{"home"},
		CreatedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 6, 2, 11, 30, 0, 0, time.UTC),
	}
}

func TestEncodeDecode_NoteUpdate(t *testing.T) {
	msg := NewNoteUpdate(testNote(), "user-1")

	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if decoded.Type != TypeNoteUpdate {
		t.Errorf("Type = %v, want %v", decoded.Type, TypeNoteUpdate)
	}
	if decoded.Note == nil {
		t.Fatal("Note payload is nil")
	}
	if decoded.Note.Note.ID != "note-1" {
		t.Errorf("Note.ID = %q, want %q", decoded.Note.Note.ID, "note-1")
	}
	if decoded.Note.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", decoded.Note.UserID, "user-1")
	}
	if !decoded.Note.Note.UpdatedAt.Equal(testNote().UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", decoded.Note.Note.UpdatedAt, testNote().UpdatedAt)
	}
	if decoded.Delete != nil || decoded.SyncRequired != nil {
		t.Error("unexpected extra payloads on note_update")
	}
}

func TestEncodeDecode_NoteDelete(t *testing.T) {
	data, err := Encode(NewNoteDelete("note-9", "user-1"))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Type != TypeNoteDelete {
		t.Errorf("Type = %v, want %v", decoded.Type, TypeNoteDelete)
	}
	if decoded.Delete == nil || decoded.Delete.NoteID != "note-9" {
		t.Errorf("Delete payload = %+v, want NoteID note-9", decoded.Delete)
	}
}

func TestEncodeDecode_Heartbeat(t *testing.T) {
	for _, build := range []func() Message{NewPing, NewPong} {
		msg := build()
		data, err := Encode(msg)
		if err != nil {
			t.Fatalf("Encode(%s) error = %v", msg.Type, err)
		}
		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", msg.Type, err)
		}
		if decoded.Type != msg.Type {
			t.Errorf("Type = %v, want %v", decoded.Type, msg.Type)
		}
		if decoded.Note != nil || decoded.Delete != nil || decoded.SyncRequired != nil {
			t.Errorf("%s should carry no payload", msg.Type)
		}
	}
}

func TestEncodeDecode_SyncRequired(t *testing.T) {
	data, err := Encode(NewSyncRequired("server_restart"))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.SyncRequired == nil || decoded.SyncRequired.Reason != "server_restart" {
		t.Errorf("SyncRequired payload = %+v", decoded.SyncRequired)
	}
}

func TestDecode_RejectsInvalidFrames(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "not json",
			data: `pong!`,
		},
		{
			name: "unknown type tag",
			data: `{"type":"note_renamed","payload":{},"timestamp":"2025-06-01T10:00:00Z"}`,
		},
		{
			name: "missing timestamp",
			data: `{"type":"ping","payload":{}}`,
		},
		{
			name: "timestamp not a date",
			data: `{"type":"ping","payload":{},"timestamp":"yesterday"}`,
		},
		{
			name: "payload not an object",
			data: `{"type":"ping","payload":"","timestamp":"2025-06-01T10:00:00Z"}`,
		},
		{
			name: "note_updated without note",
			data: `{"type":"note_updated","payload":{"userId":"u1"},"timestamp":"2025-06-01T10:00:00Z"}`,
		},
		{
			name: "note missing id",
			data: `{"type":"note_updated","payload":{"note":{"title":"x","content":"y","updatedAt":"2025-06-01T10:00:00Z"}},"timestamp":"2025-06-01T10:00:00Z"}`,
		},
		{
			name: "note_deleted with empty noteId",
			data: `{"type":"note_deleted","payload":{"noteId":""},"timestamp":"2025-06-01T10:00:00Z"}`,
		},
		{
			name: "extra top-level field",
			data: `{"type":"ping","payload":{},"timestamp":"2025-06-01T10:00:00Z","extra":1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if err == nil {
				t.Fatal("Decode() accepted an invalid frame")
			}
			if !kiterrors.IsKind(err, kiterrors.KindValidation) {
				t.Errorf("error kind = %v, want %v", kiterrors.KindOf(err), kiterrors.KindValidation)
			}
			if kiterrors.IsRetryable(err) {
				t.Error("validation errors must not be retryable")
			}
		})
	}
}

func TestDecode_AcceptsValidServerFrames(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "note_updated",
			data: `{"type":"note_updated","payload":{"note":{"id":"n1","title":"t","content":"c","updatedAt":"2025-06-01T10:00:00Z"},"userId":"u1"},"timestamp":"2025-06-01T10:00:01Z"}`,
		},
		{
			name: "note_deleted",
			data: `{"type":"note_deleted","payload":{"noteId":"n1"},"timestamp":"2025-06-01T10:00:01Z"}`,
		},
		{
			name: "sync_required without reason",
			data: `{"type":"sync_required","payload":{},"timestamp":"2025-06-01T10:00:01Z"}`,
		},
		{
			name: "pong",
			data: `{"type":"pong","payload":{},"timestamp":"2025-06-01T10:00:01Z"}`,
		},
		{
			name: "payload with unknown extra fields",
			data: `{"type":"pong","payload":{"serverTime":"2025-06-01T10:00:01Z"},"timestamp":"2025-06-01T10:00:01Z"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.data)); err != nil {
				t.Errorf("Decode() error = %v", err)
			}
		})
	}
}

func TestEncode_RejectsMissingPayload(t *testing.T) {
	_, err := Encode(Message{Type: TypeNoteUpdate, Timestamp: time.Now()})
	if err == nil {
		t.Fatal("Encode() accepted note_update without payload")
	}
	if !kiterrors.IsKind(err, kiterrors.KindValidation) {
		t.Errorf("error kind = %v, want validation", kiterrors.KindOf(err))
	}
}

func TestEncode_RejectsUnknownType(t *testing.T) {
	if _, err := Encode(Message{Type: Type("gossip")}); err == nil {
		t.Fatal("Encode() accepted unknown type")
	}
}
