package domain

import (
	"errors"
	"testing"
	"time"
)

func TestSlotNotesLifecycle(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	doc := MustDocument(map[string]any{"front": "coilover"})

	withNote, err := AddSlotNote(doc, ComponentNote{ID: "n1", Content: "check preload", UserID: 3, Timestamp: now})
	if err != nil {
		t.Fatalf("unexpected error adding note: %v", err)
	}
	notes, err := SlotNotes(withNote)
	if err != nil {
		t.Fatalf("unexpected error reading notes: %v", err)
	}
	if len(notes) != 1 || notes[0].Content != "check preload" {
		t.Fatalf("unexpected notes: %+v", notes)
	}
	if v, ok, _ := withNote.Lookup([]string{"front"}); !ok || v.Text() != "coilover" {
		t.Fatalf("expected other keys to survive")
	}

	edited, note, err := EditSlotNote(withNote, "n1", "preload set to 10mm", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error editing note: %v", err)
	}
	if note.Content != "preload set to 10mm" || note.EditedAt == nil {
		t.Fatalf("unexpected edited note: %+v", note)
	}

	if _, _, err := EditSlotNote(edited, "missing", "x", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	deleted, err := DeleteSlotNote(edited, "n1")
	if err != nil {
		t.Fatalf("unexpected error deleting note: %v", err)
	}
	notes, err = SlotNotes(deleted)
	if err != nil {
		t.Fatalf("unexpected error reading notes: %v", err)
	}
	if len(notes) != 0 {
		t.Fatalf("expected no notes, got %+v", notes)
	}
}

func TestAddSlotNoteToAbsentDocument(t *testing.T) {
	doc, err := AddSlotNote(Document{}, ComponentNote{ID: "n1", Content: "new slot", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.IsAbsent() {
		t.Fatalf("expected a document to be created")
	}

	if _, err := AddSlotNote(doc, ComponentNote{ID: "n2", Content: "   "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected blank note to be rejected, got %v", err)
	}
}
