package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const notesKey = "notes"

// ComponentNote is a free-text note kept inside a slot document under "notes".
type ComponentNote struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	UserID    int64      `json:"user_id"`
	Timestamp time.Time  `json:"timestamp"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
}

// SlotNotes returns the notes stored in a slot document, oldest first.
func SlotNotes(doc Document) ([]ComponentNote, error) {
	tree, err := doc.Map()
	if err != nil {
		return nil, err
	}
	return notesFromTree(tree)
}

// AddSlotNote appends note to the document, creating the document when absent.
func AddSlotNote(doc Document, note ComponentNote) (Document, error) {
	if strings.TrimSpace(note.Content) == "" {
		return Document{}, fmt.Errorf("%w: note content is required", ErrInvalidInput)
	}
	tree, notes, err := loadNotes(doc)
	if err != nil {
		return Document{}, err
	}
	notes = append(notes, note)
	return storeNotes(tree, notes)
}

// EditSlotNote replaces the content of the note with the given id.
func EditSlotNote(doc Document, noteID, content string, at time.Time) (Document, ComponentNote, error) {
	if strings.TrimSpace(content) == "" {
		return Document{}, ComponentNote{}, fmt.Errorf("%w: note content is required", ErrInvalidInput)
	}
	tree, notes, err := loadNotes(doc)
	if err != nil {
		return Document{}, ComponentNote{}, err
	}
	for i := range notes {
		if notes[i].ID != noteID {
			continue
		}
		notes[i].Content = content
		edited := at
		notes[i].EditedAt = &edited
		updated, err := storeNotes(tree, notes)
		if err != nil {
			return Document{}, ComponentNote{}, err
		}
		return updated, notes[i], nil
	}
	return Document{}, ComponentNote{}, fmt.Errorf("%w: note %s", ErrNotFound, noteID)
}

// DeleteSlotNote removes the note with the given id.
func DeleteSlotNote(doc Document, noteID string) (Document, error) {
	tree, notes, err := loadNotes(doc)
	if err != nil {
		return Document{}, err
	}
	for i := range notes {
		if notes[i].ID == noteID {
			notes = append(notes[:i], notes[i+1:]...)
			return storeNotes(tree, notes)
		}
	}
	return Document{}, fmt.Errorf("%w: note %s", ErrNotFound, noteID)
}

func loadNotes(doc Document) (map[string]any, []ComponentNote, error) {
	tree, err := doc.Map()
	if err != nil {
		return nil, nil, err
	}
	if tree == nil {
		tree = map[string]any{}
	}
	notes, err := notesFromTree(tree)
	if err != nil {
		return nil, nil, err
	}
	return tree, notes, nil
}

func notesFromTree(tree map[string]any) ([]ComponentNote, error) {
	raw, ok := tree[notesKey]
	if !ok || raw == nil {
		return []ComponentNote{}, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notes: %w", err)
	}
	var notes []ComponentNote
	if err := json.Unmarshal(encoded, &notes); err != nil {
		return nil, fmt.Errorf("%w: slot notes are malformed: %v", ErrInvalidInput, err)
	}
	return notes, nil
}

func storeNotes(tree map[string]any, notes []ComponentNote) (Document, error) {
	tree[notesKey] = notes
	return NewDocument(tree)
}
