package domain

import (
	"fmt"
	"time"
)

// SnapshotType tags why a snapshot was captured. Only the constants below are valid.
type SnapshotType string

const (
	SnapshotTypeInitial               SnapshotType = "initial"
	SnapshotTypeBeforeChange          SnapshotType = "before_change"
	SnapshotTypeManualEdit            SnapshotType = "manual_edit"
	SnapshotTypeBeforeMaintenance     SnapshotType = "before_maintenance"
	SnapshotTypeMaintenance           SnapshotType = "maintenance"
	SnapshotTypeMaintenanceEdit       SnapshotType = "maintenance_edit"
	SnapshotTypeBeforeMaintenanceEdit SnapshotType = "before_maintenance_edit"
	SnapshotTypeNoteAdd               SnapshotType = "note_add"
	SnapshotTypeNoteEdit              SnapshotType = "note_edit"
	SnapshotTypeNoteDelete            SnapshotType = "note_delete"
	SnapshotTypeBeforeRestore         SnapshotType = "before_restore"
	SnapshotTypeRestored              SnapshotType = "restored"
)

var snapshotTypes = []SnapshotType{
	SnapshotTypeInitial,
	SnapshotTypeBeforeChange,
	SnapshotTypeManualEdit,
	SnapshotTypeBeforeMaintenance,
	SnapshotTypeMaintenance,
	SnapshotTypeMaintenanceEdit,
	SnapshotTypeBeforeMaintenanceEdit,
	SnapshotTypeNoteAdd,
	SnapshotTypeNoteEdit,
	SnapshotTypeNoteDelete,
	SnapshotTypeBeforeRestore,
	SnapshotTypeRestored,
}

// ParseSnapshotType rejects tags outside the vocabulary.
func ParseSnapshotType(raw string) (SnapshotType, error) {
	for _, t := range snapshotTypes {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSnapshotType, raw)
}

func (t SnapshotType) Valid() bool {
	_, err := ParseSnapshotType(string(t))
	return err == nil
}

func (t *SnapshotType) UnmarshalText(text []byte) error {
	parsed, err := ParseSnapshotType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Snapshot is an immutable copy of every slot document of a build.
type Snapshot struct {
	ID            int64        `json:"id"`
	BuildID       int64        `json:"build_id"`
	MaintenanceID *int64       `json:"maintenance_id,omitempty"`
	Type          SnapshotType `json:"snapshot_type"`
	Description   string       `json:"change_description"`
	UserID        int64        `json:"user_id"`
	Slots         SlotSet      `json:"slots"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Meta returns the display metadata carried by diff results.
func (s Snapshot) Meta() SnapshotMeta {
	return SnapshotMeta{
		ID:          s.ID,
		Type:        s.Type,
		Description: s.Description,
		CreatedAt:   s.CreatedAt,
	}
}

// SnapshotSummary is a history entry annotated with the actor and any linked maintenance record.
type SnapshotSummary struct {
	Snapshot
	UserName         string  `json:"user_name"`
	UserEmail        string  `json:"user_email"`
	MaintenanceType  *string `json:"maintenance_type,omitempty"`
	MaintenanceNotes *string `json:"maintenance_notes,omitempty"`
}

type SnapshotMeta struct {
	ID          int64        `json:"id"`
	Type        SnapshotType `json:"snapshot_type"`
	Description string       `json:"change_description"`
	CreatedAt   time.Time    `json:"created_at"`
}

// SlotChange holds both sides of a slot that differs between two snapshots.
type SlotChange struct {
	Before     Document `json:"before"`
	After      Document `json:"after"`
	HasChanges bool     `json:"has_changes"`
}

type SnapshotDiff struct {
	Before  SnapshotMeta        `json:"before_snapshot"`
	After   SnapshotMeta        `json:"after_snapshot"`
	Changes map[Slot]SlotChange `json:"changes"`
}

// DiffSlots compares every slot by value and keeps only those that differ,
// including absent versus present.
func DiffSlots(before, after SlotSet) map[Slot]SlotChange {
	changes := make(map[Slot]SlotChange)
	for _, slot := range Slots {
		b, a := before.Get(slot), after.Get(slot)
		if b.Equal(a) {
			continue
		}
		changes[slot] = SlotChange{Before: b, After: a, HasChanges: true}
	}
	return changes
}
