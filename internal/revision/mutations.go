package revision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
)

func slotLabel(slot domain.Slot) string {
	return strings.ReplaceAll(slot.String(), "_", " ")
}

// writeSlot returns an apply step that replaces one slot document.
func (c *Coordinator) writeSlot(buildID int64, slot domain.Slot, doc domain.Document) func(dbctx.Context) (Applied, error) {
	return func(dbc dbctx.Context) (Applied, error) {
		patch := domain.BuildPatch{Slots: domain.SlotSet{slot: doc}}
		if err := c.builds.ApplyPatch(dbc, buildID, patch); err != nil {
			return Applied{}, fmt.Errorf("failed to write %s: %w", slot, err)
		}
		return Applied{}, nil
	}
}

// ReplaceSlotRequest replaces one component slot wholesale.
type ReplaceSlotRequest struct {
	BuildID  int64
	UserID   int64
	Slot     domain.Slot
	Document json.RawMessage
}

func (c *Coordinator) ReplaceSlot(dbc dbctx.Context, req ReplaceSlotRequest) (Result, error) {
	doc, err := parseSlotDocument(req.Slot, req.Document)
	if err != nil {
		return Result{}, err
	}
	if _, err := c.builds.GetOwner(dbc, req.BuildID); err != nil {
		return Result{}, err
	}
	label := slotLabel(req.Slot)
	return c.Run(dbc, Mutation{
		BuildID: req.BuildID,
		UserID:  req.UserID,
		Before:  Capture{Type: domain.SnapshotTypeBeforeChange, Description: fmt.Sprintf("Before %s update", label)},
		After:   Capture{Type: domain.SnapshotTypeManualEdit, Description: fmt.Sprintf("Updated %s", label)},
		Apply:   c.writeSlot(req.BuildID, req.Slot, doc),
	})
}

// GetMaintenance returns one maintenance record.
func (c *Coordinator) GetMaintenance(dbc dbctx.Context, id int64) (domain.MaintenanceRecord, error) {
	return c.maintenance.GetByID(dbc, id)
}

// RecordMaintenance stores a maintenance record between before_maintenance and
// maintenance snapshots; the latter links back to the record.
func (c *Coordinator) RecordMaintenance(dbc dbctx.Context, userID int64, record domain.MaintenanceRecord) (domain.MaintenanceRecord, Result, error) {
	if err := record.Validate(); err != nil {
		return domain.MaintenanceRecord{}, Result{}, err
	}
	if _, err := c.builds.GetOwner(dbc, record.BuildID); err != nil {
		return domain.MaintenanceRecord{}, Result{}, err
	}

	var saved domain.MaintenanceRecord
	result, err := c.Run(dbc, Mutation{
		BuildID: record.BuildID,
		UserID:  userID,
		Before:  Capture{Type: domain.SnapshotTypeBeforeMaintenance, Description: fmt.Sprintf("Before %s", record.MaintenanceType)},
		After:   Capture{Type: domain.SnapshotTypeMaintenance, Description: fmt.Sprintf("%s completed", record.MaintenanceType)},
		Apply: func(dbc dbctx.Context) (Applied, error) {
			created, err := c.maintenance.Create(dbc, record)
			if err != nil {
				return Applied{}, fmt.Errorf("failed to create maintenance record: %w", err)
			}
			saved = created
			return Applied{MaintenanceID: &saved.ID}, nil
		},
	})
	if err != nil {
		return domain.MaintenanceRecord{}, result, err
	}
	return saved, result, nil
}

// EditMaintenance overwrites a maintenance record between
// before_maintenance_edit and maintenance_edit snapshots.
func (c *Coordinator) EditMaintenance(dbc dbctx.Context, userID, id int64, update domain.MaintenanceRecord) (domain.MaintenanceRecord, Result, error) {
	existing, err := c.maintenance.GetByID(dbc, id)
	if err != nil {
		return domain.MaintenanceRecord{}, Result{}, err
	}
	update.ID = existing.ID
	update.BuildID = existing.BuildID
	if err := update.Validate(); err != nil {
		return domain.MaintenanceRecord{}, Result{}, err
	}

	var saved domain.MaintenanceRecord
	result, err := c.Run(dbc, Mutation{
		BuildID: existing.BuildID,
		UserID:  userID,
		Before:  Capture{Type: domain.SnapshotTypeBeforeMaintenanceEdit, Description: fmt.Sprintf("Before editing %s", existing.MaintenanceType)},
		After:   Capture{Type: domain.SnapshotTypeMaintenanceEdit, Description: fmt.Sprintf("Edited %s", update.MaintenanceType)},
		Apply: func(dbc dbctx.Context) (Applied, error) {
			updated, err := c.maintenance.Update(dbc, update)
			if err != nil {
				return Applied{}, fmt.Errorf("failed to update maintenance record: %w", err)
			}
			saved = updated
			return Applied{MaintenanceID: &saved.ID}, nil
		},
	})
	if err != nil {
		return domain.MaintenanceRecord{}, result, err
	}
	return saved, result, nil
}

// NoteRequest addresses a note in one slot of a build.
type NoteRequest struct {
	BuildID int64
	UserID  int64
	Slot    domain.Slot
	NoteID  string
	Content string
}

// noteMutation computes the new slot document up front so a missing note or
// empty content fails before any snapshot is taken.
func (c *Coordinator) noteMutation(
	dbc dbctx.Context,
	req NoteRequest,
	edit func(domain.Document) (domain.Document, error),
	after Capture,
) (Result, error) {
	slots, err := c.builds.GetSlots(dbc, req.BuildID)
	if err != nil {
		return Result{}, err
	}
	doc, err := edit(slots.Get(req.Slot))
	if err != nil {
		return Result{}, err
	}
	if err := checkSlotSize(req.Slot, doc); err != nil {
		return Result{}, err
	}
	return c.Run(dbc, Mutation{
		BuildID: req.BuildID,
		UserID:  req.UserID,
		Before:  Capture{Type: domain.SnapshotTypeBeforeChange, Description: fmt.Sprintf("Before %s note change", slotLabel(req.Slot))},
		After:   after,
		Apply:   c.writeSlot(req.BuildID, req.Slot, doc),
	})
}

func (c *Coordinator) AddNote(dbc dbctx.Context, req NoteRequest) (domain.ComponentNote, Result, error) {
	note := domain.ComponentNote{
		ID:        uuid.NewString(),
		Content:   strings.TrimSpace(req.Content),
		UserID:    req.UserID,
		Timestamp: c.now().UTC(),
	}
	result, err := c.noteMutation(dbc, req, func(doc domain.Document) (domain.Document, error) {
		return domain.AddSlotNote(doc, note)
	}, Capture{Type: domain.SnapshotTypeNoteAdd, Description: fmt.Sprintf("Added note to %s", slotLabel(req.Slot))})
	if err != nil {
		return domain.ComponentNote{}, result, err
	}
	return note, result, nil
}

func (c *Coordinator) EditNote(dbc dbctx.Context, req NoteRequest) (domain.ComponentNote, Result, error) {
	var edited domain.ComponentNote
	result, err := c.noteMutation(dbc, req, func(doc domain.Document) (domain.Document, error) {
		updated, note, err := domain.EditSlotNote(doc, req.NoteID, strings.TrimSpace(req.Content), c.now().UTC())
		edited = note
		return updated, err
	}, Capture{Type: domain.SnapshotTypeNoteEdit, Description: fmt.Sprintf("Edited note on %s", slotLabel(req.Slot))})
	if err != nil {
		return domain.ComponentNote{}, result, err
	}
	return edited, result, nil
}

func (c *Coordinator) DeleteNote(dbc dbctx.Context, req NoteRequest) (Result, error) {
	return c.noteMutation(dbc, req, func(doc domain.Document) (domain.Document, error) {
		return domain.DeleteSlotNote(doc, req.NoteID)
	}, Capture{Type: domain.SnapshotTypeNoteDelete, Description: fmt.Sprintf("Deleted note from %s", slotLabel(req.Slot))})
}
