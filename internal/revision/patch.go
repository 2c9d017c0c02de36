package revision

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
	"github.com/rpattn/buildtrack/pkg/validator"
)

// PatchRequest is a partial update keyed by column or slot name.
type PatchRequest struct {
	BuildID     int64
	UserID      int64
	Changes     map[string]json.RawMessage
	Description string
	Provenance  *domain.Provenance
}

type PatchResult struct {
	NoChanges bool                          `json:"no_changes"`
	BatchID   domain.BatchID                `json:"batch_id"`
	Changes   map[string]domain.ValueChange `json:"changes"`
	Warnings  []string                      `json:"warnings,omitempty"`
}

// patchPlan is a partial update resolved against the current build.
type patchPlan struct {
	patch    domain.BuildPatch
	changes  map[string]domain.ValueChange
	warnings []string
}

// PatchBuild applies a partial update and logs it as one batch. Scalar columns
// are included only when their value changes; slots are always replaced whole
// and always logged. An update with nothing to change writes nothing.
func (c *Coordinator) PatchBuild(dbc dbctx.Context, req PatchRequest) (PatchResult, error) {
	if len(req.Changes) == 0 {
		return PatchResult{NoChanges: true, Changes: map[string]domain.ValueChange{}}, nil
	}
	current, err := c.builds.GetByID(dbc, req.BuildID)
	if err != nil {
		return PatchResult{}, err
	}

	plan, err := planPatch(current, req.Changes)
	if err != nil {
		return PatchResult{}, err
	}
	if plan.patch.IsEmpty() {
		return PatchResult{NoChanges: true, Changes: map[string]domain.ValueChange{}, Warnings: plan.warnings}, nil
	}

	if err := c.builds.ApplyPatch(dbc, req.BuildID, plan.patch); err != nil {
		return PatchResult{}, fmt.Errorf("failed to update build %d: %w", req.BuildID, err)
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = describePatch(plan.changes)
	}
	batchID, err := c.events.LogChangesBatch(dbc, req.BuildID, req.UserID, plan.changes, description, req.Provenance)
	if err != nil {
		return PatchResult{}, err
	}
	c.log.Info("build patched", "build_id", req.BuildID, "batch_id", batchID, "fields", len(plan.changes))
	return PatchResult{BatchID: batchID, Changes: plan.changes, Warnings: plan.warnings}, nil
}

func planPatch(current domain.Build, raw map[string]json.RawMessage) (patchPlan, error) {
	plan := patchPlan{
		patch:   domain.BuildPatch{Fields: map[string]any{}, Slots: domain.SlotSet{}},
		changes: map[string]domain.ValueChange{},
	}

	columns := map[string]any{}
	for key, payload := range raw {
		if _, ok := domain.LookupColumn(key); ok {
			decoded, err := decodePayload(key, payload)
			if err != nil {
				return patchPlan{}, err
			}
			columns[key] = decoded
			continue
		}

		slot, err := domain.ParseSlot(key)
		if err != nil {
			return patchPlan{}, fmt.Errorf("%w: unknown build field %q", domain.ErrInvalidInput, key)
		}
		if _, dup := plan.patch.Slots[slot]; dup {
			return patchPlan{}, fmt.Errorf("%w: slot %s given more than once", domain.ErrInvalidInput, slot)
		}
		doc, err := parseSlotDocument(slot, payload)
		if err != nil {
			return patchPlan{}, err
		}
		old, err := domain.ValueOf(current.Slots.Get(slot))
		if err != nil {
			return patchPlan{}, err
		}
		next, err := domain.ValueOf(doc)
		if err != nil {
			return patchPlan{}, err
		}
		plan.patch.Slots[slot] = doc
		plan.changes[slot.String()] = domain.ValueChange{Old: old, New: next}
	}

	normalized, warnings, err := normalizeColumns(columns)
	if err != nil {
		return patchPlan{}, err
	}
	plan.warnings = warnings
	for name, value := range normalized {
		old, err := domain.ValueOf(current.Field(name))
		if err != nil {
			return patchPlan{}, err
		}
		next, err := domain.ValueOf(value)
		if err != nil {
			return patchPlan{}, err
		}
		if old.Equal(next) {
			continue
		}
		plan.patch.Fields[name] = value
		plan.changes[name] = domain.ValueChange{Old: old, New: next}
	}
	return plan, nil
}

// normalizeColumns type-checks column values and converts them to their stored
// form. Rule violations such as a negative horsepower come back as warnings.
func normalizeColumns(columns map[string]any) (map[string]any, []string, error) {
	if len(columns) == 0 {
		return map[string]any{}, nil, nil
	}
	cv := validator.NewColumnValidator()
	result := cv.ValidateProperties(columns, domain.ColumnDefinitions())
	if !result.IsValid {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(result.Messages(), "; "))
	}
	var warnings []string
	for _, warning := range result.Warnings {
		warnings = append(warnings, warning.Message)
	}
	sort.Strings(warnings)

	out := make(map[string]any, len(columns))
	for name, value := range columns {
		column, _ := domain.LookupColumn(name)
		normalized, err := cv.Normalize(name, value, column.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		out[name] = normalized
	}
	return out, warnings, nil
}

func decodePayload(key string, payload json.RawMessage) (any, error) {
	value, err := domain.ParseValue(payload)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", key, err)
	}
	return value.Decode()
}

// parseSlotDocument enforces the per-slot size limit on the encoded document.
func parseSlotDocument(slot domain.Slot, payload json.RawMessage) (domain.Document, error) {
	doc, err := domain.ParseDocument(payload)
	if err != nil {
		return domain.Document{}, fmt.Errorf("slot %s: %w", slot, err)
	}
	if err := checkSlotSize(slot, doc); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

func checkSlotSize(slot domain.Slot, doc domain.Document) error {
	if doc.Size() > domain.MaxSlotBytes {
		return fmt.Errorf("%w: slot %s is %d bytes, limit is %d", domain.ErrInvalidInput, slot, doc.Size(), domain.MaxSlotBytes)
	}
	return nil
}

func describePatch(changes map[string]domain.ValueChange) string {
	fields := make([]string, 0, len(changes))
	for field := range changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "Updated " + strings.Join(fields, ", ")
}

// CreateBuildRequest carries the initial column values and slot documents.
type CreateBuildRequest struct {
	UserID int64
	Fields map[string]json.RawMessage
	Slots  map[string]json.RawMessage
}

// CreateBuild stores a new build and captures its initial snapshot.
func (c *Coordinator) CreateBuild(dbc dbctx.Context, req CreateBuildRequest) (domain.Build, int64, error) {
	columns := map[string]any{}
	for key, payload := range req.Fields {
		if _, ok := domain.LookupColumn(key); !ok {
			return domain.Build{}, 0, fmt.Errorf("%w: unknown build column %q", domain.ErrInvalidInput, key)
		}
		decoded, err := decodePayload(key, payload)
		if err != nil {
			return domain.Build{}, 0, err
		}
		columns[key] = decoded
	}
	normalized, _, err := normalizeColumns(columns)
	if err != nil {
		return domain.Build{}, 0, err
	}
	if name, _ := normalized["name"].(string); strings.TrimSpace(name) == "" {
		return domain.Build{}, 0, fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	}
	fields := map[string]any{}
	for name, value := range normalized {
		if value != nil {
			fields[name] = value
		}
	}

	slots := domain.SlotSet{}
	for key, payload := range req.Slots {
		slot, err := domain.ParseSlot(key)
		if err != nil {
			return domain.Build{}, 0, err
		}
		doc, err := parseSlotDocument(slot, payload)
		if err != nil {
			return domain.Build{}, 0, err
		}
		slots[slot] = doc
	}

	build, err := c.builds.Create(dbc, domain.Build{UserID: req.UserID, Fields: fields, Slots: slots.Clone()})
	if err != nil {
		return domain.Build{}, 0, fmt.Errorf("failed to create build: %w", err)
	}
	snapshotID, err := c.snapshots.CreateSnapshot(dbc, build.ID, req.UserID, domain.SnapshotTypeInitial, "Initial build state", nil)
	if err != nil {
		return build, 0, err
	}
	c.log.Info("build created", "build_id", build.ID, "user_id", req.UserID)
	return build, snapshotID, nil
}
