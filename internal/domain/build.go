package domain

import (
	"encoding/json"
	"time"

	"github.com/rpattn/buildtrack/pkg/validator"
)

// Column describes one scalar column of a build.
type Column struct {
	Name  string
	Type  validator.FieldType
	Rules map[string]any
}

// BuildColumns lists the scalar columns a partial update may touch.
var BuildColumns = []Column{
	{Name: "name", Type: validator.FieldTypeString, Rules: map[string]any{"max_length": 200}},
	{Name: "use_type", Type: validator.FieldTypeString},
	{Name: "fuel_type", Type: validator.FieldTypeString},
	{Name: "target_hp", Type: validator.FieldTypeFloat, Rules: map[string]any{"min": 0}},
	{Name: "target_torque", Type: validator.FieldTypeFloat, Rules: map[string]any{"min": 0}},
	{Name: "rev_limit_rpm", Type: validator.FieldTypeInteger, Rules: map[string]any{"min": 0, "max": 20000}},
	{Name: "displacement_ci", Type: validator.FieldTypeFloat, Rules: map[string]any{"min": 0}},
	{Name: "bore_in", Type: validator.FieldTypeFloat, Rules: map[string]any{"min": 0}},
	{Name: "stroke_in", Type: validator.FieldTypeFloat, Rules: map[string]any{"min": 0}},
	{Name: "rod_len_in", Type: validator.FieldTypeFloat, Rules: map[string]any{"min": 0}},
	{Name: "static_cr", Type: validator.FieldTypeFloat, Rules: map[string]any{"min": 0}},
	{Name: "camshaft_model", Type: validator.FieldTypeString},
	{Name: "firing_order", Type: validator.FieldTypeString},
	{Name: "notes", Type: validator.FieldTypeString},
}

// LookupColumn finds a scalar column by name.
func LookupColumn(name string) (Column, bool) {
	for _, column := range BuildColumns {
		if column.Name == name {
			return column, true
		}
	}
	return Column{}, false
}

// ColumnDefinitions returns the validator definitions for every scalar column.
func ColumnDefinitions() map[string]validator.FieldDefinition {
	defs := make(map[string]validator.FieldDefinition, len(BuildColumns))
	for _, column := range BuildColumns {
		defs[column.Name] = validator.FieldDefinition{Type: column.Type, Validation: column.Rules}
	}
	return defs
}

// Build is the root record: scalar columns plus the nine component slots.
// Fields holds string, int64 or float64 values keyed by column name; a missing
// key is SQL NULL.
type Build struct {
	ID        int64
	UserID    int64
	Fields    map[string]any
	Slots     SlotSet
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Field returns the current value of a scalar column, nil when unset.
func (b Build) Field(name string) any {
	if b.Fields == nil {
		return nil
	}
	return b.Fields[name]
}

// Clone returns a copy that shares no maps with b.
func (b Build) Clone() Build {
	out := b
	out.Fields = make(map[string]any, len(b.Fields))
	for key, value := range b.Fields {
		out.Fields[key] = value
	}
	out.Slots = b.Slots.Clone()
	return out
}

func (b Build) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"id":         b.ID,
		"user_id":    b.UserID,
		"created_at": b.CreatedAt,
		"updated_at": b.UpdatedAt,
	}
	for _, column := range BuildColumns {
		out[column.Name] = b.Field(column.Name)
	}
	for _, slot := range Slots {
		out[string(slot)] = b.Slots.Get(slot)
	}
	return json.Marshal(out)
}

// BuildPatch carries normalized column values and whole slot replacements.
type BuildPatch struct {
	Fields map[string]any
	Slots  SlotSet
}

func (p BuildPatch) IsEmpty() bool {
	return len(p.Fields) == 0 && len(p.Slots) == 0
}
