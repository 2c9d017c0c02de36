package domain

import (
	"fmt"

	"github.com/rpattn/buildtrack/pkg/validator"
)

// FieldPath addresses a scalar column, a whole slot, or a key nested inside a slot document.
type FieldPath struct {
	Column string
	Slot   Slot
	Keys   []string
}

// ParseFieldPath validates a dot-notation path. The first segment must name a scalar
// column or a slot (either spelling); only slot paths may carry nested keys.
func ParseFieldPath(path string) (FieldPath, error) {
	pm := validator.NewPathManager()
	if err := pm.ValidatePath(path); err != nil {
		return FieldPath{}, fmt.Errorf("%w: %q: %v", ErrInvalidFieldPath, path, err)
	}

	components := pm.GetPathComponents(path)
	head := components[0]
	if column, ok := LookupColumn(head); ok {
		if len(components) > 1 {
			return FieldPath{}, fmt.Errorf("%w: column %q has no nested keys", ErrInvalidFieldPath, head)
		}
		return FieldPath{Column: column.Name}, nil
	}

	slot, err := ParseSlot(head)
	if err != nil {
		return FieldPath{}, fmt.Errorf("%w: %q does not name a build column", ErrInvalidFieldPath, head)
	}
	return FieldPath{Slot: slot, Keys: components[1:]}, nil
}

// IsSlot reports whether the path addresses a slot document.
func (p FieldPath) IsSlot() bool {
	return p.Slot != ""
}

// IsNested reports whether the path addresses a key inside a slot document.
func (p FieldPath) IsNested() bool {
	return len(p.Keys) > 0
}

// String renders the canonical spelling, using the bare slot name.
func (p FieldPath) String() string {
	if !p.IsSlot() {
		return p.Column
	}
	components := append([]string{string(p.Slot)}, p.Keys...)
	return validator.NewPathManager().JoinPath(components...)
}

// CanonicalFieldPath parses path and returns its canonical spelling.
func CanonicalFieldPath(path string) (string, error) {
	parsed, err := ParseFieldPath(path)
	if err != nil {
		return "", err
	}
	return parsed.String(), nil
}
