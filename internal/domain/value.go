package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is a change-event value stored as JSON text. The zero value means the
// field was absent, which is distinct from an explicit JSON null.
type Value struct {
	raw []byte
}

// NullValue is an explicit JSON null.
var NullValue = Value{raw: []byte("null")}

// ValueOf encodes any JSON-representable value. nil encodes as an explicit null.
func ValueOf(v any) (Value, error) {
	switch typed := v.(type) {
	case Value:
		return typed, nil
	case Document:
		if typed.IsAbsent() {
			return NullValue, nil
		}
		return Value{raw: typed.Bytes()}, nil
	case json.RawMessage:
		return ParseValue(typed)
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("%w: value is not JSON encodable: %v", ErrInvalidInput, err)
	}
	return ParseValue(encoded)
}

// MustValue is ValueOf for literals known to be valid.
func MustValue(v any) Value {
	value, err := ValueOf(v)
	if err != nil {
		panic(err)
	}
	return value
}

// ParseValue canonicalizes stored JSON text. nil input yields an absent value.
func ParseValue(raw []byte) (Value, error) {
	if raw == nil {
		return Value{}, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Value{}, nil
	}
	decoded, err := decodeJSON(trimmed)
	if err != nil {
		return Value{}, fmt.Errorf("%w: value is not valid JSON: %v", ErrInvalidInput, err)
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return Value{}, fmt.Errorf("failed to encode value: %w", err)
	}
	return Value{raw: canonical}, nil
}

func (v Value) IsAbsent() bool {
	return v.raw == nil
}

func (v Value) IsNull() bool {
	return bytes.Equal(v.raw, []byte("null"))
}

// Raw returns a copy of the stored JSON text, nil when absent.
func (v Value) Raw() []byte {
	if v.raw == nil {
		return nil
	}
	return append([]byte(nil), v.raw...)
}

// Decode returns the decoded tree. Absent and null both decode to nil.
func (v Value) Decode() (any, error) {
	if v.IsAbsent() {
		return nil, nil
	}
	decoded, err := decodeJSON(v.raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return decoded, nil
}

// Equal compares values by their canonical encoding.
func (v Value) Equal(other Value) bool {
	if v.IsAbsent() || other.IsAbsent() {
		return v.IsAbsent() == other.IsAbsent()
	}
	return bytes.Equal(v.raw, other.raw)
}

func (v Value) String() string {
	if v.IsAbsent() {
		return ""
	}
	return string(v.raw)
}

// Text renders the value for tabular output: strings unquoted, everything else as JSON.
func (v Value) Text() string {
	if v.IsAbsent() || v.IsNull() {
		return ""
	}
	var s string
	if err := json.Unmarshal(v.raw, &s); err == nil {
		return s
	}
	return string(v.raw)
}

// MarshalJSON writes absent values as null; callers that must keep the distinction
// check IsAbsent first.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsAbsent() {
		return []byte("null"), nil
	}
	return v.Raw(), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// SQLValue returns the parameter stored in a text column: nil for absent, the
// JSON text otherwise (including the text "null").
func (v Value) SQLValue() any {
	if v.IsAbsent() {
		return nil
	}
	return string(v.raw)
}

// ValueChange pairs the value before and after a field transition.
type ValueChange struct {
	Old Value `json:"old_value"`
	New Value `json:"new_value"`
}

// Changed reports whether the transition altered the value.
func (c ValueChange) Changed() bool {
	return !c.Old.Equal(c.New)
}
