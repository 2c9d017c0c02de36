package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Document is an opaque component document: a JSON object held as canonical bytes.
// The zero value is an absent document, which is distinct from an empty object.
type Document struct {
	raw []byte
}

// ParseDocument validates raw JSON and returns its canonical form. Empty input and
// JSON null both yield an absent document.
func ParseDocument(raw []byte) (Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Document{}, nil
	}
	decoded, err := decodeJSON(trimmed)
	if err != nil {
		return Document{}, fmt.Errorf("%w: component document is not valid JSON: %v", ErrInvalidInput, err)
	}
	if _, ok := decoded.(map[string]any); !ok {
		return Document{}, fmt.Errorf("%w: component document must be a JSON object", ErrInvalidInput)
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return Document{}, fmt.Errorf("failed to encode component document: %w", err)
	}
	return Document{raw: canonical}, nil
}

// NewDocument builds a document from any JSON-encodable value. nil yields an absent document.
func NewDocument(value any) (Document, error) {
	switch typed := value.(type) {
	case nil:
		return Document{}, nil
	case Document:
		return typed, nil
	case json.RawMessage:
		return ParseDocument(typed)
	case []byte:
		return ParseDocument(typed)
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return Document{}, fmt.Errorf("%w: component document is not JSON encodable: %v", ErrInvalidInput, err)
	}
	return ParseDocument(encoded)
}

// MustDocument is NewDocument for literals known to be valid.
func MustDocument(value any) Document {
	doc, err := NewDocument(value)
	if err != nil {
		panic(err)
	}
	return doc
}

func (d Document) IsAbsent() bool {
	return d.raw == nil
}

// Bytes returns a copy of the canonical encoding, nil when absent.
func (d Document) Bytes() []byte {
	if d.raw == nil {
		return nil
	}
	return append([]byte(nil), d.raw...)
}

func (d Document) Clone() Document {
	return Document{raw: d.Bytes()}
}

// Size is the length of the canonical encoding in bytes.
func (d Document) Size() int {
	return len(d.raw)
}

// Equal compares documents by value. Two absent documents are equal; an absent
// document never equals an empty object.
func (d Document) Equal(other Document) bool {
	if d.IsAbsent() || other.IsAbsent() {
		return d.IsAbsent() == other.IsAbsent()
	}
	return bytes.Equal(d.raw, other.raw)
}

// Map decodes the document into a fresh tree. Numbers decode as json.Number so
// that re-encoding preserves them exactly.
func (d Document) Map() (map[string]any, error) {
	if d.IsAbsent() {
		return nil, nil
	}
	decoded, err := decodeJSON(d.raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode component document: %w", err)
	}
	tree, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: component document must be a JSON object", ErrInvalidInput)
	}
	return tree, nil
}

func (d Document) String() string {
	if d.IsAbsent() {
		return "null"
	}
	return string(d.raw)
}

func (d Document) MarshalJSON() ([]byte, error) {
	if d.IsAbsent() {
		return []byte("null"), nil
	}
	return d.Bytes(), nil
}

func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := ParseDocument(data)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// SQLValue returns the parameter used to store the document in a JSONB column.
func (d Document) SQLValue() any {
	if d.IsAbsent() {
		return nil
	}
	return string(d.raw)
}

// Lookup returns the value stored at the nested key path. The second result is
// false when any segment is missing.
func (d Document) Lookup(keys []string) (Value, bool, error) {
	tree, err := d.Map()
	if err != nil || tree == nil {
		return Value{}, false, err
	}
	var current any = tree
	for _, key := range keys {
		node, ok := current.(map[string]any)
		if !ok {
			return Value{}, false, nil
		}
		current, ok = node[key]
		if !ok {
			return Value{}, false, nil
		}
	}
	value, err := ValueOf(current)
	if err != nil {
		return Value{}, false, err
	}
	return value, true, nil
}

// WithPath returns a copy of the document with the nested key set to value. An
// absent value removes the key instead. Intermediate objects are created as needed
// when setting.
func (d Document) WithPath(keys []string, value Value) (Document, error) {
	if len(keys) == 0 {
		return Document{}, fmt.Errorf("%w: nested path requires at least one key", ErrInvalidFieldPath)
	}
	tree, err := d.Map()
	if err != nil {
		return Document{}, err
	}
	if tree == nil {
		if value.IsAbsent() {
			return d, nil
		}
		tree = map[string]any{}
	}

	node := tree
	for _, key := range keys[:len(keys)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			if value.IsAbsent() {
				return d, nil
			}
			child = map[string]any{}
			node[key] = child
		}
		node = child
	}

	leaf := keys[len(keys)-1]
	if value.IsAbsent() {
		delete(node, leaf)
	} else {
		decoded, err := value.Decode()
		if err != nil {
			return Document{}, err
		}
		node[leaf] = decoded
	}
	return NewDocument(tree)
}

func decodeJSON(raw []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var decoded any
	if err := decoder.Decode(&decoded); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected trailing data")
	}
	return decoded, nil
}
