package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BatchID groups every event written by one logical save.
type BatchID uuid.UUID

func NewBatchID() BatchID {
	return BatchID(uuid.New())
}

// ParseBatchID parses the textual form returned to clients.
func ParseBatchID(raw string) (BatchID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return BatchID{}, fmt.Errorf("%w: batch id: %v", ErrInvalidInput, err)
	}
	return BatchID(id), nil
}

func (b BatchID) UUID() uuid.UUID {
	return uuid.UUID(b)
}

func (b BatchID) String() string {
	return uuid.UUID(b).String()
}

func (b BatchID) IsZero() bool {
	return uuid.UUID(b) == uuid.Nil
}

func (b BatchID) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *BatchID) UnmarshalText(text []byte) error {
	parsed, err := ParseBatchID(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Provenance records where a change request came from.
type Provenance struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ChangeEvent is one field transition inside a batch.
type ChangeEvent struct {
	ID          int64
	BuildID     int64
	UserID      int64
	FieldPath   string
	OldValue    Value
	NewValue    Value
	BatchID     BatchID
	Description string
	Provenance  Provenance
	OccurredAt  time.Time
}

// FieldChange is the {field, old, new} triple reported in timelines.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue Value  `json:"old_value"`
	NewValue Value  `json:"new_value"`
}

// ChangeBatch summarises one save.
type ChangeBatch struct {
	BatchID     BatchID       `json:"batch_id"`
	BuildID     int64         `json:"build_id"`
	Timestamp   time.Time     `json:"timestamp"`
	UserID      int64         `json:"user_id"`
	UserName    string        `json:"user_name"`
	UserEmail   string        `json:"user_email"`
	Description string        `json:"description"`
	Changes     []FieldChange `json:"changes"`
}

// FieldHistoryEntry is one transition of a single field.
type FieldHistoryEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	UserID      int64     `json:"user_id"`
	UserName    string    `json:"user_name"`
	UserEmail   string    `json:"user_email"`
	OldValue    Value     `json:"old_value"`
	NewValue    Value     `json:"new_value"`
	Description string    `json:"description"`
	BatchID     BatchID   `json:"batch_id"`
}
