package domain

import (
	"fmt"
	"strings"
	"time"
)

// MaintenanceRecord is a logged service event. Saving one captures a
// before/after snapshot pair, the latter linked back to the record.
type MaintenanceRecord struct {
	ID              int64     `json:"id"`
	BuildID         int64     `json:"build_id"`
	MaintenanceType string    `json:"maintenance_type"`
	OccurredAt      time.Time `json:"occurred_at"`
	Notes           *string   `json:"notes,omitempty"`
	OdometerMiles   *float64  `json:"odometer_miles,omitempty"`
	EngineHours     *float64  `json:"engine_hours,omitempty"`
	Brand           *string   `json:"brand,omitempty"`
	PartNumber      *string   `json:"part_number,omitempty"`
	Quantity        *int32    `json:"quantity,omitempty"`
	Cost            *float64  `json:"cost,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate checks the fields the store cannot default.
func (m MaintenanceRecord) Validate() error {
	if strings.TrimSpace(m.MaintenanceType) == "" {
		return fmt.Errorf("%w: maintenance_type is required", ErrInvalidInput)
	}
	if m.Quantity != nil && *m.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", ErrInvalidInput)
	}
	if m.Cost != nil && *m.Cost < 0 {
		return fmt.Errorf("%w: cost must not be negative", ErrInvalidInput)
	}
	return nil
}
