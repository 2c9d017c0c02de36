package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/buildtrack/internal/db"
	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
)

// queriesFor runs on the unit-of-work transaction when one is open.
func queriesFor(queries *db.Queries, dbc dbctx.Context) *db.Queries {
	if dbc.Tx != nil {
		return queries.WithTx(dbc.Tx)
	}
	return queries
}

// notFound translates pgx.ErrNoRows into domain.ErrNotFound.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), domain.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", fmt.Sprintf(format, args...), err)
}

func slotColumns(slots domain.SlotSet) db.SlotColumns {
	return db.SlotColumns{
		EngineInternalsJson:      slots.Get(domain.SlotEngineInternals).Bytes(),
		SuspensionJson:           slots.Get(domain.SlotSuspension).Bytes(),
		TiresWheelsJson:          slots.Get(domain.SlotTiresWheels).Bytes(),
		RearDifferentialJson:     slots.Get(domain.SlotRearDifferential).Bytes(),
		TransmissionJson:         slots.Get(domain.SlotTransmission).Bytes(),
		FrameJson:                slots.Get(domain.SlotFrame).Bytes(),
		CabInteriorJson:          slots.Get(domain.SlotCabInterior).Bytes(),
		BrakesJson:               slots.Get(domain.SlotBrakes).Bytes(),
		AdditionalComponentsJson: slots.Get(domain.SlotAdditionalComponents).Bytes(),
	}
}

func slotsFromColumns(columns db.SlotColumns) (domain.SlotSet, error) {
	raw := map[domain.Slot][]byte{
		domain.SlotEngineInternals:      columns.EngineInternalsJson,
		domain.SlotSuspension:           columns.SuspensionJson,
		domain.SlotTiresWheels:          columns.TiresWheelsJson,
		domain.SlotRearDifferential:     columns.RearDifferentialJson,
		domain.SlotTransmission:         columns.TransmissionJson,
		domain.SlotFrame:                columns.FrameJson,
		domain.SlotCabInterior:          columns.CabInteriorJson,
		domain.SlotBrakes:               columns.BrakesJson,
		domain.SlotAdditionalComponents: columns.AdditionalComponentsJson,
	}
	slots := make(domain.SlotSet, len(domain.Slots))
	for _, slot := range domain.Slots {
		doc, err := domain.ParseDocument(raw[slot])
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", slot.Column(), err)
		}
		slots[slot] = doc
	}
	return slots, nil
}

func buildFromRow(row db.Build) (domain.Build, error) {
	slots, err := slotsFromColumns(db.SlotColumns{
		EngineInternalsJson:      row.EngineInternalsJson,
		SuspensionJson:           row.SuspensionJson,
		TiresWheelsJson:          row.TiresWheelsJson,
		RearDifferentialJson:     row.RearDifferentialJson,
		TransmissionJson:         row.TransmissionJson,
		FrameJson:                row.FrameJson,
		CabInteriorJson:          row.CabInteriorJson,
		BrakesJson:               row.BrakesJson,
		AdditionalComponentsJson: row.AdditionalComponentsJson,
	})
	if err != nil {
		return domain.Build{}, err
	}

	values := map[string]any{
		"name":            db.TextValue(row.Name),
		"use_type":        db.TextValue(row.UseType),
		"fuel_type":       db.TextValue(row.FuelType),
		"target_hp":       db.Float8Value(row.TargetHp),
		"target_torque":   db.Float8Value(row.TargetTorque),
		"rev_limit_rpm":   db.Int4Value(row.RevLimitRpm),
		"displacement_ci": db.Float8Value(row.DisplacementCi),
		"bore_in":         db.Float8Value(row.BoreIn),
		"stroke_in":       db.Float8Value(row.StrokeIn),
		"rod_len_in":      db.Float8Value(row.RodLenIn),
		"static_cr":       db.Float8Value(row.StaticCr),
		"camshaft_model":  db.TextValue(row.CamshaftModel),
		"firing_order":    db.TextValue(row.FiringOrder),
		"notes":           db.TextValue(row.Notes),
	}
	fields := make(map[string]any, len(values))
	for key, value := range values {
		if value != nil {
			fields[key] = value
		}
	}

	return domain.Build{
		ID:        row.ID,
		UserID:    row.UserID,
		Fields:    fields,
		Slots:     slots,
		CreatedAt: row.CreatedAt.Time,
		UpdatedAt: row.UpdatedAt.Time,
	}, nil
}

func snapshotFromRow(row db.BuildJsonSnapshot) (domain.Snapshot, error) {
	slots, err := slotsFromColumns(db.SlotColumns{
		EngineInternalsJson:      row.EngineInternalsJson,
		SuspensionJson:           row.SuspensionJson,
		TiresWheelsJson:          row.TiresWheelsJson,
		RearDifferentialJson:     row.RearDifferentialJson,
		TransmissionJson:         row.TransmissionJson,
		FrameJson:                row.FrameJson,
		CabInteriorJson:          row.CabInteriorJson,
		BrakesJson:               row.BrakesJson,
		AdditionalComponentsJson: row.AdditionalComponentsJson,
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	snapshotType, err := domain.ParseSnapshotType(row.SnapshotType)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return domain.Snapshot{
		ID:            row.ID,
		BuildID:       row.BuildID,
		MaintenanceID: int8Ptr(row.MaintenanceID),
		Type:          snapshotType,
		Description:   row.ChangeDescription.String,
		UserID:        row.UserID.Int64,
		Slots:         slots,
		CreatedAt:     row.CreatedAt.Time,
	}, nil
}

func eventFromRow(row db.BuildChangeEvent) (domain.ChangeEvent, error) {
	oldValue, err := valueFromText(row.OldValue)
	if err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("failed to decode old_value of event %d: %w", row.ID, err)
	}
	newValue, err := valueFromText(row.NewValue)
	if err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("failed to decode new_value of event %d: %w", row.ID, err)
	}
	return domain.ChangeEvent{
		ID:          row.ID,
		BuildID:     row.BuildID,
		UserID:      row.UserID,
		FieldPath:   row.FieldPath,
		OldValue:    oldValue,
		NewValue:    newValue,
		BatchID:     domain.BatchID(row.ChangeBatchID.Bytes),
		Description: row.ChangeDescription.String,
		Provenance: domain.Provenance{
			IPAddress: row.IpAddress.String,
			UserAgent: row.UserAgent.String,
		},
		OccurredAt: row.OccurredAt.Time,
	}, nil
}

func eventParams(event domain.ChangeEvent) db.InsertChangeEventParams {
	return db.InsertChangeEventParams{
		BuildID:           event.BuildID,
		UserID:            event.UserID,
		OccurredAt:        timestamptz(event.OccurredAt),
		FieldPath:         event.FieldPath,
		OldValue:          valueText(event.OldValue),
		NewValue:          valueText(event.NewValue),
		ChangeBatchID:     batchUUID(event.BatchID),
		ChangeDescription: optionalText(event.Description),
		IpAddress:         optionalText(event.Provenance.IPAddress),
		UserAgent:         optionalText(event.Provenance.UserAgent),
	}
}

func valueFromText(text pgtype.Text) (domain.Value, error) {
	if !text.Valid {
		return domain.Value{}, nil
	}
	return domain.ParseValue([]byte(text.String))
}

func valueText(value domain.Value) pgtype.Text {
	if value.IsAbsent() {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value.String(), Valid: true}
}

func batchUUID(id domain.BatchID) pgtype.UUID {
	return pgtype.UUID{Bytes: uuid.UUID(id), Valid: true}
}

func userFromRow(row db.User) domain.User {
	return domain.User{
		ID:        row.ID,
		Email:     row.Email,
		FirstName: row.FirstName.String,
		LastName:  row.LastName.String,
	}
}

func maintenanceFromRow(row db.BuildMaintenance) domain.MaintenanceRecord {
	record := domain.MaintenanceRecord{
		ID:              row.ID,
		BuildID:         row.BuildID,
		MaintenanceType: row.MaintenanceType,
		OccurredAt:      row.OccurredAt.Time,
		Notes:           textPtr(row.Notes),
		OdometerMiles:   float8Ptr(row.OdometerMiles),
		EngineHours:     float8Ptr(row.EngineHours),
		Brand:           textPtr(row.Brand),
		PartNumber:      textPtr(row.PartNumber),
		Cost:            float8Ptr(row.Cost),
		CreatedAt:       row.CreatedAt.Time,
	}
	if row.Quantity.Valid {
		quantity := row.Quantity.Int32
		record.Quantity = &quantity
	}
	return record
}

func maintenanceParams(record domain.MaintenanceRecord) db.MaintenanceParams {
	params := db.MaintenanceParams{
		BuildID:         record.BuildID,
		MaintenanceType: record.MaintenanceType,
		Notes:           textFromPtr(record.Notes),
		OdometerMiles:   float8FromPtr(record.OdometerMiles),
		EngineHours:     float8FromPtr(record.EngineHours),
		Brand:           textFromPtr(record.Brand),
		PartNumber:      textFromPtr(record.PartNumber),
		Cost:            float8FromPtr(record.Cost),
	}
	if !record.OccurredAt.IsZero() {
		params.OccurredAt = timestamptz(record.OccurredAt)
	}
	if record.Quantity != nil {
		params.Quantity = pgtype.Int4{Int32: *record.Quantity, Valid: true}
	}
	return params
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

func textFromPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func float8Ptr(f pgtype.Float8) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func float8FromPtr(f *float64) pgtype.Float8 {
	if f == nil {
		return pgtype.Float8{}
	}
	return pgtype.Float8{Float64: *f, Valid: true}
}

func int8Ptr(i pgtype.Int8) *int64 {
	if !i.Valid {
		return nil
	}
	v := i.Int64
	return &v
}

func int8FromPtr(i *int64) pgtype.Int8 {
	if i == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *i, Valid: true}
}
