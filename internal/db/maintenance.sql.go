package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const maintenanceColumns = `id, build_id, maintenance_type, occurred_at, notes, odometer_miles, engine_hours,
    brand, part_number, quantity, cost, created_at`

func scanMaintenance(row interface{ Scan(...interface{}) error }) (BuildMaintenance, error) {
	var i BuildMaintenance
	err := row.Scan(
		&i.ID,
		&i.BuildID,
		&i.MaintenanceType,
		&i.OccurredAt,
		&i.Notes,
		&i.OdometerMiles,
		&i.EngineHours,
		&i.Brand,
		&i.PartNumber,
		&i.Quantity,
		&i.Cost,
		&i.CreatedAt,
	)
	return i, err
}

type MaintenanceParams struct {
	BuildID         int64
	MaintenanceType string
	OccurredAt      pgtype.Timestamptz
	Notes           pgtype.Text
	OdometerMiles   pgtype.Float8
	EngineHours     pgtype.Float8
	Brand           pgtype.Text
	PartNumber      pgtype.Text
	Quantity        pgtype.Int4
	Cost            pgtype.Float8
}

const createMaintenance = `-- name: CreateMaintenance :one
INSERT INTO build_maintenance (
    build_id, maintenance_type, occurred_at, notes, odometer_miles, engine_hours,
    brand, part_number, quantity, cost
) VALUES ($1, $2, COALESCE($3, NOW()), $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + maintenanceColumns

func (q *Queries) CreateMaintenance(ctx context.Context, arg MaintenanceParams) (BuildMaintenance, error) {
	row := q.db.QueryRow(ctx, createMaintenance,
		arg.BuildID,
		arg.MaintenanceType,
		arg.OccurredAt,
		arg.Notes,
		arg.OdometerMiles,
		arg.EngineHours,
		arg.Brand,
		arg.PartNumber,
		arg.Quantity,
		arg.Cost,
	)
	return scanMaintenance(row)
}

const updateMaintenance = `-- name: UpdateMaintenance :one
UPDATE build_maintenance
SET maintenance_type = $3,
    occurred_at = COALESCE($4, occurred_at),
    notes = $5,
    odometer_miles = $6,
    engine_hours = $7,
    brand = $8,
    part_number = $9,
    quantity = $10,
    cost = $11
WHERE id = $1 AND build_id = $2
RETURNING ` + maintenanceColumns

func (q *Queries) UpdateMaintenance(ctx context.Context, id int64, arg MaintenanceParams) (BuildMaintenance, error) {
	row := q.db.QueryRow(ctx, updateMaintenance,
		id,
		arg.BuildID,
		arg.MaintenanceType,
		arg.OccurredAt,
		arg.Notes,
		arg.OdometerMiles,
		arg.EngineHours,
		arg.Brand,
		arg.PartNumber,
		arg.Quantity,
		arg.Cost,
	)
	return scanMaintenance(row)
}

const getMaintenance = `-- name: GetMaintenance :one
SELECT ` + maintenanceColumns + `
FROM build_maintenance
WHERE id = $1`

func (q *Queries) GetMaintenance(ctx context.Context, id int64) (BuildMaintenance, error) {
	return scanMaintenance(q.db.QueryRow(ctx, getMaintenance, id))
}
