package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const snapshotColumns = `s.id, s.build_id, s.maintenance_id, s.snapshot_type, s.change_description, s.user_id,
    s.engine_internals_json, s.suspension_json, s.tires_wheels_json, s.rear_differential_json,
    s.transmission_json, s.frame_json, s.cab_interior_json, s.brakes_json, s.additional_components_json,
    s.created_at`

func snapshotScanTargets(i *BuildJsonSnapshot) []interface{} {
	return []interface{}{
		&i.ID,
		&i.BuildID,
		&i.MaintenanceID,
		&i.SnapshotType,
		&i.ChangeDescription,
		&i.UserID,
		&i.EngineInternalsJson,
		&i.SuspensionJson,
		&i.TiresWheelsJson,
		&i.RearDifferentialJson,
		&i.TransmissionJson,
		&i.FrameJson,
		&i.CabInteriorJson,
		&i.BrakesJson,
		&i.AdditionalComponentsJson,
		&i.CreatedAt,
	}
}

func scanSnapshots(rows pgx.Rows) ([]BuildJsonSnapshot, error) {
	defer rows.Close()
	var items []BuildJsonSnapshot
	for rows.Next() {
		var i BuildJsonSnapshot
		if err := rows.Scan(snapshotScanTargets(&i)...); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createBuildSnapshot = `-- name: CreateBuildSnapshot :one
INSERT INTO build_json_snapshots (
    build_id, maintenance_id, snapshot_type, change_description, user_id,
    engine_internals_json, suspension_json, tires_wheels_json, rear_differential_json,
    transmission_json, frame_json, cab_interior_json, brakes_json, additional_components_json,
    created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING id`

type CreateBuildSnapshotParams struct {
	BuildID           int64
	MaintenanceID     pgtype.Int8
	SnapshotType      string
	ChangeDescription pgtype.Text
	UserID            pgtype.Int8
	Slots             SlotColumns
	CreatedAt         pgtype.Timestamptz
}

func (q *Queries) CreateBuildSnapshot(ctx context.Context, arg CreateBuildSnapshotParams) (int64, error) {
	args := []interface{}{arg.BuildID, arg.MaintenanceID, arg.SnapshotType, arg.ChangeDescription, arg.UserID}
	args = append(args, arg.Slots.args()...)
	args = append(args, arg.CreatedAt)
	var id int64
	err := q.db.QueryRow(ctx, createBuildSnapshot, args...).Scan(&id)
	return id, err
}

const getBuildSnapshot = `-- name: GetBuildSnapshot :one
SELECT ` + snapshotColumns + `
FROM build_json_snapshots s
WHERE s.id = $1`

func (q *Queries) GetBuildSnapshot(ctx context.Context, id int64) (BuildJsonSnapshot, error) {
	var i BuildJsonSnapshot
	err := q.db.QueryRow(ctx, getBuildSnapshot, id).Scan(snapshotScanTargets(&i)...)
	return i, err
}

const getBuildSnapshotsByIDs = `-- name: GetBuildSnapshotsByIDs :many
SELECT ` + snapshotColumns + `
FROM build_json_snapshots s
WHERE s.id = ANY($1::bigint[])`

func (q *Queries) GetBuildSnapshotsByIDs(ctx context.Context, ids []int64) ([]BuildJsonSnapshot, error) {
	rows, err := q.db.Query(ctx, getBuildSnapshotsByIDs, ids)
	if err != nil {
		return nil, err
	}
	return scanSnapshots(rows)
}

const getLatestBuildSnapshot = `-- name: GetLatestBuildSnapshot :one
SELECT ` + snapshotColumns + `
FROM build_json_snapshots s
WHERE s.build_id = $1
ORDER BY s.created_at DESC, s.id DESC
LIMIT 1`

func (q *Queries) GetLatestBuildSnapshot(ctx context.Context, buildID int64) (BuildJsonSnapshot, error) {
	var i BuildJsonSnapshot
	err := q.db.QueryRow(ctx, getLatestBuildSnapshot, buildID).Scan(snapshotScanTargets(&i)...)
	return i, err
}

const listBuildSnapshots = `-- name: ListBuildSnapshots :many
SELECT ` + snapshotColumns + `, m.maintenance_type, m.notes
FROM build_json_snapshots s
LEFT JOIN build_maintenance m ON m.id = s.maintenance_id
WHERE s.build_id = $1
ORDER BY s.created_at DESC, s.id DESC`

type ListBuildSnapshotsRow struct {
	BuildJsonSnapshot
	MaintenanceType  pgtype.Text
	MaintenanceNotes pgtype.Text
}

func (q *Queries) ListBuildSnapshots(ctx context.Context, buildID int64) ([]ListBuildSnapshotsRow, error) {
	rows, err := q.db.Query(ctx, listBuildSnapshots, buildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListBuildSnapshotsRow
	for rows.Next() {
		var i ListBuildSnapshotsRow
		targets := append(snapshotScanTargets(&i.BuildJsonSnapshot), &i.MaintenanceType, &i.MaintenanceNotes)
		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
