package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const buildColumns = `id, user_id, name, use_type, fuel_type, target_hp, target_torque, rev_limit_rpm,
    displacement_ci, bore_in, stroke_in, rod_len_in, static_cr, camshaft_model, firing_order, notes,
    engine_internals_json, suspension_json, tires_wheels_json, rear_differential_json, transmission_json,
    frame_json, cab_interior_json, brakes_json, additional_components_json, created_at, updated_at`

func scanBuild(row pgx.Row) (Build, error) {
	var i Build
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.Name,
		&i.UseType,
		&i.FuelType,
		&i.TargetHp,
		&i.TargetTorque,
		&i.RevLimitRpm,
		&i.DisplacementCi,
		&i.BoreIn,
		&i.StrokeIn,
		&i.RodLenIn,
		&i.StaticCr,
		&i.CamshaftModel,
		&i.FiringOrder,
		&i.Notes,
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
		&i.UpdatedAt,
	)
	return i, err
}

const createBuild = `-- name: CreateBuild :one
INSERT INTO builds (
    user_id, engine_internals_json, suspension_json, tires_wheels_json, rear_differential_json,
    transmission_json, frame_json, cab_interior_json, brakes_json, additional_components_json
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + buildColumns

type CreateBuildParams struct {
	UserID int64
	Slots  SlotColumns
}

// SlotColumns holds the nine slot documents as raw JSON, nil meaning SQL NULL.
type SlotColumns struct {
	EngineInternalsJson      []byte
	SuspensionJson           []byte
	TiresWheelsJson          []byte
	RearDifferentialJson     []byte
	TransmissionJson         []byte
	FrameJson                []byte
	CabInteriorJson          []byte
	BrakesJson               []byte
	AdditionalComponentsJson []byte
}

func (s SlotColumns) args() []interface{} {
	return []interface{}{
		s.EngineInternalsJson,
		s.SuspensionJson,
		s.TiresWheelsJson,
		s.RearDifferentialJson,
		s.TransmissionJson,
		s.FrameJson,
		s.CabInteriorJson,
		s.BrakesJson,
		s.AdditionalComponentsJson,
	}
}

func (q *Queries) CreateBuild(ctx context.Context, arg CreateBuildParams) (Build, error) {
	args := append([]interface{}{arg.UserID}, arg.Slots.args()...)
	return scanBuild(q.db.QueryRow(ctx, createBuild, args...))
}

const getBuild = `-- name: GetBuild :one
SELECT ` + buildColumns + `
FROM builds
WHERE id = $1`

func (q *Queries) GetBuild(ctx context.Context, id int64) (Build, error) {
	return scanBuild(q.db.QueryRow(ctx, getBuild, id))
}

const getBuildSlots = `-- name: GetBuildSlots :one
SELECT engine_internals_json, suspension_json, tires_wheels_json, rear_differential_json,
    transmission_json, frame_json, cab_interior_json, brakes_json, additional_components_json
FROM builds
WHERE id = $1`

func (q *Queries) GetBuildSlots(ctx context.Context, id int64) (SlotColumns, error) {
	row := q.db.QueryRow(ctx, getBuildSlots, id)
	var i SlotColumns
	err := row.Scan(
		&i.EngineInternalsJson,
		&i.SuspensionJson,
		&i.TiresWheelsJson,
		&i.RearDifferentialJson,
		&i.TransmissionJson,
		&i.FrameJson,
		&i.CabInteriorJson,
		&i.BrakesJson,
		&i.AdditionalComponentsJson,
	)
	return i, err
}

const getBuildOwner = `-- name: GetBuildOwner :one
SELECT user_id FROM builds WHERE id = $1`

func (q *Queries) GetBuildOwner(ctx context.Context, id int64) (int64, error) {
	var userID int64
	err := q.db.QueryRow(ctx, getBuildOwner, id).Scan(&userID)
	return userID, err
}

const updateBuildSlots = `-- name: UpdateBuildSlots :execrows
UPDATE builds
SET engine_internals_json = $2,
    suspension_json = $3,
    tires_wheels_json = $4,
    rear_differential_json = $5,
    transmission_json = $6,
    frame_json = $7,
    cab_interior_json = $8,
    brakes_json = $9,
    additional_components_json = $10,
    updated_at = NOW()
WHERE id = $1`

func (q *Queries) UpdateBuildSlots(ctx context.Context, id int64, slots SlotColumns) (int64, error) {
	args := append([]interface{}{id}, slots.args()...)
	result, err := q.db.Exec(ctx, updateBuildSlots, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// ColumnAssignment sets one builds column. Column must already be validated
// against the known column list; it is quoted, never interpolated raw.
type ColumnAssignment struct {
	Column string
	Value  interface{}
}

// UpdateBuildColumns writes a partial update as a single UPDATE statement.
func (q *Queries) UpdateBuildColumns(ctx context.Context, id int64, assignments []ColumnAssignment) (int64, error) {
	if len(assignments) == 0 {
		return 0, nil
	}
	sets := make([]string, 0, len(assignments)+1)
	args := make([]interface{}, 0, len(assignments)+1)
	args = append(args, id)
	for _, assignment := range assignments {
		args = append(args, assignment.Value)
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{assignment.Column}.Sanitize(), len(args)))
	}
	sets = append(sets, "updated_at = NOW()")
	query := fmt.Sprintf("UPDATE builds SET %s WHERE id = $1", strings.Join(sets, ", "))
	result, err := q.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// TextValue unwraps a nullable text column, nil when NULL.
func TextValue(v pgtype.Text) interface{} {
	if !v.Valid {
		return nil
	}
	return v.String
}

// Float8Value unwraps a nullable double column, nil when NULL.
func Float8Value(v pgtype.Float8) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Float64
}

// Int4Value unwraps a nullable integer column as int64, nil when NULL.
func Int4Value(v pgtype.Int4) interface{} {
	if !v.Valid {
		return nil
	}
	return int64(v.Int32)
}
