package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const changeEventColumns = `id, build_id, user_id, occurred_at, field_path, old_value, new_value,
    change_batch_id, change_description, ip_address, user_agent`

func scanChangeEvents(rows pgx.Rows) ([]BuildChangeEvent, error) {
	defer rows.Close()
	var items []BuildChangeEvent
	for rows.Next() {
		var i BuildChangeEvent
		if err := rows.Scan(
			&i.ID,
			&i.BuildID,
			&i.UserID,
			&i.OccurredAt,
			&i.FieldPath,
			&i.OldValue,
			&i.NewValue,
			&i.ChangeBatchID,
			&i.ChangeDescription,
			&i.IpAddress,
			&i.UserAgent,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type InsertChangeEventParams struct {
	BuildID           int64
	UserID            int64
	OccurredAt        pgtype.Timestamptz
	FieldPath         string
	OldValue          pgtype.Text
	NewValue          pgtype.Text
	ChangeBatchID     pgtype.UUID
	ChangeDescription pgtype.Text
	IpAddress         pgtype.Text
	UserAgent         pgtype.Text
}

const changeEventInsertColumns = 10

// InsertChangeEvents writes every row in one multi-row INSERT so a batch is
// stored entirely or not at all.
func (q *Queries) InsertChangeEvents(ctx context.Context, events []InsertChangeEventParams) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}
	var builder strings.Builder
	builder.WriteString(`INSERT INTO build_change_events (
    build_id, user_id, occurred_at, field_path, old_value, new_value,
    change_batch_id, change_description, ip_address, user_agent
) VALUES `)
	args := make([]interface{}, 0, len(events)*changeEventInsertColumns)
	for i, e := range events {
		if i > 0 {
			builder.WriteString(", ")
		}
		base := i * changeEventInsertColumns
		placeholders := make([]string, changeEventInsertColumns)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		builder.WriteString("(" + strings.Join(placeholders, ", ") + ")")
		args = append(args,
			e.BuildID,
			e.UserID,
			e.OccurredAt,
			e.FieldPath,
			e.OldValue,
			e.NewValue,
			e.ChangeBatchID,
			e.ChangeDescription,
			e.IpAddress,
			e.UserAgent,
		)
	}
	result, err := q.db.Exec(ctx, builder.String(), args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listRecentChangeBatchIDs = `-- name: ListRecentChangeBatchIDs :many
SELECT change_batch_id
FROM build_change_events
WHERE build_id = $1
GROUP BY change_batch_id
ORDER BY MAX(occurred_at) DESC, MAX(id) DESC
LIMIT $2`

func (q *Queries) ListRecentChangeBatchIDs(ctx context.Context, buildID int64, limit int32) ([]pgtype.UUID, error) {
	rows, err := q.db.Query(ctx, listRecentChangeBatchIDs, buildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []pgtype.UUID
	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listChangeEventsByBatchIDs = `-- name: ListChangeEventsByBatchIDs :many
SELECT ` + changeEventColumns + `
FROM build_change_events
WHERE change_batch_id = ANY($1::uuid[])
ORDER BY id`

func (q *Queries) ListChangeEventsByBatchIDs(ctx context.Context, batchIDs []pgtype.UUID) ([]BuildChangeEvent, error) {
	rows, err := q.db.Query(ctx, listChangeEventsByBatchIDs, batchIDs)
	if err != nil {
		return nil, err
	}
	return scanChangeEvents(rows)
}

const listChangeEventsByField = `-- name: ListChangeEventsByField :many
SELECT ` + changeEventColumns + `
FROM build_change_events
WHERE build_id = $1 AND field_path = $2
ORDER BY occurred_at DESC, id DESC`

func (q *Queries) ListChangeEventsByField(ctx context.Context, buildID int64, fieldPath string) ([]BuildChangeEvent, error) {
	rows, err := q.db.Query(ctx, listChangeEventsByField, buildID, fieldPath)
	if err != nil {
		return nil, err
	}
	return scanChangeEvents(rows)
}

const listChangeEventsBetween = `-- name: ListChangeEventsBetween :many
SELECT ` + changeEventColumns + `
FROM build_change_events
WHERE build_id = $1 AND occurred_at > $2 AND occurred_at <= $3
ORDER BY occurred_at, id`

func (q *Queries) ListChangeEventsBetween(ctx context.Context, buildID int64, from, to pgtype.Timestamptz) ([]BuildChangeEvent, error) {
	rows, err := q.db.Query(ctx, listChangeEventsBetween, buildID, from, to)
	if err != nil {
		return nil, err
	}
	return scanChangeEvents(rows)
}

const listChangeEventsAfter = `-- name: ListChangeEventsAfter :many
SELECT ` + changeEventColumns + `
FROM build_change_events
WHERE build_id = $1 AND occurred_at > $2
ORDER BY occurred_at DESC, id DESC`

func (q *Queries) ListChangeEventsAfter(ctx context.Context, buildID int64, after pgtype.Timestamptz) ([]BuildChangeEvent, error) {
	rows, err := q.db.Query(ctx, listChangeEventsAfter, buildID, after)
	if err != nil {
		return nil, err
	}
	return scanChangeEvents(rows)
}
