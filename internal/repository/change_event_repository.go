package repository

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/buildtrack/internal/db"
	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
)

type changeEventRepository struct {
	queries *db.Queries
}

// NewChangeEventRepository creates a new change event repository
func NewChangeEventRepository(queries *db.Queries) ChangeEventRepository {
	return &changeEventRepository{queries: queries}
}

// InsertBatch stores every event in a single statement
func (r *changeEventRepository) InsertBatch(dbc dbctx.Context, events []domain.ChangeEvent) (int64, error) {
	params := make([]db.InsertChangeEventParams, 0, len(events))
	for _, event := range events {
		params = append(params, eventParams(event))
	}
	inserted, err := queriesFor(r.queries, dbc).InsertChangeEvents(dbc.Context(), params)
	if err != nil {
		return 0, fmt.Errorf("failed to insert change events: %w", err)
	}
	return inserted, nil
}

func (r *changeEventRepository) ListRecentBatchIDs(dbc dbctx.Context, buildID int64, limit int) ([]domain.BatchID, error) {
	rows, err := queriesFor(r.queries, dbc).ListRecentChangeBatchIDs(dbc.Context(), buildID, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list change batches: %w", err)
	}
	ids := make([]domain.BatchID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, domain.BatchID(row.Bytes))
	}
	return ids, nil
}

func (r *changeEventRepository) ListByBatchIDs(dbc dbctx.Context, batchIDs []domain.BatchID) ([]domain.ChangeEvent, error) {
	if len(batchIDs) == 0 {
		return []domain.ChangeEvent{}, nil
	}
	ids := make([]pgtype.UUID, 0, len(batchIDs))
	for _, id := range batchIDs {
		ids = append(ids, batchUUID(id))
	}
	rows, err := queriesFor(r.queries, dbc).ListChangeEventsByBatchIDs(dbc.Context(), ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list change events by batch: %w", err)
	}
	return eventsFromRows(rows)
}

func (r *changeEventRepository) ListByField(dbc dbctx.Context, buildID int64, fieldPath string) ([]domain.ChangeEvent, error) {
	rows, err := queriesFor(r.queries, dbc).ListChangeEventsByField(dbc.Context(), buildID, fieldPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list field history: %w", err)
	}
	return eventsFromRows(rows)
}

func (r *changeEventRepository) ListBetween(dbc dbctx.Context, buildID int64, from, to time.Time) ([]domain.ChangeEvent, error) {
	rows, err := queriesFor(r.queries, dbc).ListChangeEventsBetween(dbc.Context(), buildID, timestamptz(from), timestamptz(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list change events in window: %w", err)
	}
	return eventsFromRows(rows)
}

func (r *changeEventRepository) ListAfter(dbc dbctx.Context, buildID int64, after time.Time) ([]domain.ChangeEvent, error) {
	rows, err := queriesFor(r.queries, dbc).ListChangeEventsAfter(dbc.Context(), buildID, timestamptz(after))
	if err != nil {
		return nil, fmt.Errorf("failed to list change events after %s: %w", after.Format(time.RFC3339), err)
	}
	return eventsFromRows(rows)
}

func eventsFromRows(rows []db.BuildChangeEvent) ([]domain.ChangeEvent, error) {
	events := make([]domain.ChangeEvent, 0, len(rows))
	for _, row := range rows {
		event, err := eventFromRow(row)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
