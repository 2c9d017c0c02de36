package repository

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/buildtrack/internal/db"
	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
)

type snapshotRepository struct {
	queries *db.Queries
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(queries *db.Queries) SnapshotRepository {
	return &snapshotRepository{queries: queries}
}

func (r *snapshotRepository) Create(dbc dbctx.Context, snapshot domain.Snapshot) (int64, error) {
	params := db.CreateBuildSnapshotParams{
		BuildID:           snapshot.BuildID,
		MaintenanceID:     int8FromPtr(snapshot.MaintenanceID),
		SnapshotType:      string(snapshot.Type),
		ChangeDescription: optionalText(snapshot.Description),
		Slots:             slotColumns(snapshot.Slots),
		CreatedAt:         timestamptz(snapshot.CreatedAt),
	}
	if snapshot.UserID != 0 {
		params.UserID = pgtype.Int8{Int64: snapshot.UserID, Valid: true}
	}
	id, err := queriesFor(r.queries, dbc).CreateBuildSnapshot(dbc.Context(), params)
	if err != nil {
		return 0, fmt.Errorf("failed to create snapshot: %w", err)
	}
	return id, nil
}

func (r *snapshotRepository) GetByID(dbc dbctx.Context, id int64) (domain.Snapshot, error) {
	row, err := queriesFor(r.queries, dbc).GetBuildSnapshot(dbc.Context(), id)
	if err != nil {
		return domain.Snapshot{}, notFound(err, "snapshot %d", id)
	}
	return snapshotFromRow(row)
}

func (r *snapshotRepository) GetByIDs(dbc dbctx.Context, ids []int64) ([]domain.Snapshot, error) {
	rows, err := queriesFor(r.queries, dbc).GetBuildSnapshotsByIDs(dbc.Context(), ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}
	snapshots := make([]domain.Snapshot, 0, len(rows))
	for _, row := range rows {
		snapshot, err := snapshotFromRow(row)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func (r *snapshotRepository) Latest(dbc dbctx.Context, buildID int64) (domain.Snapshot, error) {
	row, err := queriesFor(r.queries, dbc).GetLatestBuildSnapshot(dbc.Context(), buildID)
	if err != nil {
		return domain.Snapshot{}, notFound(err, "latest snapshot for build %d", buildID)
	}
	return snapshotFromRow(row)
}

func (r *snapshotRepository) ListByBuild(dbc dbctx.Context, buildID int64) ([]SnapshotRecord, error) {
	rows, err := queriesFor(r.queries, dbc).ListBuildSnapshots(dbc.Context(), buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	records := make([]SnapshotRecord, 0, len(rows))
	for _, row := range rows {
		snapshot, err := snapshotFromRow(row.BuildJsonSnapshot)
		if err != nil {
			return nil, err
		}
		records = append(records, SnapshotRecord{
			Snapshot:         snapshot,
			MaintenanceType:  textPtr(row.MaintenanceType),
			MaintenanceNotes: textPtr(row.MaintenanceNotes),
		})
	}
	return records, nil
}
