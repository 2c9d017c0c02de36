package repository

import (
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/buildtrack/internal/db"
	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
)

type buildRepository struct {
	queries *db.Queries
	pool    *pgxpool.Pool
}

// NewBuildRepository creates a new build repository
func NewBuildRepository(queries *db.Queries, pool *pgxpool.Pool) BuildRepository {
	return &buildRepository{queries: queries, pool: pool}
}

// Create inserts the build and its initial column values in one transaction
func (r *buildRepository) Create(dbc dbctx.Context, build domain.Build) (domain.Build, error) {
	ctx := dbc.Context()
	if dbc.Tx != nil || r.pool == nil {
		return r.create(dbc, build)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Build{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := r.create(dbc.WithTx(tx), build)
	if err != nil {
		return domain.Build{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Build{}, fmt.Errorf("failed to commit build: %w", err)
	}
	return created, nil
}

func (r *buildRepository) create(dbc dbctx.Context, build domain.Build) (domain.Build, error) {
	q := queriesFor(r.queries, dbc)
	row, err := q.CreateBuild(dbc.Context(), db.CreateBuildParams{
		UserID: build.UserID,
		Slots:  slotColumns(build.Slots),
	})
	if err != nil {
		return domain.Build{}, fmt.Errorf("failed to create build: %w", err)
	}

	if len(build.Fields) > 0 {
		assignments, err := columnAssignments(domain.BuildPatch{Fields: build.Fields})
		if err != nil {
			return domain.Build{}, err
		}
		if _, err := q.UpdateBuildColumns(dbc.Context(), row.ID, assignments); err != nil {
			return domain.Build{}, fmt.Errorf("failed to set build columns: %w", err)
		}
		row, err = q.GetBuild(dbc.Context(), row.ID)
		if err != nil {
			return domain.Build{}, fmt.Errorf("failed to reload build: %w", err)
		}
	}

	return buildFromRow(row)
}

func (r *buildRepository) GetByID(dbc dbctx.Context, id int64) (domain.Build, error) {
	row, err := queriesFor(r.queries, dbc).GetBuild(dbc.Context(), id)
	if err != nil {
		return domain.Build{}, notFound(err, "build %d", id)
	}
	return buildFromRow(row)
}

func (r *buildRepository) GetOwner(dbc dbctx.Context, id int64) (int64, error) {
	userID, err := queriesFor(r.queries, dbc).GetBuildOwner(dbc.Context(), id)
	if err != nil {
		return 0, notFound(err, "build %d", id)
	}
	return userID, nil
}

// GetSlots reads all nine slot documents in a single-row fetch
func (r *buildRepository) GetSlots(dbc dbctx.Context, id int64) (domain.SlotSet, error) {
	columns, err := queriesFor(r.queries, dbc).GetBuildSlots(dbc.Context(), id)
	if err != nil {
		return nil, notFound(err, "build %d", id)
	}
	return slotsFromColumns(columns)
}

// ReplaceSlots overwrites every slot, writing NULL for absent documents
func (r *buildRepository) ReplaceSlots(dbc dbctx.Context, id int64, slots domain.SlotSet) error {
	affected, err := queriesFor(r.queries, dbc).UpdateBuildSlots(dbc.Context(), id, slotColumns(slots))
	if err != nil {
		return fmt.Errorf("failed to replace build slots: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("build %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ApplyPatch writes the changed columns and slots as one UPDATE statement
func (r *buildRepository) ApplyPatch(dbc dbctx.Context, id int64, patch domain.BuildPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	assignments, err := columnAssignments(patch)
	if err != nil {
		return err
	}
	affected, err := queriesFor(r.queries, dbc).UpdateBuildColumns(dbc.Context(), id, assignments)
	if err != nil {
		return fmt.Errorf("failed to update build: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("build %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func columnAssignments(patch domain.BuildPatch) ([]db.ColumnAssignment, error) {
	names := make([]string, 0, len(patch.Fields))
	for name := range patch.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	assignments := make([]db.ColumnAssignment, 0, len(names)+len(patch.Slots))
	for _, name := range names {
		column, ok := domain.LookupColumn(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown build column %q", domain.ErrInvalidInput, name)
		}
		assignments = append(assignments, db.ColumnAssignment{Column: column.Name, Value: patch.Fields[name]})
	}
	for _, slot := range domain.Slots {
		doc, ok := patch.Slots[slot]
		if !ok {
			continue
		}
		assignments = append(assignments, db.ColumnAssignment{Column: slot.Column(), Value: doc.Bytes()})
	}
	return assignments, nil
}
