package repository

import (
	"time"

	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
)

// BuildRepository reads and writes the primary build record
type BuildRepository interface {
	Create(dbc dbctx.Context, build domain.Build) (domain.Build, error)
	GetByID(dbc dbctx.Context, id int64) (domain.Build, error)
	GetOwner(dbc dbctx.Context, id int64) (int64, error)
	GetSlots(dbc dbctx.Context, id int64) (domain.SlotSet, error)
	ReplaceSlots(dbc dbctx.Context, id int64, slots domain.SlotSet) error
	ApplyPatch(dbc dbctx.Context, id int64, patch domain.BuildPatch) error
}

// SnapshotRecord is a stored snapshot joined with its maintenance record, if any
type SnapshotRecord struct {
	domain.Snapshot
	MaintenanceType  *string
	MaintenanceNotes *string
}

// SnapshotRepository appends and reads build snapshots. Snapshots are never updated.
type SnapshotRepository interface {
	Create(dbc dbctx.Context, snapshot domain.Snapshot) (int64, error)
	GetByID(dbc dbctx.Context, id int64) (domain.Snapshot, error)
	GetByIDs(dbc dbctx.Context, ids []int64) ([]domain.Snapshot, error)
	Latest(dbc dbctx.Context, buildID int64) (domain.Snapshot, error)
	ListByBuild(dbc dbctx.Context, buildID int64) ([]SnapshotRecord, error)
}

// ChangeEventRepository appends and queries field-level change events
type ChangeEventRepository interface {
	InsertBatch(dbc dbctx.Context, events []domain.ChangeEvent) (int64, error)
	ListRecentBatchIDs(dbc dbctx.Context, buildID int64, limit int) ([]domain.BatchID, error)
	ListByBatchIDs(dbc dbctx.Context, batchIDs []domain.BatchID) ([]domain.ChangeEvent, error)
	ListByField(dbc dbctx.Context, buildID int64, fieldPath string) ([]domain.ChangeEvent, error)
	ListBetween(dbc dbctx.Context, buildID int64, from, to time.Time) ([]domain.ChangeEvent, error)
	ListAfter(dbc dbctx.Context, buildID int64, after time.Time) ([]domain.ChangeEvent, error)
}

// UserRepository exposes the accounts owned by the auth collaborator
type UserRepository interface {
	Create(dbc dbctx.Context, user domain.User) (domain.User, error)
	GetByIDs(dbc dbctx.Context, ids []int64) ([]domain.User, error)
}

// MaintenanceRepository stores maintenance records
type MaintenanceRepository interface {
	Create(dbc dbctx.Context, record domain.MaintenanceRecord) (domain.MaintenanceRecord, error)
	Update(dbc dbctx.Context, record domain.MaintenanceRecord) (domain.MaintenanceRecord, error)
	GetByID(dbc dbctx.Context, id int64) (domain.MaintenanceRecord, error)
}
