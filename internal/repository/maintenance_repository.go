package repository

import (
	"fmt"

	"github.com/rpattn/buildtrack/internal/db"
	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
)

type maintenanceRepository struct {
	queries *db.Queries
}

// NewMaintenanceRepository creates a new maintenance repository
func NewMaintenanceRepository(queries *db.Queries) MaintenanceRepository {
	return &maintenanceRepository{queries: queries}
}

func (r *maintenanceRepository) Create(dbc dbctx.Context, record domain.MaintenanceRecord) (domain.MaintenanceRecord, error) {
	row, err := queriesFor(r.queries, dbc).CreateMaintenance(dbc.Context(), maintenanceParams(record))
	if err != nil {
		return domain.MaintenanceRecord{}, fmt.Errorf("failed to create maintenance record: %w", err)
	}
	return maintenanceFromRow(row), nil
}

func (r *maintenanceRepository) Update(dbc dbctx.Context, record domain.MaintenanceRecord) (domain.MaintenanceRecord, error) {
	row, err := queriesFor(r.queries, dbc).UpdateMaintenance(dbc.Context(), record.ID, maintenanceParams(record))
	if err != nil {
		return domain.MaintenanceRecord{}, notFound(err, "maintenance record %d", record.ID)
	}
	return maintenanceFromRow(row), nil
}

func (r *maintenanceRepository) GetByID(dbc dbctx.Context, id int64) (domain.MaintenanceRecord, error) {
	row, err := queriesFor(r.queries, dbc).GetMaintenance(dbc.Context(), id)
	if err != nil {
		return domain.MaintenanceRecord{}, notFound(err, "maintenance record %d", id)
	}
	return maintenanceFromRow(row), nil
}
