// Package export renders a build's revision history as a spreadsheet.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
	"github.com/rpattn/buildtrack/internal/repository"
)

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat defaults to xlsx when raw is empty.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: unsupported export format %q", domain.ErrInvalidInput, raw)
	}
}

func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// HistorySource lists the snapshots of a build.
type HistorySource interface {
	History(dbc dbctx.Context, buildID int64) ([]domain.SnapshotSummary, error)
}

// TimelineSource lists the change batches of a build.
type TimelineSource interface {
	Timeline(dbc dbctx.Context, buildID int64, limit int) ([]domain.ChangeBatch, error)
}

// File is a rendered export ready to be written to a response.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

const (
	sheetBuild     = "Build"
	sheetSnapshots = "Snapshots"
	sheetChanges   = "Changes"
)

var changeHeader = []string{"Timestamp", "Batch ID", "User", "Email", "Description", "Field", "Old Value", "New Value"}

type Service struct {
	builds   repository.BuildRepository
	history  HistorySource
	timeline TimelineSource
	maxBatch int
	now      func() time.Time
}

type Option func(*Service)

// WithBatchLimit caps how many change batches an export includes.
func WithBatchLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.maxBatch = limit
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(builds repository.BuildRepository, history HistorySource, timeline TimelineSource, opts ...Option) *Service {
	service := &Service{
		builds:   builds,
		history:  history,
		timeline: timeline,
		maxBatch: 1000,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// ExportBuild renders the build in the requested format. CSV carries only the
// change rows; xlsx adds the current columns and the snapshot history.
func (s *Service) ExportBuild(dbc dbctx.Context, buildID int64, format Format) (File, error) {
	build, err := s.builds.GetByID(dbc, buildID)
	if err != nil {
		return File{}, err
	}
	batches, err := s.timeline.Timeline(dbc, buildID, s.maxBatch)
	if err != nil {
		return File{}, fmt.Errorf("failed to load change timeline: %w", err)
	}

	name := fmt.Sprintf("build-%d-history-%s.%s", buildID, s.now().UTC().Format("20060102-150405"), format)
	switch format {
	case FormatCSV:
		data, err := renderCSV(batches)
		if err != nil {
			return File{}, err
		}
		return File{Name: name, ContentType: format.ContentType(), Data: data}, nil
	case FormatXLSX:
		snapshots, err := s.history.History(dbc, buildID)
		if err != nil {
			return File{}, fmt.Errorf("failed to load snapshot history: %w", err)
		}
		data, err := renderWorkbook(build, snapshots, batches)
		if err != nil {
			return File{}, err
		}
		return File{Name: name, ContentType: format.ContentType(), Data: data}, nil
	default:
		return File{}, fmt.Errorf("%w: unsupported export format %q", domain.ErrInvalidInput, format)
	}
}

func changeRows(batches []domain.ChangeBatch) [][]string {
	var rows [][]string
	for _, batch := range batches {
		for _, change := range batch.Changes {
			rows = append(rows, []string{
				batch.Timestamp.UTC().Format(time.RFC3339),
				batch.BatchID.String(),
				batch.UserName,
				batch.UserEmail,
				batch.Description,
				change.Field,
				change.OldValue.Text(),
				change.NewValue.Text(),
			})
		}
	}
	return rows
}

func renderCSV(batches []domain.ChangeBatch) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(changeHeader); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := writer.WriteAll(changeRows(batches)); err != nil {
		return nil, fmt.Errorf("failed to write csv rows: %w", err)
	}
	return buf.Bytes(), nil
}

func renderWorkbook(build domain.Build, snapshots []domain.SnapshotSummary, batches []domain.ChangeBatch) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetBuild); err != nil {
		return nil, fmt.Errorf("failed to name build sheet: %w", err)
	}
	for _, sheet := range []string{sheetSnapshots, sheetChanges} {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, fmt.Errorf("failed to add %s sheet: %w", sheet, err)
		}
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	buildRows := [][]interface{}{{"Field", "Value"}, {"id", build.ID}, {"user_id", build.UserID}}
	for _, column := range domain.BuildColumns {
		buildRows = append(buildRows, []interface{}{column.Name, build.Field(column.Name)})
	}
	for _, slot := range domain.Slots {
		buildRows = append(buildRows, []interface{}{slot.String(), build.Slots.Get(slot).String()})
	}

	snapshotRows := [][]interface{}{{"ID", "Created At", "Type", "Description", "User", "Maintenance Type", "Maintenance Notes"}}
	for _, snapshot := range snapshots {
		snapshotRows = append(snapshotRows, []interface{}{
			snapshot.ID,
			snapshot.CreatedAt.UTC().Format(time.RFC3339),
			string(snapshot.Type),
			snapshot.Description,
			snapshot.UserName,
			derefString(snapshot.MaintenanceType),
			derefString(snapshot.MaintenanceNotes),
		})
	}

	changeSheetRows := [][]interface{}{toRow(changeHeader)}
	for _, row := range changeRows(batches) {
		changeSheetRows = append(changeSheetRows, toRow(row))
	}

	for sheet, rows := range map[string][][]interface{}{
		sheetBuild:     buildRows,
		sheetSnapshots: snapshotRows,
		sheetChanges:   changeSheetRows,
	} {
		if err := writeSheet(f, sheet, rows, header); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, rows [][]interface{}, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}
	return nil
}

func toRow(values []string) []interface{} {
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
