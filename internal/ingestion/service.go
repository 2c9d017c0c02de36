// Package ingestion applies a spreadsheet of field/value rows to a build. The
// Build sheet of an xlsx export can be edited and imported back.
package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
	"github.com/rpattn/buildtrack/internal/logger"
	"github.com/rpattn/buildtrack/internal/revision"
	"github.com/rpattn/buildtrack/pkg/validator"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

	// readOnlyFields appear in exports but are never imported.
	readOnlyFields = map[string]bool{"id": true, "user_id": true, "created_at": true, "updated_at": true}
)

// clearToken in a value cell clears the column or slot. A blank cell leaves it unchanged.
const clearToken = "null"

// preferredSheet is read first when an xlsx workbook has it.
const preferredSheet = "Build"

// Patcher applies a partial update as one change batch.
type Patcher interface {
	PatchBuild(dbc dbctx.Context, req revision.PatchRequest) (revision.PatchResult, error)
}

// SlotReader reads the current slot documents of a build.
type SlotReader interface {
	GetSlots(dbc dbctx.Context, id int64) (domain.SlotSet, error)
}

type Service struct {
	patcher Patcher
	slots   SlotReader
	log     *logger.Logger
}

type Option func(*Service)

func WithLogger(log *logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates a new ingestion service.
func NewService(patcher Patcher, slots SlotReader, opts ...Option) *Service {
	service := &Service{patcher: patcher, slots: slots, log: logger.Nop()}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Request describes one uploaded sheet.
type Request struct {
	BuildID     int64
	UserID      int64
	FileName    string
	Data        io.Reader
	Description string
	DryRun      bool
	Provenance  *domain.Provenance
}

// RowError reports a row that was skipped. Row numbers are 1-based sheet rows.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type Summary struct {
	FileName  string                        `json:"file_name"`
	TotalRows int                           `json:"total_rows"`
	Fields    []string                      `json:"fields"`
	Unchanged []string                      `json:"unchanged,omitempty"`
	Skipped   []RowError                    `json:"skipped,omitempty"`
	DryRun    bool                          `json:"dry_run"`
	NoChanges bool                          `json:"no_changes"`
	BatchID   *domain.BatchID               `json:"batch_id,omitempty"`
	Changes   map[string]domain.ValueChange `json:"changes,omitempty"`
	Warnings  []string                      `json:"warnings,omitempty"`
}

type tableRow struct {
	number int
	cells  []string
}

type tableData struct {
	fieldCol int
	valueCol int
	rows     []tableRow
}

// Import reads the sheet and applies every valid row as one partial update.
// Invalid rows are reported and skipped. Slot rows equal to the current
// document are dropped so a round-tripped export logs only real edits.
func (s *Service) Import(dbc dbctx.Context, req Request) (Summary, error) {
	if req.Data == nil {
		return Summary{}, fmt.Errorf("%w: file is required", domain.ErrInvalidInput)
	}
	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read upload: %w", err)
	}
	table, err := parseTable(req.FileName, payload)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	current, err := s.slots.GetSlots(dbc, req.BuildID)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{FileName: req.FileName, TotalRows: len(table.rows), DryRun: req.DryRun, Fields: []string{}}
	changes := map[string]json.RawMessage{}
	for _, row := range table.rows {
		name := strings.TrimSpace(row.cells[table.fieldCol])
		if readOnlyFields[strings.ToLower(name)] {
			continue
		}
		key, value, skip, err := cellChange(name, row.cells[table.valueCol])
		if err != nil {
			summary.Skipped = append(summary.Skipped, RowError{Row: row.number, Field: name, Message: err.Error()})
			continue
		}
		if skip {
			continue
		}
		if _, dup := changes[key]; dup {
			summary.Skipped = append(summary.Skipped, RowError{Row: row.number, Field: name, Message: "field given more than once"})
			continue
		}
		if slot, err := domain.ParseSlot(key); err == nil {
			doc, err := domain.ParseDocument(value)
			if err != nil {
				summary.Skipped = append(summary.Skipped, RowError{Row: row.number, Field: name, Message: err.Error()})
				continue
			}
			if doc.Equal(current.Get(slot)) {
				summary.Unchanged = append(summary.Unchanged, key)
				continue
			}
		}
		changes[key] = value
	}

	for key := range changes {
		summary.Fields = append(summary.Fields, key)
	}
	sort.Strings(summary.Fields)
	sort.Strings(summary.Unchanged)

	if len(changes) == 0 || req.DryRun {
		summary.NoChanges = len(changes) == 0
		return summary, nil
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = fmt.Sprintf("Imported from %s", filepath.Base(req.FileName))
	}
	result, err := s.patcher.PatchBuild(dbc, revision.PatchRequest{
		BuildID:     req.BuildID,
		UserID:      req.UserID,
		Changes:     changes,
		Description: description,
		Provenance:  req.Provenance,
	})
	if err != nil {
		return Summary{}, err
	}

	summary.NoChanges = result.NoChanges
	summary.Changes = result.Changes
	summary.Warnings = result.Warnings
	if !result.NoChanges {
		batchID := result.BatchID
		summary.BatchID = &batchID
	}
	s.log.Info("build sheet imported",
		"build_id", req.BuildID,
		"file", req.FileName,
		"rows", summary.TotalRows,
		"skipped", len(summary.Skipped),
		"no_changes", summary.NoChanges,
	)
	return summary, nil
}

// cellChange turns one field/value row into a patch entry keyed the way
// PatchBuild expects. skip is set for blank value cells.
func cellChange(name, raw string) (key string, value json.RawMessage, skip bool, err error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil, true, nil
	}

	if column, ok := domain.LookupColumn(name); ok {
		if trimmed == clearToken {
			return column.Name, json.RawMessage(clearToken), false, nil
		}
		coerced, err := coerceValue(column.Type, trimmed)
		if err != nil {
			return "", nil, false, err
		}
		encoded, err := json.Marshal(coerced)
		if err != nil {
			return "", nil, false, err
		}
		return column.Name, encoded, false, nil
	}

	slot, err := domain.ParseSlot(name)
	if err != nil {
		return "", nil, false, fmt.Errorf("unknown build field %q", name)
	}
	if !json.Valid([]byte(trimmed)) {
		return "", nil, false, fmt.Errorf("%s must hold a JSON document", slot)
	}
	return slot.String(), json.RawMessage(trimmed), false, nil
}

func coerceValue(fieldType validator.FieldType, raw string) (any, error) {
	switch fieldType {
	case validator.FieldTypeInteger:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil && math.Mod(f, 1) == 0 {
			return int64(f), nil
		}
		return nil, fmt.Errorf("unable to coerce %q to integer", raw)
	case validator.FieldTypeFloat:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("unable to coerce %q to float", raw)
	default:
		return raw, nil
	}
}

func parseTable(fileName string, payload []byte) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return tableData{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records)
}

func parseExcel(payload []byte) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}
	sheet := sheets[0]
	for _, name := range sheets {
		if name == preferredSheet {
			sheet = name
			break
		}
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows)
}

// normalizeTable takes the first non-empty row as the header, locates the
// field and value columns and keeps the non-empty data rows padded to reach both.
func normalizeTable(records [][]string) (tableData, error) {
	headerIndex := -1
	for idx, row := range records {
		if len(cleanRow(row)) > 0 {
			headerIndex = idx
			break
		}
	}
	if headerIndex < 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	table := tableData{fieldCol: -1, valueCol: -1}
	for col, cell := range records[headerIndex] {
		switch strings.ToLower(strings.TrimSpace(cell)) {
		case "field":
			table.fieldCol = col
		case "value":
			table.valueCol = col
		}
	}
	if table.fieldCol < 0 || table.valueCol < 0 {
		return tableData{}, errors.New(`header row must name a "Field" and a "Value" column`)
	}

	width := max(table.fieldCol, table.valueCol) + 1
	for idx := headerIndex + 1; idx < len(records); idx++ {
		if len(cleanRow(records[idx])) == 0 {
			continue
		}
		table.rows = append(table.rows, tableRow{number: idx + 1, cells: padRow(records[idx], width)})
	}
	return table, nil
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
