// Package eventlog records field-level changes in batches and answers history
// questions over them: timelines, per-field history, net changes between two
// instants and point-in-time reconstruction.
package eventlog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
	"github.com/rpattn/buildtrack/internal/logger"
	"github.com/rpattn/buildtrack/internal/repository"
	"github.com/rpattn/buildtrack/internal/userloader"
	"github.com/rpattn/buildtrack/pkg/validator"
)

// DefaultTimelineLimit caps Timeline when the caller passes no limit.
const DefaultTimelineLimit = 50

type Log struct {
	builds repository.BuildRepository
	events repository.ChangeEventRepository
	users  userloader.Lookup
	log    *logger.Logger
	now    func() time.Time
}

type Option func(*Log)

// WithClock sets the source of event timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(l *Log) {
		if log != nil {
			l.log = log
		}
	}
}

func New(
	builds repository.BuildRepository,
	events repository.ChangeEventRepository,
	users userloader.Lookup,
	opts ...Option,
) *Log {
	l := &Log{
		builds: builds,
		events: events,
		users:  users,
		log:    logger.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FieldChangeInput is a single event appended to an existing batch.
type FieldChangeInput struct {
	BuildID     int64
	UserID      int64
	FieldPath   string
	OldValue    domain.Value
	NewValue    domain.Value
	BatchID     domain.BatchID
	Description string
	Provenance  *domain.Provenance
}

// LogFieldChange appends one event to the batch named in the input. An event
// joining a batch that already has rows takes the batch's timestamp.
func (l *Log) LogFieldChange(dbc dbctx.Context, input FieldChangeInput) error {
	if input.BatchID.IsZero() {
		return fmt.Errorf("%w: batch id is required", domain.ErrInvalidInput)
	}
	path, err := domain.CanonicalFieldPath(input.FieldPath)
	if err != nil {
		return err
	}
	existing, err := l.events.ListByBatchIDs(dbc, []domain.BatchID{input.BatchID})
	if err != nil {
		return fmt.Errorf("failed to load batch %s: %w", input.BatchID, err)
	}
	occurredAt := l.now().UTC()
	if len(existing) > 0 {
		occurredAt = existing[0].OccurredAt
	}
	event := domain.ChangeEvent{
		BuildID:     input.BuildID,
		UserID:      input.UserID,
		FieldPath:   path,
		OldValue:    input.OldValue,
		NewValue:    input.NewValue,
		BatchID:     input.BatchID,
		Description: input.Description,
		Provenance:  provenance(input.Provenance),
		OccurredAt:  occurredAt,
	}
	if _, err := l.events.InsertBatch(dbc, []domain.ChangeEvent{event}); err != nil {
		return fmt.Errorf("failed to log change to %s: %w", path, err)
	}
	return nil
}

// LogChangesBatch writes one event per field path under a fresh batch id in a
// single statement and returns the id. Every event shares the user,
// description and timestamp.
func (l *Log) LogChangesBatch(
	dbc dbctx.Context,
	buildID, userID int64,
	changes map[string]domain.ValueChange,
	description string,
	prov *domain.Provenance,
) (domain.BatchID, error) {
	if len(changes) == 0 {
		return domain.BatchID{}, fmt.Errorf("%w: change batch is empty", domain.ErrInvalidInput)
	}

	canonical := make(map[string]domain.ValueChange, len(changes))
	for raw, change := range changes {
		path, err := domain.CanonicalFieldPath(raw)
		if err != nil {
			return domain.BatchID{}, err
		}
		if _, dup := canonical[path]; dup {
			return domain.BatchID{}, fmt.Errorf("%w: field %s appears more than once", domain.ErrInvalidInput, path)
		}
		canonical[path] = change
	}
	paths := make([]string, 0, len(canonical))
	for path := range canonical {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	batchID := domain.NewBatchID()
	occurredAt := l.now().UTC()
	events := make([]domain.ChangeEvent, 0, len(paths))
	for _, path := range paths {
		change := canonical[path]
		events = append(events, domain.ChangeEvent{
			BuildID:     buildID,
			UserID:      userID,
			FieldPath:   path,
			OldValue:    change.Old,
			NewValue:    change.New,
			BatchID:     batchID,
			Description: description,
			Provenance:  provenance(prov),
			OccurredAt:  occurredAt,
		})
	}

	if _, err := l.events.InsertBatch(dbc, events); err != nil {
		return domain.BatchID{}, fmt.Errorf("failed to log change batch: %w", err)
	}
	l.log.Debug("change batch logged", "build_id", buildID, "batch_id", batchID, "events", len(events))
	return batchID, nil
}

// Timeline returns the newest batches first, at most limit of them.
func (l *Log) Timeline(dbc dbctx.Context, buildID int64, limit int) ([]domain.ChangeBatch, error) {
	if limit <= 0 {
		limit = DefaultTimelineLimit
	}
	batchIDs, err := l.events.ListRecentBatchIDs(dbc, buildID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list change batches: %w", err)
	}
	if len(batchIDs) == 0 {
		return []domain.ChangeBatch{}, nil
	}
	events, err := l.events.ListByBatchIDs(dbc, batchIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load change events: %w", err)
	}

	grouped := make(map[domain.BatchID][]domain.ChangeEvent, len(batchIDs))
	for _, event := range events {
		grouped[event.BatchID] = append(grouped[event.BatchID], event)
	}

	batches := make([]domain.ChangeBatch, 0, len(batchIDs))
	for _, id := range batchIDs {
		members := grouped[id]
		if len(members) == 0 {
			continue
		}
		batches = append(batches, summarize(members))
	}
	if err := l.annotateBatches(dbc, batches); err != nil {
		return nil, err
	}
	return batches, nil
}

// Batch returns the single batch written by one save.
func (l *Log) Batch(dbc dbctx.Context, batchID domain.BatchID) (domain.ChangeBatch, error) {
	events, err := l.events.ListByBatchIDs(dbc, []domain.BatchID{batchID})
	if err != nil {
		return domain.ChangeBatch{}, fmt.Errorf("failed to load change batch: %w", err)
	}
	if len(events) == 0 {
		return domain.ChangeBatch{}, fmt.Errorf("change batch %s: %w", batchID, domain.ErrNotFound)
	}
	batches := []domain.ChangeBatch{summarize(events)}
	if err := l.annotateBatches(dbc, batches); err != nil {
		return domain.ChangeBatch{}, err
	}
	return batches[0], nil
}

// FieldHistory lists every transition of exactly one field, newest first.
func (l *Log) FieldHistory(dbc dbctx.Context, buildID int64, fieldPath string) ([]domain.FieldHistoryEntry, error) {
	path, err := domain.CanonicalFieldPath(fieldPath)
	if err != nil {
		return nil, err
	}
	events, err := l.events.ListByField(dbc, buildID, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", path, err)
	}

	users, err := l.users.Users(dbc.Context(), eventUserIDs(events))
	if err != nil {
		return nil, err
	}
	entries := make([]domain.FieldHistoryEntry, 0, len(events))
	for _, event := range events {
		user := users[event.UserID]
		entries = append(entries, domain.FieldHistoryEntry{
			Timestamp:   event.OccurredAt,
			UserID:      event.UserID,
			UserName:    displayName(user),
			UserEmail:   user.Email,
			OldValue:    event.OldValue,
			NewValue:    event.NewValue,
			Description: event.Description,
			BatchID:     event.BatchID,
		})
	}
	return entries, nil
}

// CompareVersions collapses every change in (from, to] to its net effect: the
// first old value and the last new value seen for each field.
func (l *Log) CompareVersions(dbc dbctx.Context, buildID int64, from, to time.Time) (map[string]domain.ValueChange, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: compare window ends before it starts", domain.ErrInvalidInput)
	}
	events, err := l.events.ListBetween(dbc, buildID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load changes between versions: %w", err)
	}
	result := make(map[string]domain.ValueChange)
	for _, event := range events {
		change, seen := result[event.FieldPath]
		if !seen {
			change.Old = event.OldValue
		}
		change.New = event.NewValue
		result[event.FieldPath] = change
	}
	return result, nil
}

// BuildAtTimestamp reconstructs the build as it was at t by undoing, newest
// first, every change recorded after t. Nested slot paths are undone key by key.
func (l *Log) BuildAtTimestamp(dbc dbctx.Context, buildID int64, t time.Time) (domain.Build, error) {
	build, err := l.builds.GetByID(dbc, buildID)
	if err != nil {
		return domain.Build{}, err
	}
	events, err := l.events.ListAfter(dbc, buildID, t)
	if err != nil {
		return domain.Build{}, fmt.Errorf("failed to load changes after %s: %w", t.Format(time.RFC3339), err)
	}

	state := build.Clone()
	for _, event := range events {
		if err := undo(&state, event); err != nil {
			return domain.Build{}, fmt.Errorf("failed to undo event %d (%s): %w", event.ID, event.FieldPath, err)
		}
	}
	return state, nil
}

// undo restores the old value of one event onto state.
func undo(state *domain.Build, event domain.ChangeEvent) error {
	path, err := domain.ParseFieldPath(event.FieldPath)
	if err != nil {
		return err
	}

	if !path.IsSlot() {
		column, _ := domain.LookupColumn(path.Column)
		decoded, err := event.OldValue.Decode()
		if err != nil {
			return err
		}
		if decoded == nil {
			delete(state.Fields, column.Name)
			return nil
		}
		normalized, err := validator.NewColumnValidator().Normalize(column.Name, decoded, column.Type)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		state.Fields[column.Name] = normalized
		return nil
	}

	if !path.IsNested() {
		doc, err := documentFromValue(event.OldValue)
		if err != nil {
			return err
		}
		state.Slots[path.Slot] = doc
		return nil
	}

	doc, err := state.Slots.Get(path.Slot).WithPath(path.Keys, event.OldValue)
	if err != nil {
		return err
	}
	state.Slots[path.Slot] = doc
	return nil
}

// documentFromValue treats absent and null as an absent slot.
func documentFromValue(value domain.Value) (domain.Document, error) {
	if value.IsAbsent() || value.IsNull() {
		return domain.Document{}, nil
	}
	return domain.ParseDocument(value.Raw())
}

func (l *Log) annotateBatches(dbc dbctx.Context, batches []domain.ChangeBatch) error {
	ids := make([]int64, 0, len(batches))
	for _, batch := range batches {
		ids = append(ids, batch.UserID)
	}
	users, err := l.users.Users(dbc.Context(), ids)
	if err != nil {
		return err
	}
	for i := range batches {
		user := users[batches[i].UserID]
		batches[i].UserName = displayName(user)
		batches[i].UserEmail = user.Email
	}
	return nil
}

// summarize folds the events of one batch into its summary. Events share
// user, description and timestamp, so the first one stands for all.
func summarize(events []domain.ChangeEvent) domain.ChangeBatch {
	first := events[0]
	batch := domain.ChangeBatch{
		BatchID:     first.BatchID,
		BuildID:     first.BuildID,
		Timestamp:   first.OccurredAt,
		UserID:      first.UserID,
		Description: first.Description,
		Changes:     make([]domain.FieldChange, 0, len(events)),
	}
	for _, event := range events {
		batch.Changes = append(batch.Changes, domain.FieldChange{
			Field:    event.FieldPath,
			OldValue: event.OldValue,
			NewValue: event.NewValue,
		})
	}
	return batch
}

func eventUserIDs(events []domain.ChangeEvent) []int64 {
	ids := make([]int64, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.UserID)
	}
	return ids
}

func displayName(user domain.User) string {
	if user.ID == 0 {
		return ""
	}
	return user.DisplayName()
}

func provenance(p *domain.Provenance) domain.Provenance {
	if p == nil {
		return domain.Provenance{}
	}
	return domain.Provenance{
		IPAddress: strings.TrimSpace(p.IPAddress),
		UserAgent: strings.TrimSpace(p.UserAgent),
	}
}
