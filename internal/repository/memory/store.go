// Package memory keeps every repository in process. It backs the "memory"
// storage driver and the service tests.
package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
	"github.com/rpattn/buildtrack/internal/repository"
)

// Store holds all records behind a single lock. Transactions in dbctx are ignored.
type Store struct {
	mu          sync.RWMutex
	users       map[int64]domain.User
	builds      map[int64]domain.Build
	snapshots   []domain.Snapshot
	events      []domain.ChangeEvent
	maintenance map[int64]domain.MaintenanceRecord
	lastID      int64
	now         func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source used for build and maintenance timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		users:       make(map[int64]domain.User),
		builds:      make(map[int64]domain.Build),
		maintenance: make(map[int64]domain.MaintenanceRecord),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Builds() repository.BuildRepository {
	return &buildRepository{store: s}
}

func (s *Store) Snapshots() repository.SnapshotRepository {
	return &snapshotRepository{store: s}
}

func (s *Store) ChangeEvents() repository.ChangeEventRepository {
	return &changeEventRepository{store: s}
}

func (s *Store) Users() repository.UserRepository {
	return &userRepository{store: s}
}

func (s *Store) Maintenance() repository.MaintenanceRepository {
	return &maintenanceRepository{store: s}
}

func (s *Store) nextID() int64 {
	s.lastID++
	return s.lastID
}

type buildRepository struct {
	store *Store
}

func (r *buildRepository) Create(_ dbctx.Context, build domain.Build) (domain.Build, error) {
	for name := range build.Fields {
		if _, ok := domain.LookupColumn(name); !ok {
			return domain.Build{}, fmt.Errorf("%w: unknown build column %q", domain.ErrInvalidInput, name)
		}
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := build.Clone()
	stored.ID = s.nextID()
	stored.CreatedAt = s.now()
	stored.UpdatedAt = stored.CreatedAt
	s.builds[stored.ID] = stored
	return stored.Clone(), nil
}

func (r *buildRepository) GetByID(_ dbctx.Context, id int64) (domain.Build, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	build, ok := s.builds[id]
	if !ok {
		return domain.Build{}, fmt.Errorf("build %d: %w", id, domain.ErrNotFound)
	}
	return build.Clone(), nil
}

func (r *buildRepository) GetOwner(dbc dbctx.Context, id int64) (int64, error) {
	build, err := r.GetByID(dbc, id)
	if err != nil {
		return 0, err
	}
	return build.UserID, nil
}

func (r *buildRepository) GetSlots(dbc dbctx.Context, id int64) (domain.SlotSet, error) {
	build, err := r.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	return build.Slots, nil
}

func (r *buildRepository) ReplaceSlots(_ dbctx.Context, id int64, slots domain.SlotSet) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	build, ok := s.builds[id]
	if !ok {
		return fmt.Errorf("build %d: %w", id, domain.ErrNotFound)
	}
	build.Slots = slots.Clone()
	build.UpdatedAt = s.now()
	s.builds[id] = build
	return nil
}

func (r *buildRepository) ApplyPatch(_ dbctx.Context, id int64, patch domain.BuildPatch) error {
	for name := range patch.Fields {
		if _, ok := domain.LookupColumn(name); !ok {
			return fmt.Errorf("%w: unknown build column %q", domain.ErrInvalidInput, name)
		}
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	build, ok := s.builds[id]
	if !ok {
		return fmt.Errorf("build %d: %w", id, domain.ErrNotFound)
	}
	build = build.Clone()
	for name, value := range patch.Fields {
		if value == nil {
			delete(build.Fields, name)
			continue
		}
		build.Fields[name] = value
	}
	for slot, doc := range patch.Slots {
		build.Slots[slot] = doc.Clone()
	}
	build.UpdatedAt = s.now()
	s.builds[id] = build
	return nil
}

type snapshotRepository struct {
	store *Store
}

func (r *snapshotRepository) Create(_ dbctx.Context, snapshot domain.Snapshot) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.builds[snapshot.BuildID]; !ok {
		return 0, fmt.Errorf("failed to create snapshot: build %d: %w", snapshot.BuildID, domain.ErrNotFound)
	}
	stored := snapshot
	stored.ID = s.nextID()
	stored.Slots = snapshot.Slots.Clone()
	s.snapshots = append(s.snapshots, stored)
	return stored.ID, nil
}

func (r *snapshotRepository) GetByID(_ dbctx.Context, id int64) (domain.Snapshot, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, snapshot := range s.snapshots {
		if snapshot.ID == id {
			return cloneSnapshot(snapshot), nil
		}
	}
	return domain.Snapshot{}, fmt.Errorf("snapshot %d: %w", id, domain.ErrNotFound)
}

func (r *snapshotRepository) GetByIDs(_ dbctx.Context, ids []int64) ([]domain.Snapshot, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := []domain.Snapshot{}
	for _, snapshot := range s.snapshots {
		if _, ok := wanted[snapshot.ID]; ok {
			out = append(out, cloneSnapshot(snapshot))
		}
	}
	return out, nil
}

func (r *snapshotRepository) Latest(dbc dbctx.Context, buildID int64) (domain.Snapshot, error) {
	records, err := r.ListByBuild(dbc, buildID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if len(records) == 0 {
		return domain.Snapshot{}, fmt.Errorf("latest snapshot for build %d: %w", buildID, domain.ErrNotFound)
	}
	return records[0].Snapshot, nil
}

func (r *snapshotRepository) ListByBuild(_ dbctx.Context, buildID int64) ([]repository.SnapshotRecord, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := []repository.SnapshotRecord{}
	for _, snapshot := range s.snapshots {
		if snapshot.BuildID != buildID {
			continue
		}
		record := repository.SnapshotRecord{Snapshot: cloneSnapshot(snapshot)}
		if snapshot.MaintenanceID != nil {
			if m, ok := s.maintenance[*snapshot.MaintenanceID]; ok {
				maintenanceType := m.MaintenanceType
				record.MaintenanceType = &maintenanceType
				record.MaintenanceNotes = m.Notes
			}
		}
		records = append(records, record)
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].Snapshot, records[j].Snapshot
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return records, nil
}

func cloneSnapshot(snapshot domain.Snapshot) domain.Snapshot {
	out := snapshot
	out.Slots = snapshot.Slots.Clone()
	if snapshot.MaintenanceID != nil {
		id := *snapshot.MaintenanceID
		out.MaintenanceID = &id
	}
	return out
}

type changeEventRepository struct {
	store *Store
}

// InsertBatch validates every event before storing any of them.
func (r *changeEventRepository) InsertBatch(_ dbctx.Context, events []domain.ChangeEvent) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range events {
		if _, ok := s.builds[event.BuildID]; !ok {
			return 0, fmt.Errorf("failed to insert change events: build %d: %w", event.BuildID, domain.ErrNotFound)
		}
	}
	for _, event := range events {
		stored := event
		stored.ID = s.nextID()
		s.events = append(s.events, stored)
	}
	return int64(len(events)), nil
}

func (r *changeEventRepository) ListRecentBatchIDs(_ dbctx.Context, buildID int64, limit int) ([]domain.BatchID, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	type batchKey struct {
		id     domain.BatchID
		latest time.Time
		maxID  int64
	}
	index := map[domain.BatchID]*batchKey{}
	var order []*batchKey
	for _, event := range s.events {
		if event.BuildID != buildID {
			continue
		}
		key, ok := index[event.BatchID]
		if !ok {
			key = &batchKey{id: event.BatchID}
			index[event.BatchID] = key
			order = append(order, key)
		}
		if event.OccurredAt.After(key.latest) {
			key.latest = event.OccurredAt
		}
		if event.ID > key.maxID {
			key.maxID = event.ID
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		if !order[i].latest.Equal(order[j].latest) {
			return order[i].latest.After(order[j].latest)
		}
		return order[i].maxID > order[j].maxID
	})
	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}
	ids := make([]domain.BatchID, 0, len(order))
	for _, key := range order {
		ids = append(ids, key.id)
	}
	return ids, nil
}

func (r *changeEventRepository) ListByBatchIDs(_ dbctx.Context, batchIDs []domain.BatchID) ([]domain.ChangeEvent, error) {
	wanted := make(map[domain.BatchID]struct{}, len(batchIDs))
	for _, id := range batchIDs {
		wanted[id] = struct{}{}
	}
	return r.filter(func(e domain.ChangeEvent) bool {
		_, ok := wanted[e.BatchID]
		return ok
	}, false), nil
}

func (r *changeEventRepository) ListByField(_ dbctx.Context, buildID int64, fieldPath string) ([]domain.ChangeEvent, error) {
	return r.filter(func(e domain.ChangeEvent) bool {
		return e.BuildID == buildID && e.FieldPath == fieldPath
	}, true), nil
}

func (r *changeEventRepository) ListBetween(_ dbctx.Context, buildID int64, from, to time.Time) ([]domain.ChangeEvent, error) {
	return r.filter(func(e domain.ChangeEvent) bool {
		return e.BuildID == buildID && e.OccurredAt.After(from) && !e.OccurredAt.After(to)
	}, false), nil
}

func (r *changeEventRepository) ListAfter(_ dbctx.Context, buildID int64, after time.Time) ([]domain.ChangeEvent, error) {
	return r.filter(func(e domain.ChangeEvent) bool {
		return e.BuildID == buildID && e.OccurredAt.After(after)
	}, true), nil
}

// filter returns matching events ordered by (occurred_at, id), reversed when newestFirst.
// Batch lookups keep plain id order.
func (r *changeEventRepository) filter(match func(domain.ChangeEvent) bool, newestFirst bool) []domain.ChangeEvent {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.ChangeEvent{}
	for _, event := range s.events {
		if match(event) {
			out = append(out, event)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			if newestFirst {
				return a.OccurredAt.After(b.OccurredAt)
			}
			return a.OccurredAt.Before(b.OccurredAt)
		}
		if newestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
	return out
}

type userRepository struct {
	store *Store
}

func (r *userRepository) Create(_ dbctx.Context, user domain.User) (domain.User, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == user.Email {
			return domain.User{}, fmt.Errorf("%w: email %q already registered", domain.ErrInvalidInput, user.Email)
		}
	}
	user.ID = s.nextID()
	s.users[user.ID] = user
	return user, nil
}

func (r *userRepository) GetByIDs(_ dbctx.Context, ids []int64) ([]domain.User, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		if user, ok := s.users[id]; ok {
			out = append(out, user)
		}
	}
	return out, nil
}

type maintenanceRepository struct {
	store *Store
}

func (r *maintenanceRepository) Create(_ dbctx.Context, record domain.MaintenanceRecord) (domain.MaintenanceRecord, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.builds[record.BuildID]; !ok {
		return domain.MaintenanceRecord{}, fmt.Errorf("build %d: %w", record.BuildID, domain.ErrNotFound)
	}
	record.ID = s.nextID()
	record.CreatedAt = s.now()
	if record.OccurredAt.IsZero() {
		record.OccurredAt = record.CreatedAt
	}
	s.maintenance[record.ID] = record
	return record, nil
}

func (r *maintenanceRepository) Update(_ dbctx.Context, record domain.MaintenanceRecord) (domain.MaintenanceRecord, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.maintenance[record.ID]
	if !ok || existing.BuildID != record.BuildID {
		return domain.MaintenanceRecord{}, fmt.Errorf("maintenance record %d: %w", record.ID, domain.ErrNotFound)
	}
	record.CreatedAt = existing.CreatedAt
	if record.OccurredAt.IsZero() {
		record.OccurredAt = existing.OccurredAt
	}
	s.maintenance[record.ID] = record
	return record, nil
}

func (r *maintenanceRepository) GetByID(_ dbctx.Context, id int64) (domain.MaintenanceRecord, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.maintenance[id]
	if !ok {
		return domain.MaintenanceRecord{}, fmt.Errorf("maintenance record %d: %w", id, domain.ErrNotFound)
	}
	return record, nil
}
