// Package snapshot captures and compares whole-build copies of the component slots.
package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
	"github.com/rpattn/buildtrack/internal/logger"
	"github.com/rpattn/buildtrack/internal/repository"
	"github.com/rpattn/buildtrack/internal/userloader"
)

// restoredTimeLayout formats the target snapshot time in restore descriptions.
const restoredTimeLayout = "2006-01-02 15:04"

type Store struct {
	builds    repository.BuildRepository
	snapshots repository.SnapshotRepository
	users     userloader.Lookup
	log       *logger.Logger
	now       func() time.Time
}

type Option func(*Store)

// WithClock sets the source of snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

func NewStore(
	builds repository.BuildRepository,
	snapshots repository.SnapshotRepository,
	users userloader.Lookup,
	opts ...Option,
) *Store {
	store := &Store{
		builds:    builds,
		snapshots: snapshots,
		users:     users,
		log:       logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// CreateSnapshot copies every slot of the build as it is now. Absent slots are
// stored as absent, not omitted.
func (s *Store) CreateSnapshot(
	dbc dbctx.Context,
	buildID, userID int64,
	snapshotType domain.SnapshotType,
	description string,
	maintenanceID *int64,
) (int64, error) {
	if _, err := domain.ParseSnapshotType(string(snapshotType)); err != nil {
		return 0, err
	}
	slots, err := s.builds.GetSlots(dbc, buildID)
	if err != nil {
		return 0, fmt.Errorf("failed to read build %d for snapshot: %w", buildID, err)
	}

	snapshot := domain.Snapshot{
		BuildID:       buildID,
		MaintenanceID: maintenanceID,
		Type:          snapshotType,
		Description:   description,
		UserID:        userID,
		Slots:         slots.Clone(),
		CreatedAt:     s.now().UTC(),
	}
	id, err := s.snapshots.Create(dbc, snapshot)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s snapshot: %w", snapshotType, err)
	}
	s.log.Debug("snapshot created", "build_id", buildID, "snapshot_id", id, "type", snapshotType)
	return id, nil
}

// GetSnapshot returns one snapshot or ErrNotFound.
func (s *Store) GetSnapshot(dbc dbctx.Context, id int64) (domain.Snapshot, error) {
	return s.snapshots.GetByID(dbc, id)
}

// LatestSnapshot returns the newest snapshot of a build, or nil when none exist yet.
func (s *Store) LatestSnapshot(dbc dbctx.Context, buildID int64) (*domain.Snapshot, error) {
	snapshot, err := s.snapshots.Latest(dbc, buildID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	return &snapshot, nil
}

// loadPair fetches both snapshots in one query. Equal ids are allowed.
func (s *Store) loadPair(dbc dbctx.Context, beforeID, afterID int64) (domain.Snapshot, domain.Snapshot, error) {
	ids := []int64{beforeID}
	if afterID != beforeID {
		ids = append(ids, afterID)
	}
	loaded, err := s.snapshots.GetByIDs(dbc, ids)
	if err != nil {
		return domain.Snapshot{}, domain.Snapshot{}, fmt.Errorf("failed to load snapshots: %w", err)
	}
	byID := make(map[int64]domain.Snapshot, len(loaded))
	for _, snapshot := range loaded {
		byID[snapshot.ID] = snapshot
	}
	before, ok := byID[beforeID]
	if !ok {
		return domain.Snapshot{}, domain.Snapshot{}, fmt.Errorf("snapshot %d: %w", beforeID, domain.ErrNotFound)
	}
	after, ok := byID[afterID]
	if !ok {
		return domain.Snapshot{}, domain.Snapshot{}, fmt.Errorf("snapshot %d: %w", afterID, domain.ErrNotFound)
	}
	return before, after, nil
}

// GetSnapshotDiff lists the slots whose documents differ between two snapshots.
// The caller decides which side is "before".
func (s *Store) GetSnapshotDiff(dbc dbctx.Context, beforeID, afterID int64) (domain.SnapshotDiff, error) {
	before, after, err := s.loadPair(dbc, beforeID, afterID)
	if err != nil {
		return domain.SnapshotDiff{}, err
	}
	return domain.SnapshotDiff{
		Before:  before.Meta(),
		After:   after.Meta(),
		Changes: domain.DiffSlots(before.Slots, after.Slots),
	}, nil
}

// SlotTextDiff renders one slot of two snapshots as a unified diff.
func (s *Store) SlotTextDiff(dbc dbctx.Context, beforeID, afterID int64, slot domain.Slot) (string, error) {
	before, after, err := s.loadPair(dbc, beforeID, afterID)
	if err != nil {
		return "", err
	}
	diff, err := domain.DiffSlotSnapshots(domain.NewSlotSnapshot(before, slot), domain.NewSlotSnapshot(after, slot))
	if err != nil {
		return "", fmt.Errorf("failed to render %s diff: %w", slot, err)
	}
	return diff, nil
}

// RestoreSnapshot overwrites every slot of the build with the target snapshot,
// bracketed by before_restore and restored snapshots. The steps are not atomic:
// a failed overwrite leaves the before_restore snapshot behind.
func (s *Store) RestoreSnapshot(dbc dbctx.Context, buildID, snapshotID, userID int64) (bool, error) {
	target, err := s.snapshots.GetByID(dbc, snapshotID)
	if err != nil {
		return false, err
	}
	if target.BuildID != buildID {
		return false, fmt.Errorf("snapshot %d for build %d: %w", snapshotID, buildID, domain.ErrNotFound)
	}

	if _, err := s.CreateSnapshot(dbc, buildID, userID, domain.SnapshotTypeBeforeRestore,
		fmt.Sprintf("Before restoring to snapshot %d", snapshotID), nil); err != nil {
		return false, err
	}

	restored := make(domain.SlotSet, len(domain.Slots))
	for _, slot := range domain.Slots {
		restored[slot] = target.Slots.Get(slot).Clone()
	}
	if err := s.builds.ReplaceSlots(dbc, buildID, restored); err != nil {
		return false, fmt.Errorf("failed to restore build %d: %w", buildID, err)
	}

	description := fmt.Sprintf("Restored to snapshot from %s", target.CreatedAt.UTC().Format(restoredTimeLayout))
	if _, err := s.CreateSnapshot(dbc, buildID, userID, domain.SnapshotTypeRestored, description, nil); err != nil {
		return false, err
	}
	s.log.Info("build restored", "build_id", buildID, "snapshot_id", snapshotID, "user_id", userID)
	return true, nil
}

// History lists every snapshot of the build, newest first, with the actor's
// display name and any linked maintenance record.
func (s *Store) History(dbc dbctx.Context, buildID int64) ([]domain.SnapshotSummary, error) {
	records, err := s.snapshots.ListByBuild(dbc, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	userIDs := make([]int64, 0, len(records))
	for _, record := range records {
		userIDs = append(userIDs, record.UserID)
	}
	users, err := s.users.Users(dbc.Context(), userIDs)
	if err != nil {
		return nil, err
	}

	out := make([]domain.SnapshotSummary, 0, len(records))
	for _, record := range records {
		summary := domain.SnapshotSummary{
			Snapshot:         record.Snapshot,
			MaintenanceType:  record.MaintenanceType,
			MaintenanceNotes: record.MaintenanceNotes,
		}
		if user, ok := users[record.UserID]; ok {
			summary.UserName = user.DisplayName()
			summary.UserEmail = user.Email
		}
		out = append(out, summary)
	}
	return out, nil
}
