package snapshot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
	"github.com/rpattn/buildtrack/internal/repository/memory"
	"github.com/rpattn/buildtrack/internal/userloader"
)

type stepClock struct {
	current time.Time
}

func (c *stepClock) Now() time.Time {
	c.current = c.current.Add(time.Minute)
	return c.current
}

type fixture struct {
	mem   *memory.Store
	store *Store
	dbc   dbctx.Context
	user  domain.User
	build domain.Build
}

func newFixture(t *testing.T, slots domain.SlotSet) fixture {
	t.Helper()
	clock := &stepClock{current: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	mem := memory.NewStore(memory.WithClock(clock.Now))
	dbc := dbctx.New(context.Background())

	user, err := mem.Users().Create(dbc, domain.User{Email: "owner@example.com", FirstName: "Pat", LastName: "Owner"})
	require.NoError(t, err)
	build, err := mem.Builds().Create(dbc, domain.Build{
		UserID: user.ID,
		Fields: map[string]any{"name": "Project"},
		Slots:  slots,
	})
	require.NoError(t, err)

	store := NewStore(mem.Builds(), mem.Snapshots(), userloader.NewDirectory(mem.Users()), WithClock(clock.Now))
	return fixture{mem: mem, store: store, dbc: dbc, user: user, build: build}
}

func (f fixture) setSlot(t *testing.T, slot domain.Slot, doc domain.Document) {
	t.Helper()
	err := f.mem.Builds().ApplyPatch(f.dbc, f.build.ID, domain.BuildPatch{Slots: domain.SlotSet{slot: doc}})
	require.NoError(t, err)
}

func TestCreateSnapshotRoundTrip(t *testing.T) {
	f := newFixture(t, domain.SlotSet{
		domain.SlotSuspension: domain.MustDocument(map[string]any{"front": "stock"}),
		domain.SlotBrakes:     domain.MustDocument(map[string]any{}),
	})

	id, err := f.store.CreateSnapshot(f.dbc, f.build.ID, f.user.ID, domain.SnapshotTypeManualEdit, "edit", nil)
	require.NoError(t, err)

	snapshot, err := f.store.GetSnapshot(f.dbc, id)
	require.NoError(t, err)

	current, err := f.mem.Builds().GetSlots(f.dbc, f.build.ID)
	require.NoError(t, err)
	assert.True(t, snapshot.Slots.Equal(current))
	assert.Len(t, snapshot.Slots, len(domain.Slots))

	brakes := snapshot.Slots.Get(domain.SlotBrakes)
	assert.False(t, brakes.IsAbsent(), "empty object must not collapse to absent")
	assert.True(t, snapshot.Slots.Get(domain.SlotFrame).IsAbsent())
	assert.Equal(t, domain.SnapshotTypeManualEdit, snapshot.Type)
	assert.Equal(t, f.user.ID, snapshot.UserID)
}

func TestCreateSnapshotRejectsUnknownType(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.store.CreateSnapshot(f.dbc, f.build.ID, f.user.ID, domain.SnapshotType("after_change"), "", nil)
	require.ErrorIs(t, err, domain.ErrInvalidSnapshotType)
}

func TestCreateSnapshotMissingBuild(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.store.CreateSnapshot(f.dbc, 9999, f.user.ID, domain.SnapshotTypeManualEdit, "", nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetSnapshotDiffReportsChangedSlot(t *testing.T) {
	f := newFixture(t, domain.SlotSet{
		domain.SlotSuspension: domain.MustDocument(map[string]any{"front": "stock"}),
	})

	a, err := f.store.CreateSnapshot(f.dbc, f.build.ID, f.user.ID, domain.SnapshotTypeBeforeChange, "Before suspension update", nil)
	require.NoError(t, err)
	f.setSlot(t, domain.SlotSuspension, domain.MustDocument(map[string]any{"front": "coilover"}))
	b, err := f.store.CreateSnapshot(f.dbc, f.build.ID, f.user.ID, domain.SnapshotTypeManualEdit, "Updated suspension", nil)
	require.NoError(t, err)

	diff, err := f.store.GetSnapshotDiff(f.dbc, a, b)
	require.NoError(t, err)
	require.Len(t, diff.Changes, 1)

	change, ok := diff.Changes[domain.SlotSuspension]
	require.True(t, ok)
	assert.True(t, change.HasChanges)
	assert.Equal(t, `{"front":"stock"}`, change.Before.String())
	assert.Equal(t, `{"front":"coilover"}`, change.After.String())
	assert.Equal(t, domain.SnapshotTypeBeforeChange, diff.Before.Type)
	assert.Equal(t, "Updated suspension", diff.After.Description)

	reversed, err := f.store.GetSnapshotDiff(f.dbc, b, a)
	require.NoError(t, err)
	assert.Equal(t, `{"front":"coilover"}`, reversed.Changes[domain.SlotSuspension].Before.String())
}

func TestGetSnapshotDiffAbsentVersusPresent(t *testing.T) {
	f := newFixture(t, nil)

	a, err := f.store.CreateSnapshot(f.dbc, f.build.ID, f.user.ID, domain.SnapshotTypeBeforeChange, "", nil)
	require.NoError(t, err)
	f.setSlot(t, domain.SlotFrame, domain.MustDocument(map[string]any{}))
	b, err := f.store.CreateSnapshot(f.dbc, f.build.ID, f.user.ID, domain.SnapshotTypeManualEdit, "", nil)
	require.NoError(t, err)

	diff, err := f.store.GetSnapshotDiff(f.dbc, a, b)
	require.NoError(t, err)
	require.Contains(t, diff.Changes, domain.SlotFrame)
	assert.True(t, diff.Changes[domain.SlotFrame].Before.IsAbsent())
}

func TestGetSnapshotDiffIsReflexive(t *testing.T) {
	f := newFixture(t, domain.SlotSet{
		domain.SlotEngineInternals: domain.MustDocument(map[string]any{"pistons": "forged"}),
	})
	id, err := f.store.CreateSnapshot(f.dbc, f.build.ID, f.user.ID, domain.SnapshotTypeInitial, "", nil)
	require.NoError(t, err)

	diff, err := f.store.GetSnapshotDiff(f.dbc, id, id)
	require.NoError(t, err)
	assert.Empty(t, diff.Changes)
	assert.Equal(t, id, diff.Before.ID)
	assert.Equal(t, id, diff.After.ID)
}

func TestGetSnapshotDiffMissingSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.store.CreateSnapshot(f.dbc, f.build.ID, f.user.ID, domain.SnapshotTypeInitial, "", nil)
	require.NoError(t, err)

	_, err = f.store.GetSnapshotDiff(f.dbc, id, id+500)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRestoreSnapshot(t *testing.T) {
	f := newFixture(t, domain.SlotSet{
		domain.SlotSuspension: domain.MustDocument(map[string]any{"front": "stock"}),
	})
	target, err := f.store.CreateSnapshot(f.dbc, f.build.ID, f.user.ID, domain.SnapshotTypeInitial, "", nil)
	require.NoError(t, err)

	f.setSlot(t, domain.SlotSuspension, domain.MustDocument(map[string]any{"front": "coilover"}))
	f.setSlot(t, domain.SlotTransmission, domain.MustDocument(map[string]any{"model": "T56"}))

	ok, err := f.store.RestoreSnapshot(f.dbc, f.build.ID, target, f.user.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	fresh, err := f.store.CreateSnapshot(f.dbc, f.build.ID, f.user.ID, domain.SnapshotTypeManualEdit, "", nil)
	require.NoError(t, err)
	diff, err := f.store.GetSnapshotDiff(f.dbc, target, fresh)
	require.NoError(t, err)
	assert.Empty(t, diff.Changes)

	slots, err := f.mem.Builds().GetSlots(f.dbc, f.build.ID)
	require.NoError(t, err)
	assert.True(t, slots.Get(domain.SlotTransmission).IsAbsent(), "absent slots are restored to absent")

	history, err := f.store.History(f.dbc, f.build.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, domain.SnapshotTypeManualEdit, history[0].Type)
	assert.Equal(t, domain.SnapshotTypeRestored, history[1].Type)
	assert.Equal(t, "Restored to snapshot from 2024-03-01 09:02", history[1].Description)
	assert.Equal(t, domain.SnapshotTypeBeforeRestore, history[2].Type)
	assert.Equal(t, `{"front":"coilover"}`, history[2].Slots.Get(domain.SlotSuspension).String())
}

func TestRestoreSnapshotFromOtherBuild(t *testing.T) {
	f := newFixture(t, nil)
	other, err := f.mem.Builds().Create(f.dbc, domain.Build{UserID: f.user.ID})
	require.NoError(t, err)
	foreign, err := f.store.CreateSnapshot(f.dbc, other.ID, f.user.ID, domain.SnapshotTypeInitial, "", nil)
	require.NoError(t, err)

	_, err = f.store.RestoreSnapshot(f.dbc, f.build.ID, foreign, f.user.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	history, err := f.store.History(f.dbc, f.build.ID)
	require.NoError(t, err)
	assert.Empty(t, history, "a rejected restore must not capture snapshots")
}

func TestHistoryAnnotatesUsersAndMaintenance(t *testing.T) {
	f := newFixture(t, nil)
	notes := "5W-30"
	record, err := f.mem.Maintenance().Create(f.dbc, domain.MaintenanceRecord{
		BuildID:         f.build.ID,
		MaintenanceType: "Oil change",
		Notes:           &notes,
	})
	require.NoError(t, err)

	_, err = f.store.CreateSnapshot(f.dbc, f.build.ID, f.user.ID, domain.SnapshotTypeBeforeMaintenance, "Before Oil change", nil)
	require.NoError(t, err)
	_, err = f.store.CreateSnapshot(f.dbc, f.build.ID, f.user.ID, domain.SnapshotTypeMaintenance, "Oil change completed", &record.ID)
	require.NoError(t, err)

	history, err := f.store.History(f.dbc, f.build.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	newest := history[0]
	assert.Equal(t, domain.SnapshotTypeMaintenance, newest.Type)
	assert.Equal(t, "Pat Owner", newest.UserName)
	assert.Equal(t, "owner@example.com", newest.UserEmail)
	require.NotNil(t, newest.MaintenanceType)
	assert.Equal(t, "Oil change", *newest.MaintenanceType)
	require.NotNil(t, newest.MaintenanceNotes)
	assert.Equal(t, "5W-30", *newest.MaintenanceNotes)
	assert.Nil(t, history[1].MaintenanceType)
}

func TestLatestSnapshot(t *testing.T) {
	f := newFixture(t, nil)

	latest, err := f.store.LatestSnapshot(f.dbc, f.build.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = f.store.CreateSnapshot(f.dbc, f.build.ID, f.user.ID, domain.SnapshotTypeInitial, "", nil)
	require.NoError(t, err)
	second, err := f.store.CreateSnapshot(f.dbc, f.build.ID, f.user.ID, domain.SnapshotTypeManualEdit, "", nil)
	require.NoError(t, err)

	latest, err = f.store.LatestSnapshot(f.dbc, f.build.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second, latest.ID)
}

func TestGetSnapshotNotFound(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.store.GetSnapshot(f.dbc, 12345)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSlotTextDiff(t *testing.T) {
	f := newFixture(t, domain.SlotSet{
		domain.SlotSuspension: domain.MustDocument(map[string]any{"front": "stock", "rear": "leaf"}),
	})
	a, err := f.store.CreateSnapshot(f.dbc, f.build.ID, f.user.ID, domain.SnapshotTypeBeforeChange, "", nil)
	require.NoError(t, err)
	f.setSlot(t, domain.SlotSuspension, domain.MustDocument(map[string]any{"front": "coilover", "rear": "leaf"}))
	b, err := f.store.CreateSnapshot(f.dbc, f.build.ID, f.user.ID, domain.SnapshotTypeManualEdit, "", nil)
	require.NoError(t, err)

	diff, err := f.store.SlotTextDiff(f.dbc, a, b, domain.SlotSuspension)
	require.NoError(t, err)
	assert.Contains(t, diff, "-  front: \"stock\"")
	assert.Contains(t, diff, "+  front: \"coilover\"")
	assert.True(t, strings.Contains(diff, "   rear: \"leaf\""), diff)
}
