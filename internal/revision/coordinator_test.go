package revision

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
	"github.com/rpattn/buildtrack/internal/eventlog"
	"github.com/rpattn/buildtrack/internal/repository/memory"
	"github.com/rpattn/buildtrack/internal/snapshot"
	"github.com/rpattn/buildtrack/internal/userloader"
)

type tickClock struct {
	current time.Time
}

func (c *tickClock) Now() time.Time {
	c.current = c.current.Add(time.Second)
	return c.current
}

type fixture struct {
	mem       *memory.Store
	snapshots *snapshot.Store
	events    *eventlog.Log
	coord     *Coordinator
	dbc       dbctx.Context
	user      domain.User
	build     domain.Build
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := &tickClock{current: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	mem := memory.NewStore(memory.WithClock(clock.Now))
	dbc := dbctx.New(context.Background())
	users := userloader.NewDirectory(mem.Users())

	user, err := mem.Users().Create(dbc, domain.User{Email: "builder@example.com"})
	require.NoError(t, err)

	snapshots := snapshot.NewStore(mem.Builds(), mem.Snapshots(), users, snapshot.WithClock(clock.Now))
	events := eventlog.New(mem.Builds(), mem.ChangeEvents(), users, eventlog.WithClock(clock.Now))
	coord := NewCoordinator(mem.Builds(), mem.Maintenance(), snapshots, events, WithClock(clock.Now))

	build, _, err := coord.CreateBuild(dbc, CreateBuildRequest{
		UserID: user.ID,
		Fields: map[string]json.RawMessage{"name": json.RawMessage(`"Old Name"`), "target_hp": json.RawMessage(`450`)},
		Slots:  map[string]json.RawMessage{"suspension_json": json.RawMessage(`{"front":"stock"}`)},
	})
	require.NoError(t, err)

	return fixture{mem: mem, snapshots: snapshots, events: events, coord: coord, dbc: dbc, user: user, build: build}
}

func (f fixture) history(t *testing.T) []domain.SnapshotSummary {
	t.Helper()
	history, err := f.snapshots.History(f.dbc, f.build.ID)
	require.NoError(t, err)
	return history
}

func (f fixture) timeline(t *testing.T) []domain.ChangeBatch {
	t.Helper()
	timeline, err := f.events.Timeline(f.dbc, f.build.ID, 0)
	require.NoError(t, err)
	return timeline
}

func raw(s string) json.RawMessage {
	return json.RawMessage(s)
}

func TestCreateBuildCapturesInitialSnapshot(t *testing.T) {
	f := newFixture(t)

	history := f.history(t)
	require.Len(t, history, 1)
	assert.Equal(t, domain.SnapshotTypeInitial, history[0].Type)
	assert.Equal(t, `{"front":"stock"}`, history[0].Slots.Get(domain.SlotSuspension).String())
	assert.Equal(t, 450.0, f.build.Field("target_hp"))
}

func TestCreateBuildRequiresName(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.coord.CreateBuild(f.dbc, CreateBuildRequest{UserID: f.user.ID})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPatchBuildLogsSingleEvent(t *testing.T) {
	f := newFixture(t)

	result, err := f.coord.PatchBuild(f.dbc, PatchRequest{
		BuildID: f.build.ID,
		UserID:  f.user.ID,
		Changes: map[string]json.RawMessage{"name": raw(`"New Name"`)},
	})
	require.NoError(t, err)
	assert.False(t, result.NoChanges)
	require.Len(t, result.Changes, 1)

	batch, err := f.events.Batch(f.dbc, result.BatchID)
	require.NoError(t, err)
	require.Len(t, batch.Changes, 1)
	assert.Equal(t, "name", batch.Changes[0].Field)
	assert.Equal(t, `"Old Name"`, batch.Changes[0].OldValue.String())
	assert.Equal(t, `"New Name"`, batch.Changes[0].NewValue.String())
	assert.Equal(t, "Updated name", batch.Description)

	build, err := f.mem.Builds().GetByID(f.dbc, f.build.ID)
	require.NoError(t, err)
	assert.Equal(t, "New Name", build.Field("name"))
	assert.Len(t, f.history(t), 1, "partial updates do not capture snapshots")
}

func TestPatchBuildWithIdenticalValueWritesNothing(t *testing.T) {
	f := newFixture(t)

	result, err := f.coord.PatchBuild(f.dbc, PatchRequest{
		BuildID: f.build.ID,
		UserID:  f.user.ID,
		Changes: map[string]json.RawMessage{"name": raw(`"Old Name"`), "target_hp": raw(`450.0`)},
	})
	require.NoError(t, err)
	assert.True(t, result.NoChanges)
	assert.True(t, result.BatchID.IsZero())
	assert.Empty(t, f.timeline(t))
	assert.Len(t, f.history(t), 1)
}

func TestPatchBuildAlwaysIncludesSlots(t *testing.T) {
	f := newFixture(t)

	result, err := f.coord.PatchBuild(f.dbc, PatchRequest{
		BuildID:    f.build.ID,
		UserID:     f.user.ID,
		Changes:    map[string]json.RawMessage{"suspension": raw(`{"front":"stock"}`), "target_hp": raw(`450`)},
		Provenance: &domain.Provenance{IPAddress: "127.0.0.1"},
	})
	require.NoError(t, err)
	assert.False(t, result.NoChanges)
	require.Contains(t, result.Changes, "suspension")
	assert.NotContains(t, result.Changes, "target_hp")
	assert.Len(t, f.timeline(t), 1)
}

func TestPatchBuildClearsColumnAndSlot(t *testing.T) {
	f := newFixture(t)

	result, err := f.coord.PatchBuild(f.dbc, PatchRequest{
		BuildID: f.build.ID,
		UserID:  f.user.ID,
		Changes: map[string]json.RawMessage{"target_hp": raw(`null`), "suspension_json": raw(`null`)},
	})
	require.NoError(t, err)
	assert.True(t, result.Changes["target_hp"].New.IsNull())
	assert.True(t, result.Changes["suspension"].New.IsNull())

	build, err := f.mem.Builds().GetByID(f.dbc, f.build.ID)
	require.NoError(t, err)
	assert.Nil(t, build.Field("target_hp"))
	assert.True(t, build.Slots.Get(domain.SlotSuspension).IsAbsent())
}

func TestPatchBuildRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	cases := map[string]map[string]json.RawMessage{
		"unknown field":        {"horsepower": raw(`1`)},
		"wrong column type":    {"target_hp": raw(`"lots"`)},
		"slot not object":      {"brakes": raw(`[1,2]`)},
		"integer column":       {"rev_limit_rpm": raw(`7000.5`)},
		"integer out of range": {"rev_limit_rpm": raw(`1e30`)},
		"integer past int32":   {"rev_limit_rpm": raw(`3000000000`)},
	}
	for name, changes := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.coord.PatchBuild(f.dbc, PatchRequest{BuildID: f.build.ID, UserID: f.user.ID, Changes: changes})
			require.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
	assert.Empty(t, f.timeline(t))

	stored, err := f.mem.Builds().GetByID(f.dbc, f.build.ID)
	require.NoError(t, err)
	assert.Equal(t, f.build.Field("rev_limit_rpm"), stored.Field("rev_limit_rpm"))
}

func TestPatchBuildReportsRuleWarnings(t *testing.T) {
	f := newFixture(t)

	result, err := f.coord.PatchBuild(f.dbc, PatchRequest{
		BuildID: f.build.ID,
		UserID:  f.user.ID,
		Changes: map[string]json.RawMessage{"rev_limit_rpm": raw(`25000`)},
	})
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "rev_limit_rpm")
}

func TestPatchBuildMissingBuild(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.PatchBuild(f.dbc, PatchRequest{BuildID: 9999, Changes: map[string]json.RawMessage{"name": raw(`"x"`)}})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReplaceSlotCapturesBeforeAndAfter(t *testing.T) {
	f := newFixture(t)

	result, err := f.coord.ReplaceSlot(f.dbc, ReplaceSlotRequest{
		BuildID:  f.build.ID,
		UserID:   f.user.ID,
		Slot:     domain.SlotSuspension,
		Document: raw(`{"front":"coilover"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, PhaseAfterCaptured, result.Phase)

	diff, err := f.snapshots.GetSnapshotDiff(f.dbc, result.BeforeSnapshotID, result.AfterSnapshotID)
	require.NoError(t, err)
	require.Len(t, diff.Changes, 1)
	assert.Equal(t, `{"front":"stock"}`, diff.Changes[domain.SlotSuspension].Before.String())
	assert.Equal(t, `{"front":"coilover"}`, diff.Changes[domain.SlotSuspension].After.String())
	assert.Equal(t, "Before suspension update", diff.Before.Description)
	assert.Equal(t, domain.SnapshotTypeManualEdit, diff.After.Type)
}

func TestReplaceSlotEnforcesSizeLimit(t *testing.T) {
	f := newFixture(t)
	big := `{"blob":"` + strings.Repeat("x", domain.MaxSlotBytes) + `"}`

	_, err := f.coord.ReplaceSlot(f.dbc, ReplaceSlotRequest{BuildID: f.build.ID, UserID: f.user.ID, Slot: domain.SlotFrame, Document: raw(big)})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Len(t, f.history(t), 1)
}

type failingSnapshots struct {
	SnapshotCreator
	failOn int
	calls  int
}

func (s *failingSnapshots) CreateSnapshot(dbc dbctx.Context, buildID, userID int64, t domain.SnapshotType, d string, m *int64) (int64, error) {
	s.calls++
	if s.calls == s.failOn {
		return 0, errors.New("snapshot storage unavailable")
	}
	return s.SnapshotCreator.CreateSnapshot(dbc, buildID, userID, t, d, m)
}

func TestRunReportsPhaseOnFailure(t *testing.T) {
	f := newFixture(t)
	applyErr := errors.New("apply failed")

	cases := []struct {
		name   string
		failOn int
		apply  error
		phase  Phase
	}{
		{"before capture fails", 1, nil, PhaseIdle},
		{"apply fails", 0, applyErr, PhaseBeforeCaptured},
		{"after capture fails", 2, nil, PhaseApplied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snaps := &failingSnapshots{SnapshotCreator: f.snapshots, failOn: tc.failOn}
			coord := NewCoordinator(f.mem.Builds(), f.mem.Maintenance(), snaps, f.events)
			result, err := coord.Run(f.dbc, Mutation{
				BuildID: f.build.ID,
				UserID:  f.user.ID,
				After:   Capture{Type: domain.SnapshotTypeManualEdit},
				Apply: func(dbctx.Context) (Applied, error) {
					return Applied{}, tc.apply
				},
			})
			require.Error(t, err)
			assert.Equal(t, tc.phase, result.Phase)
			assert.Equal(t, tc.phase, PhaseOf(err))
			if tc.apply != nil {
				assert.ErrorIs(t, err, applyErr)
				assert.NotZero(t, result.BeforeSnapshotID, "the before snapshot stays behind")
			}
		})
	}
}

func TestRecordAndEditMaintenance(t *testing.T) {
	f := newFixture(t)
	notes := "Full synthetic"

	record, result, err := f.coord.RecordMaintenance(f.dbc, f.user.ID, domain.MaintenanceRecord{
		BuildID:         f.build.ID,
		MaintenanceType: "Oil change",
		Notes:           &notes,
	})
	require.NoError(t, err)
	assert.NotZero(t, record.ID)
	assert.Equal(t, PhaseAfterCaptured, result.Phase)

	after, err := f.snapshots.GetSnapshot(f.dbc, result.AfterSnapshotID)
	require.NoError(t, err)
	require.NotNil(t, after.MaintenanceID)
	assert.Equal(t, record.ID, *after.MaintenanceID)
	assert.Equal(t, "Oil change completed", after.Description)

	before, err := f.snapshots.GetSnapshot(f.dbc, result.BeforeSnapshotID)
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotTypeBeforeMaintenance, before.Type)
	assert.Nil(t, before.MaintenanceID)

	edited, editResult, err := f.coord.EditMaintenance(f.dbc, f.user.ID, record.ID, domain.MaintenanceRecord{MaintenanceType: "Oil and filter"})
	require.NoError(t, err)
	assert.Equal(t, f.build.ID, edited.BuildID)
	assert.Equal(t, "Oil and filter", edited.MaintenanceType)

	history := f.history(t)
	assert.Equal(t, domain.SnapshotTypeMaintenanceEdit, history[0].Type)
	assert.Equal(t, editResult.AfterSnapshotID, history[0].ID)
	assert.Equal(t, domain.SnapshotTypeBeforeMaintenanceEdit, history[1].Type)

	_, _, err = f.coord.RecordMaintenance(f.dbc, f.user.ID, domain.MaintenanceRecord{BuildID: f.build.ID})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	_, _, err = f.coord.EditMaintenance(f.dbc, f.user.ID, 424242, domain.MaintenanceRecord{MaintenanceType: "x"})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNoteLifecycle(t *testing.T) {
	f := newFixture(t)
	req := NoteRequest{BuildID: f.build.ID, UserID: f.user.ID, Slot: domain.SlotSuspension, Content: "Check bushings"}

	note, result, err := f.coord.AddNote(f.dbc, req)
	require.NoError(t, err)
	assert.NotEmpty(t, note.ID)

	after, err := f.snapshots.GetSnapshot(f.dbc, result.AfterSnapshotID)
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotTypeNoteAdd, after.Type)
	notes, err := domain.SlotNotes(after.Slots.Get(domain.SlotSuspension))
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Check bushings", notes[0].Content)

	req.NoteID = note.ID
	req.Content = "Bushings replaced"
	edited, _, err := f.coord.EditNote(f.dbc, req)
	require.NoError(t, err)
	assert.Equal(t, "Bushings replaced", edited.Content)
	require.NotNil(t, edited.EditedAt)

	_, err = f.coord.DeleteNote(f.dbc, req)
	require.NoError(t, err)

	slots, err := f.mem.Builds().GetSlots(f.dbc, f.build.ID)
	require.NoError(t, err)
	notes, err = domain.SlotNotes(slots.Get(domain.SlotSuspension))
	require.NoError(t, err)
	assert.Empty(t, notes)

	front, ok, err := slots.Get(domain.SlotSuspension).Lookup([]string{"front"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "stock", front.Text(), "notes must not disturb the rest of the slot")

	types := []domain.SnapshotType{}
	for _, s := range f.history(t) {
		types = append(types, s.Type)
	}
	assert.Equal(t, []domain.SnapshotType{
		domain.SnapshotTypeNoteDelete, domain.SnapshotTypeBeforeChange,
		domain.SnapshotTypeNoteEdit, domain.SnapshotTypeBeforeChange,
		domain.SnapshotTypeNoteAdd, domain.SnapshotTypeBeforeChange,
		domain.SnapshotTypeInitial,
	}, types)
}

func TestNoteErrorsTakeNoSnapshots(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.coord.EditNote(f.dbc, NoteRequest{BuildID: f.build.ID, Slot: domain.SlotBrakes, NoteID: "missing", Content: "x"})
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, _, err = f.coord.AddNote(f.dbc, NoteRequest{BuildID: f.build.ID, Slot: domain.SlotBrakes, Content: "   "})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Len(t, f.history(t), 1)
}
