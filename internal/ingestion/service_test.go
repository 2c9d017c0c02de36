package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
	"github.com/rpattn/buildtrack/internal/eventlog"
	"github.com/rpattn/buildtrack/internal/export"
	"github.com/rpattn/buildtrack/internal/repository/memory"
	"github.com/rpattn/buildtrack/internal/revision"
	"github.com/rpattn/buildtrack/internal/snapshot"
	"github.com/rpattn/buildtrack/internal/userloader"
)

type fixture struct {
	service   *Service
	mem       *memory.Store
	snapshots *snapshot.Store
	events    *eventlog.Log
	dbc       dbctx.Context
	user      domain.User
	build     domain.Build
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	fixed := func() time.Time { return time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC) }
	mem := memory.NewStore(memory.WithClock(fixed))
	dbc := dbctx.New(context.Background())
	users := userloader.NewDirectory(mem.Users())

	user, err := mem.Users().Create(dbc, domain.User{Email: "importer@example.com"})
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	snapshots := snapshot.NewStore(mem.Builds(), mem.Snapshots(), users, snapshot.WithClock(fixed))
	events := eventlog.New(mem.Builds(), mem.ChangeEvents(), users, eventlog.WithClock(fixed))
	coord := revision.NewCoordinator(mem.Builds(), mem.Maintenance(), snapshots, events, revision.WithClock(fixed))

	build, _, err := coord.CreateBuild(dbc, revision.CreateBuildRequest{
		UserID: user.ID,
		Fields: map[string]json.RawMessage{"name": json.RawMessage(`"Old Name"`), "target_hp": json.RawMessage(`450`)},
		Slots:  map[string]json.RawMessage{"suspension": json.RawMessage(`{"front":"stock"}`)},
	})
	if err != nil {
		t.Fatalf("failed to create build: %v", err)
	}

	return fixture{
		service:   NewService(coord, mem.Builds()),
		mem:       mem,
		snapshots: snapshots,
		events:    events,
		dbc:       dbc,
		user:      user,
		build:     build,
	}
}

func (f fixture) request(fileName, data string) Request {
	return Request{BuildID: f.build.ID, UserID: f.user.ID, FileName: fileName, Data: strings.NewReader(data)}
}

func TestImportCSVAppliesValidRows(t *testing.T) {
	f := newFixture(t)
	data := `Field,Value
name,Track Car
rev_limit_rpm,7000
suspension,"{""front"":""coilover""}"
turbo,big
target_hp,lots
notes,
`
	summary, err := f.service.Import(f.dbc, f.request("uploads/build.csv", data))
	if err != nil {
		t.Fatalf("import returned error: %v", err)
	}

	if summary.TotalRows != 6 {
		t.Fatalf("expected 6 rows, got %d", summary.TotalRows)
	}
	if got := strings.Join(summary.Fields, ","); got != "name,rev_limit_rpm,suspension" {
		t.Fatalf("unexpected imported fields: %s", got)
	}
	if len(summary.Skipped) != 2 || summary.Skipped[0].Row != 5 || summary.Skipped[1].Row != 6 {
		t.Fatalf("unexpected skipped rows: %+v", summary.Skipped)
	}
	if summary.BatchID == nil || summary.NoChanges {
		t.Fatalf("expected a change batch, got %+v", summary)
	}

	build, err := f.mem.Builds().GetByID(f.dbc, f.build.ID)
	if err != nil {
		t.Fatalf("failed to reload build: %v", err)
	}
	if build.Field("name") != "Track Car" {
		t.Fatalf("expected name to be imported, got %v", build.Field("name"))
	}
	if build.Field("rev_limit_rpm") != int64(7000) {
		t.Fatalf("expected rev limit 7000, got %#v", build.Field("rev_limit_rpm"))
	}

	batch, err := f.events.Batch(f.dbc, *summary.BatchID)
	if err != nil {
		t.Fatalf("failed to load batch: %v", err)
	}
	if batch.Description != "Imported from build.csv" {
		t.Fatalf("unexpected batch description %q", batch.Description)
	}
	if len(batch.Changes) != 3 {
		t.Fatalf("expected 3 logged changes, got %d", len(batch.Changes))
	}
}

func TestImportDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	req := f.request("build.csv", "Field,Value\nname,Renamed\n")
	req.DryRun = true

	summary, err := f.service.Import(f.dbc, req)
	if err != nil {
		t.Fatalf("import returned error: %v", err)
	}
	if !summary.DryRun || summary.BatchID != nil || len(summary.Fields) != 1 {
		t.Fatalf("unexpected dry run summary: %+v", summary)
	}

	timeline, err := f.events.Timeline(f.dbc, f.build.ID, 0)
	if err != nil {
		t.Fatalf("failed to load timeline: %v", err)
	}
	if len(timeline) != 0 {
		t.Fatalf("dry run must not log changes, got %d batches", len(timeline))
	}
}

func TestImportExportedWorkbookIsNoOp(t *testing.T) {
	f := newFixture(t)
	exporter := export.NewService(f.mem.Builds(), f.snapshots, f.events)
	file, err := exporter.ExportBuild(f.dbc, f.build.ID, export.FormatXLSX)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	req := f.request(file.Name, "")
	req.Data = bytes.NewReader(file.Data)
	summary, err := f.service.Import(f.dbc, req)
	if err != nil {
		t.Fatalf("import returned error: %v", err)
	}
	if !summary.NoChanges || summary.BatchID != nil {
		t.Fatalf("expected re-import of an export to change nothing, got %+v", summary)
	}
	if len(summary.Unchanged) != len(domain.Slots) {
		t.Fatalf("expected every slot to be unchanged, got %v", summary.Unchanged)
	}
	if len(summary.Skipped) != 0 {
		t.Fatalf("unexpected skipped rows: %+v", summary.Skipped)
	}
}

func TestImportClearToken(t *testing.T) {
	f := newFixture(t)
	summary, err := f.service.Import(f.dbc, f.request("build.csv", "field,value\ntarget_hp,null\nsuspension,null\n"))
	if err != nil {
		t.Fatalf("import returned error: %v", err)
	}
	if summary.BatchID == nil {
		t.Fatalf("expected a change batch")
	}

	build, err := f.mem.Builds().GetByID(f.dbc, f.build.ID)
	if err != nil {
		t.Fatalf("failed to reload build: %v", err)
	}
	if build.Field("target_hp") != nil {
		t.Fatalf("expected target_hp to be cleared, got %v", build.Field("target_hp"))
	}
	if !build.Slots.Get(domain.SlotSuspension).IsAbsent() {
		t.Fatalf("expected suspension to be cleared")
	}
}

func TestImportRejectsBadFiles(t *testing.T) {
	f := newFixture(t)
	cases := map[string]Request{
		"unsupported extension": f.request("build.pdf", "Field,Value\n"),
		"missing header":        f.request("build.csv", "name,Old Name\n"),
		"empty file":            f.request("build.csv", ""),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.service.Import(f.dbc, req)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}

	_, err := f.service.Import(f.dbc, Request{BuildID: f.build.ID + 1000, FileName: "b.csv", Data: strings.NewReader("Field,Value\nname,x\n")})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for a missing build, got %v", err)
	}
}
