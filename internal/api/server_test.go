package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/buildtrack/internal/auth"
	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
	"github.com/rpattn/buildtrack/internal/eventlog"
	"github.com/rpattn/buildtrack/internal/export"
	"github.com/rpattn/buildtrack/internal/ingestion"
	"github.com/rpattn/buildtrack/internal/repository/memory"
	"github.com/rpattn/buildtrack/internal/revision"
	"github.com/rpattn/buildtrack/internal/snapshot"
	"github.com/rpattn/buildtrack/internal/userloader"
)

type testServer struct {
	handler  http.Handler
	owner    domain.User
	stranger domain.User
}

func newTestServer(t *testing.T, ready func(context.Context) error) testServer {
	t.Helper()
	mem := memory.NewStore()
	dbc := dbctx.New(context.Background())
	owner, err := mem.Users().Create(dbc, domain.User{Email: "owner@example.com", FirstName: "Olive"})
	require.NoError(t, err)
	stranger, err := mem.Users().Create(dbc, domain.User{Email: "stranger@example.com"})
	require.NoError(t, err)

	users := userloader.NewDirectory(mem.Users())
	snapshots := snapshot.NewStore(mem.Builds(), mem.Snapshots(), users)
	events := eventlog.New(mem.Builds(), mem.ChangeEvents(), users)
	coordinator := revision.NewCoordinator(mem.Builds(), mem.Maintenance(), snapshots, events)
	server := NewServer(Deps{
		Builds:      mem.Builds(),
		Users:       mem.Users(),
		Snapshots:   snapshots,
		Events:      events,
		Coordinator: coordinator,
		Exporter:    export.NewService(mem.Builds(), snapshots, events),
		Importer:    ingestion.NewService(coordinator, mem.Builds()),
		Ready:       ready,
	})
	return testServer{handler: server.Handler(), owner: owner, stranger: stranger}
}

func (ts testServer) do(t *testing.T, user *domain.User, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != nil {
		req.Header.Set(auth.UserHeader, strconv.FormatInt(user.ID, 10))
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ts testServer) createBuild(t *testing.T) int64 {
	t.Helper()
	rec := ts.do(t, &ts.owner, http.MethodPost, "/api/builds", `{"name":"Old Name","suspension_json":{"front":"stock"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		Build      map[string]any `json:"build"`
		SnapshotID int64          `json:"snapshot_id"`
	}](t, rec)
	assert.NotZero(t, created.SnapshotID)
	return int64(created.Build["id"].(float64))
}

func TestPatchBuildReturnsBatchReference(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createBuild(t)

	rec := ts.do(t, &ts.owner, http.MethodPatch, fmt.Sprintf("/api/builds/%d", id), `{"name":"New Name"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	patched := decode[struct {
		Message string `json:"message"`
		BatchID string `json:"batch_id"`
	}](t, rec)
	assert.Equal(t, "Build updated", patched.Message)
	require.NotEmpty(t, patched.BatchID)

	rec = ts.do(t, &ts.owner, http.MethodGet, "/api/batches/"+patched.BatchID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	batch := decode[domain.ChangeBatch](t, rec)
	require.Len(t, batch.Changes, 1)
	assert.Equal(t, "name", batch.Changes[0].Field)
	assert.Equal(t, "Old Name", batch.Changes[0].OldValue.Text())
	assert.Equal(t, "New Name", batch.Changes[0].NewValue.Text())
	assert.Equal(t, "Olive", batch.UserName)

	rec = ts.do(t, &ts.stranger, http.MethodGet, "/api/batches/"+patched.BatchID, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPatchBuildWithoutChanges(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createBuild(t)

	rec := ts.do(t, &ts.owner, http.MethodPatch, fmt.Sprintf("/api/builds/%d", id), `{"name":"Old Name"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "No changes detected", body["message"])
	assert.Equal(t, true, body["no_changes"])
	assert.NotContains(t, body, "batch_id")

	rec = ts.do(t, &ts.owner, http.MethodGet, fmt.Sprintf("/api/builds/%d/timeline", id), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestAccessControl(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createBuild(t)
	path := fmt.Sprintf("/api/builds/%d", id)

	rec := ts.do(t, nil, http.MethodGet, path, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, &ts.stranger, http.MethodGet, path, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	problem := decode[Problem](t, rec)
	assert.Equal(t, http.StatusForbidden, problem.Status)
	assert.Equal(t, path, problem.Instance)

	rec = ts.do(t, &ts.owner, http.MethodGet, "/api/builds/98765", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, &ts.owner, http.MethodGet, "/api/builds/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplaceSlotAndDiff(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createBuild(t)

	rec := ts.do(t, &ts.owner, http.MethodPut, fmt.Sprintf("/api/builds/%d/components/suspension", id), `{"front":"coilover"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[mutationResponse](t, rec)
	assert.True(t, result.Success)

	rec = ts.do(t, &ts.owner, http.MethodGet, fmt.Sprintf("/api/snapshots/%d/diff/%d", result.SnapshotBefore, result.SnapshotAfter), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	diff := decode[struct {
		Changes map[string]struct {
			Before     map[string]any `json:"before"`
			After      map[string]any `json:"after"`
			HasChanges bool           `json:"has_changes"`
		} `json:"changes"`
	}](t, rec)
	require.Len(t, diff.Changes, 1)
	assert.Equal(t, "stock", diff.Changes["suspension"].Before["front"])
	assert.Equal(t, "coilover", diff.Changes["suspension"].After["front"])

	rec = ts.do(t, &ts.owner, http.MethodGet, fmt.Sprintf("/api/snapshots/%d/diff/%d/suspension_json", result.SnapshotBefore, result.SnapshotAfter), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "+  front: \"coilover\"")

	rec = ts.do(t, &ts.owner, http.MethodPut, fmt.Sprintf("/api/builds/%d/components/turbo", id), `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, &ts.owner, http.MethodGet, fmt.Sprintf("/api/builds/%d/snapshots", id), "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]map[string]any](t, rec)
	require.Len(t, history, 3)
	assert.Equal(t, "manual_edit", history[0]["snapshot_type"])
	assert.Equal(t, "Olive", history[0]["user_name"])
}

func TestRestoreEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createBuild(t)

	rec := ts.do(t, &ts.owner, http.MethodGet, fmt.Sprintf("/api/builds/%d/snapshots/latest", id), "")
	require.Equal(t, http.StatusOK, rec.Code)
	initial := decode[domain.Snapshot](t, rec)

	rec = ts.do(t, &ts.owner, http.MethodPut, fmt.Sprintf("/api/builds/%d/components/suspension", id), `{"front":"air"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, &ts.owner, http.MethodPost, fmt.Sprintf("/api/builds/%d/restore/%d", id, initial.ID), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, &ts.owner, http.MethodGet, fmt.Sprintf("/api/builds/%d", id), "")
	require.Equal(t, http.StatusOK, rec.Code)
	build := decode[map[string]any](t, rec)
	assert.Equal(t, map[string]any{"front": "stock"}, build["suspension"])

	rec = ts.do(t, &ts.owner, http.MethodPost, fmt.Sprintf("/api/builds/%d/restore/%d", id, 99999), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryQueriesValidateInput(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createBuild(t)

	cases := map[string]string{
		"missing field":   fmt.Sprintf("/api/builds/%d/history", id),
		"bad field path":  fmt.Sprintf("/api/builds/%d/history?field=nope", id),
		"bad timestamp":   fmt.Sprintf("/api/builds/%d/at?timestamp=yesterday", id),
		"missing compare": fmt.Sprintf("/api/builds/%d/compare?from=2024-01-01T00:00:00Z", id),
		"bad limit":       fmt.Sprintf("/api/builds/%d/timeline?limit=-3", id),
		"bad batch id":    "/api/batches/not-a-uuid",
		"bad export type": fmt.Sprintf("/api/builds/%d/export?format=pdf", id),
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			rec := ts.do(t, &ts.owner, http.MethodGet, path, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := ts.do(t, &ts.owner, http.MethodGet, fmt.Sprintf("/api/builds/%d/compare?from=2000-01-01T00:00:00Z&to=2100-01-01T00:00:00Z", id), "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, &ts.owner, http.MethodGet, fmt.Sprintf("/api/builds/%d/at?timestamp=2000-01-01T00:00:00Z", id), "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, &ts.owner, http.MethodGet, fmt.Sprintf("/api/builds/%d/history?field=suspension_json.front", id), "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMaintenanceAndNotesEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createBuild(t)

	rec := ts.do(t, &ts.owner, http.MethodPost, fmt.Sprintf("/api/builds/%d/maintenance", id), `{"maintenance_type":"Brake bleed","cost":40}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[maintenanceResponse](t, rec)
	assert.Equal(t, "Brake bleed", created.Maintenance.MaintenanceType)
	assert.NotZero(t, created.SnapshotAfter)

	rec = ts.do(t, &ts.stranger, http.MethodPut, fmt.Sprintf("/api/maintenance/%d", created.Maintenance.ID), `{"maintenance_type":"x"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ts.do(t, &ts.owner, http.MethodPut, fmt.Sprintf("/api/maintenance/%d", created.Maintenance.ID), `{"maintenance_type":"Brake flush"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	notesPath := fmt.Sprintf("/api/builds/%d/components/brakes/notes", id)
	rec = ts.do(t, &ts.owner, http.MethodPost, notesPath, `{"content":"Pads at 50%"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	note := decode[noteResponse](t, rec)
	require.NotEmpty(t, note.Note.ID)

	rec = ts.do(t, &ts.owner, http.MethodPut, notesPath+"/"+note.Note.ID, `{"content":"Pads replaced"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, &ts.owner, http.MethodDelete, notesPath+"/"+note.Note.ID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, &ts.owner, http.MethodDelete, notesPath+"/"+note.Note.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createBuild(t)

	rec := ts.do(t, &ts.owner, http.MethodGet, fmt.Sprintf("/api/builds/%d/export?format=csv", id), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, export.FormatCSV.ContentType(), rec.Header().Get("Content-Type"))

	rec = ts.do(t, &ts.stranger, http.MethodGet, fmt.Sprintf("/api/builds/%d/export", id), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestImportEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createBuild(t)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "sheet.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("Field,Value\nname,Imported Name\n"))
	require.NoError(t, err)
	require.NoError(t, form.WriteField("description", "Bulk edit"))
	require.NoError(t, form.Close())

	send := func(user *domain.User) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/builds/%d/import", id), bytes.NewReader(body.Bytes()))
		req.Header.Set("Content-Type", form.FormDataContentType())
		req.Header.Set(auth.UserHeader, strconv.FormatInt(user.ID, 10))
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send(&ts.stranger)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(&ts.owner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[ingestion.Summary](t, rec)
	require.NotNil(t, summary.BatchID)

	rec = ts.do(t, &ts.owner, http.MethodGet, "/api/batches/"+summary.BatchID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	batch := decode[domain.ChangeBatch](t, rec)
	assert.Equal(t, "Bulk edit", batch.Description)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, func(context.Context) error { return errors.New("db down") })

	rec := ts.do(t, nil, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, nil, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBodyTooLarge(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createBuild(t)
	big := `{"blob":"` + strings.Repeat("x", 2*domain.MaxSlotBytes+10) + `"}`

	rec := ts.do(t, &ts.owner, http.MethodPut, fmt.Sprintf("/api/builds/%d/components/frame", id), big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.ErrNotFound:                       http.StatusNotFound,
		fmt.Errorf("x: %w", domain.ErrForbidden): http.StatusForbidden,
		domain.ErrInvalidSnapshotType:            http.StatusBadRequest,
		domain.ErrInvalidFieldPath:               http.StatusBadRequest,
		auth.ErrUnauthenticated:                  http.StatusUnauthorized,
		errors.New("connection reset"):           http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}
