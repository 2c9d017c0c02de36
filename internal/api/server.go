// Package api exposes builds and their revision history as JSON over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rpattn/buildtrack/internal/auth"
	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
	"github.com/rpattn/buildtrack/internal/eventlog"
	"github.com/rpattn/buildtrack/internal/export"
	"github.com/rpattn/buildtrack/internal/ingestion"
	"github.com/rpattn/buildtrack/internal/logger"
	"github.com/rpattn/buildtrack/internal/middleware"
	"github.com/rpattn/buildtrack/internal/repository"
	"github.com/rpattn/buildtrack/internal/revision"
	"github.com/rpattn/buildtrack/internal/snapshot"
)

// Deps collects what the handlers need.
type Deps struct {
	Builds       repository.BuildRepository
	Users        repository.UserRepository
	Snapshots    *snapshot.Store
	Events       *eventlog.Log
	Coordinator  *revision.Coordinator
	Exporter     *export.Service
	Importer     *ingestion.Service
	Logger       *logger.Logger
	Ready        func(ctx context.Context) error
	MaxBodyBytes int64
}

type Server struct {
	builds       repository.BuildRepository
	users        repository.UserRepository
	snapshots    *snapshot.Store
	events       *eventlog.Log
	coord        *revision.Coordinator
	exporter     *export.Service
	importer     *ingestion.Service
	log          *logger.Logger
	ready        func(ctx context.Context) error
	maxBodyBytes int64
}

func NewServer(deps Deps) *Server {
	s := &Server{
		builds:       deps.Builds,
		users:        deps.Users,
		snapshots:    deps.Snapshots,
		events:       deps.Events,
		coord:        deps.Coordinator,
		exporter:     deps.Exporter,
		importer:     deps.Importer,
		log:          deps.Logger,
		ready:        deps.Ready,
		maxBodyBytes: deps.MaxBodyBytes,
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = 2 * domain.MaxSlotBytes
	}
	return s
}

// Handler returns the routed API wrapped in the request middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /api/builds", s.handleCreateBuild)
	mux.HandleFunc("GET /api/builds/{id}", s.handleGetBuild)
	mux.HandleFunc("PATCH /api/builds/{id}", s.handlePatchBuild)
	mux.HandleFunc("PUT /api/builds/{id}/components/{slot}", s.handleReplaceSlot)

	mux.HandleFunc("GET /api/builds/{id}/snapshots", s.handleSnapshotHistory)
	mux.HandleFunc("GET /api/builds/{id}/snapshots/latest", s.handleLatestSnapshot)
	mux.HandleFunc("GET /api/snapshots/{id}", s.handleGetSnapshot)
	mux.HandleFunc("GET /api/snapshots/{id}/diff/{compareTo}", s.handleSnapshotDiff)
	mux.HandleFunc("GET /api/snapshots/{id}/diff/{compareTo}/{slot}", s.handleSlotTextDiff)
	mux.HandleFunc("POST /api/builds/{id}/restore/{snapshotId}", s.handleRestore)

	mux.HandleFunc("GET /api/builds/{id}/timeline", s.handleTimeline)
	mux.HandleFunc("GET /api/builds/{id}/history", s.handleFieldHistory)
	mux.HandleFunc("GET /api/builds/{id}/compare", s.handleCompare)
	mux.HandleFunc("GET /api/builds/{id}/at", s.handleBuildAt)
	mux.HandleFunc("GET /api/batches/{batchId}", s.handleBatch)

	mux.HandleFunc("POST /api/builds/{id}/maintenance", s.handleCreateMaintenance)
	mux.HandleFunc("PUT /api/maintenance/{id}", s.handleEditMaintenance)

	mux.HandleFunc("POST /api/builds/{id}/components/{slot}/notes", s.handleAddNote)
	mux.HandleFunc("PUT /api/builds/{id}/components/{slot}/notes/{noteId}", s.handleEditNote)
	mux.HandleFunc("DELETE /api/builds/{id}/components/{slot}/notes/{noteId}", s.handleDeleteNote)

	if s.exporter != nil {
		mux.Handle("GET /api/builds/{id}/export", export.NewHTTPHandler(s.exporter, s.builds, s.writeError))
	}
	if s.importer != nil {
		mux.Handle("POST /api/builds/{id}/import", ingestion.NewHTTPHandler(s.importer, s.builds, s.writeError))
	}

	return middleware.Chain(mux,
		middleware.LoggingMiddleware(s.log),
		middleware.BodyLimit(s.maxBodyBytes),
		auth.Middleware,
		middleware.DataLoaderMiddleware(s.users),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.log.Warn("readiness check failed", "error", err)
			writeProblem(w, r, http.StatusServiceUnavailable, "storage is not reachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// authorizeBuild checks that the caller owns the build named by the path value.
func (s *Server) authorizeBuild(r *http.Request, name string) (dbctx.Context, int64, error) {
	dbc := dbctx.New(r.Context())
	buildID, err := pathID(r, name)
	if err != nil {
		return dbc, 0, err
	}
	if err := s.authorizeBuildID(dbc, r, buildID); err != nil {
		return dbc, 0, err
	}
	return dbc, buildID, nil
}

func (s *Server) authorizeBuildID(dbc dbctx.Context, r *http.Request, buildID int64) error {
	if _, err := auth.RequireUser(r.Context()); err != nil {
		return err
	}
	owner, err := s.builds.GetOwner(dbc, buildID)
	if err != nil {
		return err
	}
	return auth.EnforceBuildOwner(r.Context(), owner)
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", domain.ErrInvalidInput, name, raw)
	}
	return id, nil
}

func pathSlot(r *http.Request) (domain.Slot, error) {
	return domain.ParseSlot(r.PathValue("slot"))
}

// decodeBody reads one JSON value from the request body.
func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", domain.ErrInvalidInput)
		}
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// readRaw reads the whole body as one raw JSON value.
func readRaw(r *http.Request) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := decodeBody(r, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

type mutationResponse struct {
	Success        bool  `json:"success"`
	SnapshotBefore int64 `json:"snapshot_before"`
	SnapshotAfter  int64 `json:"snapshot_after"`
}

func newMutationResponse(result revision.Result) mutationResponse {
	return mutationResponse{Success: true, SnapshotBefore: result.BeforeSnapshotID, SnapshotAfter: result.AfterSnapshotID}
}
