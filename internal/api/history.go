package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/buildtrack/internal/auth"
	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
)

func (s *Server) handleSnapshotHistory(w http.ResponseWriter, r *http.Request) {
	dbc, buildID, err := s.authorizeBuild(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	history, err := s.snapshots.History(dbc, buildID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// handleLatestSnapshot answers null when the build has no snapshots yet.
func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	dbc, buildID, err := s.authorizeBuild(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	latest, err := s.snapshots.LatestSnapshot(dbc, buildID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// loadOwnedSnapshot fetches a snapshot by path value and checks its build's owner.
func (s *Server) loadOwnedSnapshot(dbc dbctx.Context, r *http.Request, name string) (domain.Snapshot, error) {
	id, err := pathID(r, name)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snapshot, err := s.snapshots.GetSnapshot(dbc, id)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := s.authorizeBuildID(dbc, r, snapshot.BuildID); err != nil {
		return domain.Snapshot{}, err
	}
	return snapshot, nil
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.loadOwnedSnapshot(dbctx.New(r.Context()), r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// authorizePair checks both snapshots exist, belong to one build and that the caller owns it.
func (s *Server) authorizePair(r *http.Request) (dbctx.Context, int64, int64, error) {
	dbc := dbctx.New(r.Context())
	before, err := s.loadOwnedSnapshot(dbc, r, "id")
	if err != nil {
		return dbc, 0, 0, err
	}
	after, err := s.loadOwnedSnapshot(dbc, r, "compareTo")
	if err != nil {
		return dbc, 0, 0, err
	}
	if before.BuildID != after.BuildID {
		return dbc, 0, 0, fmt.Errorf("snapshot %d for build %d: %w", after.ID, before.BuildID, domain.ErrNotFound)
	}
	return dbc, before.ID, after.ID, nil
}

func (s *Server) handleSnapshotDiff(w http.ResponseWriter, r *http.Request) {
	dbc, beforeID, afterID, err := s.authorizePair(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	diff, err := s.snapshots.GetSnapshotDiff(dbc, beforeID, afterID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (s *Server) handleSlotTextDiff(w http.ResponseWriter, r *http.Request) {
	slot, err := pathSlot(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dbc, beforeID, afterID, err := s.authorizePair(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	diff, err := s.snapshots.SlotTextDiff(dbc, beforeID, afterID, slot)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(diff))
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	dbc, buildID, err := s.authorizeBuild(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snapshotID, err := pathID(r, "snapshotId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	ok, err := s.snapshots.RestoreSnapshot(dbc, buildID, snapshotID, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": ok, "message": "Build restored"})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	dbc, buildID, err := s.authorizeBuild(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidInput))
			return
		}
	}
	timeline, err := s.events.Timeline(dbc, buildID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, timeline)
}

func (s *Server) handleFieldHistory(w http.ResponseWriter, r *http.Request) {
	dbc, buildID, err := s.authorizeBuild(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	field := strings.TrimSpace(r.URL.Query().Get("field"))
	if field == "" {
		s.writeError(w, r, fmt.Errorf("%w: field is required", domain.ErrInvalidInput))
		return
	}
	history, err := s.events.FieldHistory(dbc, buildID, field)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, name)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", domain.ErrInvalidInput, name)
	}
	return t, nil
}

type compareResponse struct {
	From    time.Time                     `json:"from"`
	To      time.Time                     `json:"to"`
	Changes map[string]domain.ValueChange `json:"changes"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	dbc, buildID, err := s.authorizeBuild(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, err := queryTime(r, "from")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	changes, err := s.events.CompareVersions(dbc, buildID, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, compareResponse{From: from, To: to, Changes: changes})
}

func (s *Server) handleBuildAt(w http.ResponseWriter, r *http.Request) {
	dbc, buildID, err := s.authorizeBuild(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	at, err := queryTime(r, "timestamp")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	build, err := s.events.BuildAtTimestamp(dbc, buildID, at)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, build)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := domain.ParseBatchID(r.PathValue("batchId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dbc := dbctx.New(r.Context())
	batch, err := s.events.Batch(dbc, batchID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.authorizeBuildID(dbc, r, batch.BuildID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}
