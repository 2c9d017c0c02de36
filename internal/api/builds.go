package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rpattn/buildtrack/internal/auth"
	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
	"github.com/rpattn/buildtrack/internal/revision"
)

// descriptionKey carries an optional change description inside a patch body.
const descriptionKey = "change_description"

type createBuildResponse struct {
	Build      domain.Build `json:"build"`
	SnapshotID int64        `json:"snapshot_id"`
}

// handleCreateBuild accepts a flat object of column values and slot documents.
func (s *Server) handleCreateBuild(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUser(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body map[string]json.RawMessage
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	req := revision.CreateBuildRequest{
		UserID: userID,
		Fields: map[string]json.RawMessage{},
		Slots:  map[string]json.RawMessage{},
	}
	for key, value := range body {
		if _, ok := domain.LookupColumn(key); ok {
			req.Fields[key] = value
			continue
		}
		if _, err := domain.ParseSlot(key); err == nil {
			req.Slots[key] = value
			continue
		}
		s.writeError(w, r, fmt.Errorf("%w: unknown build field %q", domain.ErrInvalidInput, key))
		return
	}

	build, snapshotID, err := s.coord.CreateBuild(dbctx.New(r.Context()), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createBuildResponse{Build: build, SnapshotID: snapshotID})
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	dbc, buildID, err := s.authorizeBuild(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	build, err := s.builds.GetByID(dbc, buildID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, build)
}

type patchResponse struct {
	Message   string                        `json:"message"`
	NoChanges bool                          `json:"no_changes"`
	BatchID   *domain.BatchID               `json:"batch_id,omitempty"`
	Changes   map[string]domain.ValueChange `json:"changes"`
	Warnings  []string                      `json:"warnings,omitempty"`
}

func (s *Server) handlePatchBuild(w http.ResponseWriter, r *http.Request) {
	dbc, buildID, err := s.authorizeBuild(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body map[string]json.RawMessage
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	var description string
	if raw, ok := body[descriptionKey]; ok {
		if err := json.Unmarshal(raw, &description); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %s must be a string", domain.ErrInvalidInput, descriptionKey))
			return
		}
		delete(body, descriptionKey)
	}
	userID, _ := auth.UserIDFromContext(r.Context())

	result, err := s.coord.PatchBuild(dbc, revision.PatchRequest{
		BuildID:     buildID,
		UserID:      userID,
		Changes:     body,
		Description: strings.TrimSpace(description),
		Provenance:  auth.Provenance(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := patchResponse{NoChanges: result.NoChanges, Changes: result.Changes, Warnings: result.Warnings}
	if result.NoChanges {
		resp.Message = "No changes detected"
	} else {
		resp.Message = "Build updated"
		batchID := result.BatchID
		resp.BatchID = &batchID
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReplaceSlot takes the new slot document as the whole request body.
func (s *Server) handleReplaceSlot(w http.ResponseWriter, r *http.Request) {
	dbc, buildID, err := s.authorizeBuild(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	slot, err := pathSlot(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := readRaw(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())

	result, err := s.coord.ReplaceSlot(dbc, revision.ReplaceSlotRequest{
		BuildID:  buildID,
		UserID:   userID,
		Slot:     slot,
		Document: doc,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMutationResponse(result))
}
