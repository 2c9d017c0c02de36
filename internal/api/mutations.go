package api

import (
	"net/http"

	"github.com/rpattn/buildtrack/internal/auth"
	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
	"github.com/rpattn/buildtrack/internal/revision"
)

type maintenanceResponse struct {
	mutationResponse
	Maintenance domain.MaintenanceRecord `json:"maintenance"`
}

func (s *Server) handleCreateMaintenance(w http.ResponseWriter, r *http.Request) {
	dbc, buildID, err := s.authorizeBuild(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var record domain.MaintenanceRecord
	if err := decodeBody(r, &record); err != nil {
		s.writeError(w, r, err)
		return
	}
	record.ID = 0
	record.BuildID = buildID
	userID, _ := auth.UserIDFromContext(r.Context())

	saved, result, err := s.coord.RecordMaintenance(dbc, userID, record)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, maintenanceResponse{mutationResponse: newMutationResponse(result), Maintenance: saved})
}

func (s *Server) handleEditMaintenance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dbc := dbctx.New(r.Context())
	existing, err := s.coord.GetMaintenance(dbc, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.authorizeBuildID(dbc, r, existing.BuildID); err != nil {
		s.writeError(w, r, err)
		return
	}
	var update domain.MaintenanceRecord
	if err := decodeBody(r, &update); err != nil {
		s.writeError(w, r, err)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())

	saved, result, err := s.coord.EditMaintenance(dbc, userID, id, update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, maintenanceResponse{mutationResponse: newMutationResponse(result), Maintenance: saved})
}

type notePayload struct {
	Content string `json:"content"`
}

type noteResponse struct {
	mutationResponse
	Note domain.ComponentNote `json:"note"`
}

// noteRequest resolves the build, slot and caller shared by every note route.
func (s *Server) noteRequest(r *http.Request, withBody bool) (dbctx.Context, revision.NoteRequest, error) {
	dbc, buildID, err := s.authorizeBuild(r, "id")
	if err != nil {
		return dbc, revision.NoteRequest{}, err
	}
	slot, err := pathSlot(r)
	if err != nil {
		return dbc, revision.NoteRequest{}, err
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	req := revision.NoteRequest{BuildID: buildID, UserID: userID, Slot: slot, NoteID: r.PathValue("noteId")}
	if withBody {
		var payload notePayload
		if err := decodeBody(r, &payload); err != nil {
			return dbc, revision.NoteRequest{}, err
		}
		req.Content = payload.Content
	}
	return dbc, req, nil
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	dbc, req, err := s.noteRequest(r, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	note, result, err := s.coord.AddNote(dbc, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, noteResponse{mutationResponse: newMutationResponse(result), Note: note})
}

func (s *Server) handleEditNote(w http.ResponseWriter, r *http.Request) {
	dbc, req, err := s.noteRequest(r, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	note, result, err := s.coord.EditNote(dbc, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, noteResponse{mutationResponse: newMutationResponse(result), Note: note})
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	dbc, req, err := s.noteRequest(r, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.coord.DeleteNote(dbc, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMutationResponse(result))
}
