package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/buildtrack/internal/auth"
	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
)

// maxUploadBytes caps the multipart form held in memory.
const maxUploadBytes = 32 << 20

// OwnerLookup resolves the owner of a build for access checks.
type OwnerLookup interface {
	GetOwner(dbc dbctx.Context, id int64) (int64, error)
}

// ErrorWriter renders a failed request.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Handler exposes sheet import as an HTTP endpoint.
type Handler struct {
	service  *Service
	owners   OwnerLookup
	writeErr ErrorWriter
}

// NewHTTPHandler serves POST /api/builds/{id}/import with a multipart "file"
// field and optional "description" and "dry_run" fields.
func NewHTTPHandler(service *Service, owners OwnerLookup, writeErr ErrorWriter) http.Handler {
	if writeErr == nil {
		writeErr = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	return &Handler{service: service, owners: owners, writeErr: writeErr}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	buildID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || buildID <= 0 {
		h.writeErr(w, r, fmt.Errorf("%w: invalid build id", domain.ErrInvalidInput))
		return
	}
	userID, err := auth.RequireUser(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	dbc := dbctx.New(r.Context())
	owner, err := h.owners.GetOwner(dbc, buildID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if err := auth.EnforceBuildOwner(r.Context(), owner); err != nil {
		h.writeErr(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeErr(w, r, err)
			return
		}
		h.writeErr(w, r, fmt.Errorf("%w: invalid form data: %v", domain.ErrInvalidInput, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeErr(w, r, fmt.Errorf("%w: file required: %v", domain.ErrInvalidInput, err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeErr(w, r, fmt.Errorf("%w: failed to read file: %v", domain.ErrInvalidInput, err))
		return
	}

	dryRun := false
	if raw := strings.TrimSpace(r.FormValue("dry_run")); raw != "" {
		dryRun, err = strconv.ParseBool(raw)
		if err != nil {
			h.writeErr(w, r, fmt.Errorf("%w: dry_run must be a boolean", domain.ErrInvalidInput))
			return
		}
	}

	summary, err := h.service.Import(dbc, Request{
		BuildID:     buildID,
		UserID:      userID,
		FileName:    header.Filename,
		Data:        bytes.NewReader(data),
		Description: strings.TrimSpace(r.FormValue("description")),
		DryRun:      dryRun,
		Provenance:  auth.Provenance(r),
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
