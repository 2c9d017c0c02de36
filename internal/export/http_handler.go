package export

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/rpattn/buildtrack/internal/auth"
	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
)

// OwnerLookup resolves the owner of a build for access checks.
type OwnerLookup interface {
	GetOwner(dbc dbctx.Context, id int64) (int64, error)
}

// ErrorWriter renders a failed request.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

type Handler struct {
	service  *Service
	owners   OwnerLookup
	writeErr ErrorWriter
}

// NewHTTPHandler serves GET /api/builds/{id}/export?format=xlsx|csv.
func NewHTTPHandler(service *Service, owners OwnerLookup, writeErr ErrorWriter) http.Handler {
	if writeErr == nil {
		writeErr = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
	return &Handler{service: service, owners: owners, writeErr: writeErr}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	buildID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || buildID <= 0 {
		h.writeErr(w, r, fmt.Errorf("%w: invalid build id", domain.ErrInvalidInput))
		return
	}
	format, err := ParseFormat(r.URL.Query().Get("format"))
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

	file, err := h.service.ExportBuild(dbc, buildID, format)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Data)
}
