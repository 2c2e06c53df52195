package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/attendance/internal/catalog"
	"github.com/kozaktomas/attendance/internal/facematch"
	"github.com/kozaktomas/attendance/internal/logger"
)

// IdentitiesHandler serves enrollment and the identity catalog.
type IdentitiesHandler struct {
	catalog *catalog.Catalog
	log     *logger.Logger
}

// NewIdentitiesHandler creates a new identities handler.
func NewIdentitiesHandler(cat *catalog.Catalog, log *logger.Logger) *IdentitiesHandler {
	return &IdentitiesHandler{catalog: cat, log: log}
}

// IdentityResponse represents an identity in API responses. Signatures are
// reported as a count only.
type IdentityResponse struct {
	ID         string    `json:"roll"`
	Name       string    `json:"name"`
	Signatures int       `json:"signatures"`
	ImagePaths []string  `json:"image_paths"`
	CreatedAt  time.Time `json:"created_at"`
	DeletedAt  time.Time `json:"deleted_at,omitzero"`
	Archive    string    `json:"archive,omitempty"`
}

func identityToResponse(i catalog.Identity) IdentityResponse {
	paths := i.MediaPaths
	if paths == nil {
		paths = []string{}
	}
	return IdentityResponse{
		ID:         i.ID,
		Name:       i.DisplayName,
		Signatures: len(i.Signatures),
		ImagePaths: paths,
		CreatedAt:  i.CreatedAt.Time,
	}
}

func archivedToResponse(a catalog.ArchivedIdentity) IdentityResponse {
	resp := identityToResponse(a.Identity)
	resp.DeletedAt = a.DeletedAt.Time
	resp.Archive = a.Dir
	return resp
}

type enrollRequest struct {
	Name         string                `json:"name"`
	Landmarks    []facematch.Landmarks `json:"landmarks"`
	ImagesBase64 []string              `json:"images_base64"`
	// ImageList is the field name older clients send.
	ImageList []string `json:"image_base64_list"`
}

// Enroll creates an identity from landmark sets or from images.
func (h *IdentitiesHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	images := req.ImagesBase64
	if len(images) == 0 {
		images = req.ImageList
	}

	var (
		ident *catalog.Identity
		err   error
	)
	switch {
	case len(images) > 0:
		data := make([][]byte, len(images))
		for i, s := range images {
			if data[i], err = decodeBase64Image(s); err != nil {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		ident, err = h.catalog.EnrollImages(r.Context(), req.Name, data)
	case len(req.Landmarks) > 0:
		captures := make([]catalog.Capture, len(req.Landmarks))
		for i, l := range req.Landmarks {
			captures[i] = catalog.Capture{Landmarks: l}
		}
		ident, err = h.catalog.Enroll(r.Context(), req.Name, captures)
	default:
		respondError(w, http.StatusBadRequest, "landmarks or images_base64 required")
		return
	}
	if err != nil {
		respondFailure(w, h.log, "enrollment", err)
		return
	}

	h.log.Info("enrolled via api", "id", ident.ID, "name", sanitizeForLog(ident.DisplayName))
	respondJSON(w, http.StatusCreated, identityToResponse(*ident))
}

// List returns all identities, or those matching ?q= by name.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		idents []catalog.Identity
		err    error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		idents, err = h.catalog.Search(r.Context(), q)
	} else {
		idents, err = h.catalog.List(r.Context())
	}
	if err != nil {
		respondFailure(w, h.log, "listing identities", err)
		return
	}

	response := make([]IdentityResponse, len(idents))
	for i := range idents {
		response[i] = identityToResponse(idents[i])
	}
	respondJSON(w, http.StatusOK, response)
}

// Get returns one identity.
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	ident, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, h.log, "getting identity", err)
		return
	}
	respondJSON(w, http.StatusOK, identityToResponse(*ident))
}

// Remove archives an identity.
func (h *IdentitiesHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	archived, err := h.catalog.Remove(r.Context(), id)
	if err != nil {
		respondFailure(w, h.log, "removing identity", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "deleted",
		"roll":    id,
		"archive": archived.Dir,
	})
}

// ListArchived returns the archive of removed identities.
func (h *IdentitiesHandler) ListArchived(w http.ResponseWriter, r *http.Request) {
	archived, err := h.catalog.ListArchived(r.Context())
	if err != nil {
		respondFailure(w, h.log, "listing archive", err)
		return
	}
	response := make([]IdentityResponse, len(archived))
	for i := range archived {
		response[i] = archivedToResponse(archived[i])
	}
	respondJSON(w, http.StatusOK, response)
}

// PurgeArchived permanently deletes one archive entry.
func (h *IdentitiesHandler) PurgeArchived(w http.ResponseWriter, r *http.Request) {
	dir := chi.URLParam(r, "dir")
	if err := h.catalog.PurgeArchived(r.Context(), dir); err != nil {
		respondFailure(w, h.log, "purging archive", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "purged", "archive": dir})
}

// Reconcile rebuilds the signature index from the identities.
func (h *IdentitiesHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.catalog.Reconcile(r.Context())
	if err != nil {
		respondFailure(w, h.log, "reconcile", err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
