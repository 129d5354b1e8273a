package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/apexcoding/apexcoding/internal/auth"
	"github.com/apexcoding/apexcoding/internal/service"
)

// CommitHandler serves the commit ledger.
type CommitHandler struct {
	commitService *service.CommitService
	logger        zerolog.Logger
}

// NewCommitHandler creates a new commit handler.
func NewCommitHandler(commitService *service.CommitService, logger zerolog.Logger) *CommitHandler {
	return &CommitHandler{
		commitService: commitService,
		logger:        logger.With().Str("handler", "commit").Logger(),
	}
}

// RegisterRoutes registers commit routes.
func (h *CommitHandler) RegisterRoutes(r chi.Router) {
	r.Post("/commits", h.Record)
	r.Get("/commits/{id}", h.Get)
	r.Delete("/commits/{id}", h.Delete)
	r.Get("/projects/{id}/commits", h.ListByProject)
}

// recordCommitRequest is the body of POST /commits. Author is accepted for
// compatibility with older clients and ignored; the display name is taken
// from the attributed user.
type recordCommitRequest struct {
	ProjectID    string `json:"projectId" validate:"required"`
	Message      string `json:"message" validate:"required"`
	FilesChanged int    `json:"filesChanged" validate:"gte=0"`
	Author       string `json:"author"`
	UserID       string `json:"userId"`
}

// Record handles POST /commits.
func (h *CommitHandler) Record(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req recordCommitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	commit, err := h.commitService.RecordCommit(r.Context(), caller, service.RecordCommitInput{
		ProjectID:    req.ProjectID,
		Message:      req.Message,
		FilesChanged: req.FilesChanged,
		UserID:       req.UserID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, commit)
}

// Get handles GET /commits/{id}.
func (h *CommitHandler) Get(w http.ResponseWriter, r *http.Request) {
	commit, err := h.commitService.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, commit)
}

// Delete handles DELETE /commits/{id}. Admin only.
func (h *CommitHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.commitService.Delete(r.Context(), caller, urlParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Commit deleted")
}

// ListByProject handles GET /projects/{id}/commits, newest first.
func (h *CommitHandler) ListByProject(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.commitService.ListByProject(r.Context(), urlParam(r, "id"), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toPage(res))
}
