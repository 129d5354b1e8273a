package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/apexcoding/apexcoding/internal/auth"
	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
	"github.com/apexcoding/apexcoding/internal/service"
)

// ProjectHandler serves project CRUD.
type ProjectHandler struct {
	projectService *service.ProjectService
	logger         zerolog.Logger
}

// NewProjectHandler creates a new project handler.
func NewProjectHandler(projectService *service.ProjectService, logger zerolog.Logger) *ProjectHandler {
	return &ProjectHandler{
		projectService: projectService,
		logger:         logger.With().Str("handler", "project").Logger(),
	}
}

// RegisterRoutes registers project routes.
func (h *ProjectHandler) RegisterRoutes(r chi.Router) {
	r.Get("/projects", h.List)
	r.Post("/projects", h.Create)
	r.Get("/projects/{id}", h.Get)
	r.Patch("/projects/{id}", h.Update)
	r.Delete("/projects/{id}", h.Delete)
}

// =============================================================================
// Request Structs
// =============================================================================

type createProjectRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=5000"`
	Status      string `json:"status" validate:"projectstatus"`
	Language    string `json:"language" validate:"max=50"`
}

type updateProjectRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=100"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
	Status      *string `json:"status" validate:"omitempty,projectstatus"`
	Language    *string `json:"language" validate:"omitempty,max=50"`
}

func (req updateProjectRequest) toUpdate() domain.ProjectUpdate {
	u := domain.ProjectUpdate{
		Name:        req.Name,
		Description: req.Description,
		Language:    req.Language,
	}
	if req.Status != nil {
		status := domain.ProjectStatus(*req.Status)
		u.Status = &status
	}
	return u
}

// =============================================================================
// Handlers
// =============================================================================

// List handles GET /projects. The owner and member query parameters take a
// user id or "me".
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	filter := repository.ProjectFilter{
		OwnerID:     resolveMe(q.Get("owner"), caller),
		MemberID:    resolveMe(q.Get("member"), caller),
		ListOptions: opts,
	}

	res, err := h.projectService.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toPage(res))
}

// Create handles POST /projects.
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	project, err := h.projectService.Create(r.Context(), caller, service.CreateProjectInput{
		Name:        req.Name,
		Description: req.Description,
		Status:      domain.ProjectStatus(req.Status),
		Language:    req.Language,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, project)
}

// Get handles GET /projects/{id}.
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.projectService.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// Update handles PATCH /projects/{id}.
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req updateProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	project, err := h.projectService.Update(r.Context(), caller, urlParam(r, "id"), req.toUpdate())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, project)
}

// Delete handles DELETE /projects/{id}.
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.projectService.Delete(r.Context(), caller, urlParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Project deleted")
}

func resolveMe(id string, caller domain.Caller) string {
	if id == "me" {
		return caller.ID
	}
	return id
}
