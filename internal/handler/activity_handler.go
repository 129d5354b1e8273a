package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/apexcoding/apexcoding/internal/auth"
	"github.com/apexcoding/apexcoding/internal/service"
)

// ActivityHandler serves project messages and the activity feed.
type ActivityHandler struct {
	activityService *service.ActivityService
	logger          zerolog.Logger
}

// NewActivityHandler creates a new activity handler.
func NewActivityHandler(activityService *service.ActivityService, logger zerolog.Logger) *ActivityHandler {
	return &ActivityHandler{
		activityService: activityService,
		logger:          logger.With().Str("handler", "activity").Logger(),
	}
}

// RegisterRoutes registers activity routes.
func (h *ActivityHandler) RegisterRoutes(r chi.Router) {
	r.Post("/projects/{id}/messages", h.PostMessage)
	r.Get("/projects/{id}/activity", h.List)
}

type postMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

// PostMessage handles POST /projects/{id}/messages.
func (h *ActivityHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	activity, err := h.activityService.PostMessage(r.Context(), caller, urlParam(r, "id"), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, activity)
}

// List handles GET /projects/{id}/activity, newest first.
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
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

	res, err := h.activityService.List(r.Context(), caller, urlParam(r, "id"), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toPage(res))
}
