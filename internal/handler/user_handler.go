package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/apexcoding/apexcoding/internal/auth"
	"github.com/apexcoding/apexcoding/internal/service"
)

// UserHandler serves profiles, friendships and account deletion.
type UserHandler struct {
	userService *service.UserService
	logger      zerolog.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(userService *service.UserService, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		logger:      logger.With().Str("handler", "user").Logger(),
	}
}

// RegisterRoutes registers user routes. chi matches the static "me" segment
// ahead of {id}.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Get("/users/me", h.Me)
	r.Patch("/users/me", h.UpdateMe)
	r.Post("/users/me/friends/{friendId}", h.AddFriend)
	r.Delete("/users/me", h.Delete)
	r.Delete("/users/me/friends/{friendId}", h.RemoveFriend)
	r.Get("/users/{id}", h.Get)
	r.Delete("/users/{id}", h.Delete)
}

type updateProfileRequest struct {
	Name   *string `json:"name" validate:"omitempty,max=100"`
	Avatar *string `json:"avatar" validate:"omitempty,max=2048"`
	Title  *string `json:"title" validate:"omitempty,max=100"`
	Bio    *string `json:"bio"`
}

// Me handles GET /users/me.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.userService.Get(r.Context(), caller.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

// Get handles GET /users/{id}.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

// UpdateMe handles PATCH /users/me.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.userService.UpdateProfile(r.Context(), caller, service.ProfileUpdate{
		Name:   req.Name,
		Avatar: req.Avatar,
		Title:  req.Title,
		Bio:    req.Bio,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

// Delete handles DELETE /users/{id} and DELETE /users/me. Users may delete
// themselves; admins may delete anyone.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	userID := urlParam(r, "id")
	if userID == "" {
		userID = caller.ID
	}
	if err := h.userService.Delete(r.Context(), caller, userID); err != nil {
		writeError(w, r, err)
		return
	}

	h.logger.Info().Str("user_id", userID).Str("by", caller.ID).Msg("user deleted")
	writeMessage(w, http.StatusOK, "User deleted")
}

// AddFriend handles POST /users/me/friends/{friendId}.
func (h *UserHandler) AddFriend(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.userService.AddFriend(r.Context(), caller, urlParam(r, "friendId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Friend added", Data: user})
}

// RemoveFriend handles DELETE /users/me/friends/{friendId}.
func (h *UserHandler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.userService.RemoveFriend(r.Context(), caller, urlParam(r, "friendId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Friend removed", Data: user})
}
