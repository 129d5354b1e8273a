package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/apexcoding/apexcoding/internal/auth"
	"github.com/apexcoding/apexcoding/internal/service"
)

// MembershipHandler serves project membership and ownership changes.
type MembershipHandler struct {
	membershipService *service.MembershipService
	logger            zerolog.Logger
}

// NewMembershipHandler creates a new membership handler.
func NewMembershipHandler(membershipService *service.MembershipService, logger zerolog.Logger) *MembershipHandler {
	return &MembershipHandler{
		membershipService: membershipService,
		logger:            logger.With().Str("handler", "membership").Logger(),
	}
}

// RegisterRoutes registers membership routes.
func (h *MembershipHandler) RegisterRoutes(r chi.Router) {
	r.Post("/projects/{id}/members", h.AddMember)
	r.Delete("/projects/{id}/members/{memberId}", h.RemoveMember)
	r.Post("/projects/{id}/transfer-ownership", h.TransferOwnership)
}

type addMemberRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type transferOwnershipRequest struct {
	NewOwnerID string `json:"newOwnerId" validate:"required"`
}

// AddMember handles POST /projects/{id}/members.
func (h *MembershipHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req addMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	project, err := h.membershipService.AddMember(r.Context(), caller, urlParam(r, "id"), req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Member added", Data: project})
}

// RemoveMember handles DELETE /projects/{id}/members/{memberId}.
func (h *MembershipHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	project, err := h.membershipService.RemoveMember(r.Context(), caller, urlParam(r, "id"), urlParam(r, "memberId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Member removed", Data: project})
}

// TransferOwnership handles POST /projects/{id}/transfer-ownership.
func (h *MembershipHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req transferOwnershipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	project, err := h.membershipService.TransferOwnership(r.Context(), caller, urlParam(r, "id"), req.NewOwnerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Ownership transferred", Data: project})
}
