package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ecwu/openbook/pkg/audit"
	"github.com/ecwu/openbook/pkg/directory"
	"github.com/ecwu/openbook/pkg/httputil"
	"github.com/ecwu/openbook/pkg/middleware"
	"github.com/ecwu/openbook/pkg/observability"
	"github.com/ecwu/openbook/pkg/sso"
)

// DirectoryHandlers serves the user directory and invitation routes
type DirectoryHandlers struct {
	service  *directory.Service
	sessions *sso.SessionManager
	audit    *audit.Recorder
	logger   *observability.Logger
}

// RegisterRoutes registers the routes available to any signed-in user
func (h *DirectoryHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/me", h.currentUser).Methods("GET")
	router.HandleFunc("/invitations/accept", h.acceptInvitation).Methods("POST")
}

// RegisterAdminRoutes registers the admin-only directory routes
func (h *DirectoryHandlers) RegisterAdminRoutes(router *mux.Router) {
	router.HandleFunc("/users", h.listUsers).Methods("GET")
	router.HandleFunc("/groups", h.listGroups).Methods("GET")
	router.HandleFunc("/groups/{id}/members", h.listGroupMembers).Methods("GET")
	router.HandleFunc("/invitations", h.createInvitation).Methods("POST")
	router.HandleFunc("/audit", h.listAuditEvents).Methods("GET")
}

func (h *DirectoryHandlers) currentUser(w http.ResponseWriter, r *http.Request) {
	sc := middleware.GetSessionContext(r)
	if sc == nil {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sc.User)
}

func (h *DirectoryHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	search := httputil.QueryString(r, "search", "")
	limit := httputil.QueryInt(r, "limit", 0)
	offset := httputil.QueryInt(r, "offset", 0)

	users, err := h.service.ListUsers(r.Context(), search, limit, offset)
	if err != nil {
		h.logger.WithError(err).Error("failed to list users")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, users)
}

func (h *DirectoryHandlers) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.ListGroups(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("failed to list groups")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, groups)
}

func (h *DirectoryHandlers) listGroupMembers(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	members, err := h.service.ListGroupMembers(r.Context(), id)
	if err != nil {
		h.logger.WithError(err).Error("failed to list group members")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, members)
}

// createInvitationRequest is the body for POST /invitations
type createInvitationRequest struct {
	Email string `json:"email"`
}

func (h *DirectoryHandlers) createInvitation(w http.ResponseWriter, r *http.Request) {
	sc := middleware.GetSessionContext(r)
	if sc == nil {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createInvitationRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.Email == "" {
		httputil.WriteBadRequest(w, "email is required")
		return
	}

	invitation, err := h.service.CreateInvitation(r.Context(), sc.User.ID, req.Email)
	if err != nil {
		h.logger.WithError(err).Error("failed to create invitation")
		httputil.WriteInternalError(w)
		return
	}

	h.audit.Record(r.Context(), &audit.Event{
		Action:    audit.ActionInvitationCreated,
		ActorID:   sc.User.ID,
		Subject:   "email:" + invitation.Email,
		IPAddress: middleware.ClientIP(r),
	})
	httputil.WriteCreated(w, invitation)
}

// acceptInvitationRequest is the body for POST /invitations/accept
type acceptInvitationRequest struct {
	Token string `json:"token"`
}

func (h *DirectoryHandlers) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	sc := middleware.GetSessionContext(r)
	if sc == nil {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req acceptInvitationRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.Token == "" {
		httputil.WriteBadRequest(w, "token is required")
		return
	}

	err := h.service.AcceptInvitation(r.Context(), req.Token, sc.User)
	switch {
	case errors.Is(err, directory.ErrInvitationNotFound):
		httputil.WriteNotFound(w, "invitation not found")
		return
	case errors.Is(err, directory.ErrEmailMismatch):
		httputil.WriteError(w, http.StatusForbidden, "invitation was issued for a different email")
		return
	case err != nil:
		h.logger.WithError(err).Error("failed to accept invitation")
		httputil.WriteInternalError(w)
		return
	}

	// Refresh the session's role snapshot so the promotion takes effect
	// without a new sign-in.
	if cookie, cookieErr := r.Cookie(sso.SessionCookieName); cookieErr == nil {
		if updateErr := h.sessions.UpdateSessionRole(r.Context(), cookie.Value, string(sc.User.Role)); updateErr != nil {
			h.logger.WithError(updateErr).Warn("failed to refresh session role after promotion")
		}
	}

	h.audit.Record(r.Context(), &audit.Event{
		Action:    audit.ActionInvitationAccepted,
		ActorID:   sc.User.ID,
		Subject:   fmt.Sprintf("user:%d", sc.User.ID),
		Detail:    "promoted to admin by invitation",
		IPAddress: middleware.ClientIP(r),
	})
	httputil.WriteJSON(w, http.StatusOK, sc.User)
}

func (h *DirectoryHandlers) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{
		Action:  audit.Action(httputil.QueryString(r, "action", "")),
		ActorID: int64(httputil.QueryInt(r, "actor_id", 0)),
		Limit:   httputil.QueryInt(r, "limit", 0),
		Offset:  httputil.QueryInt(r, "offset", 0),
	}

	events, err := h.audit.List(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("failed to list audit events")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}
