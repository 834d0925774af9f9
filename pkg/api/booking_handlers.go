package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ecwu/openbook/pkg/booking"
	"github.com/ecwu/openbook/pkg/httputil"
	"github.com/ecwu/openbook/pkg/middleware"
	"github.com/ecwu/openbook/pkg/observability"
)

// BookingHandlers serves the resource and booking routes
type BookingHandlers struct {
	service *booking.Service
	logger  *observability.Logger
}

// RegisterRoutes registers the routes available to any signed-in user
func (h *BookingHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/resources", h.listResources).Methods("GET")
	router.HandleFunc("/resources/{id}", h.getResource).Methods("GET")
	router.HandleFunc("/resources/{id}/bookings", h.listResourceBookings).Methods("GET")

	router.HandleFunc("/bookings", h.createBooking).Methods("POST")
	router.HandleFunc("/bookings/{id}", h.getBooking).Methods("GET")
	router.HandleFunc("/bookings/{id}", h.moveBooking).Methods("PUT")
	router.HandleFunc("/bookings/{id}", h.cancelBooking).Methods("DELETE")
	router.HandleFunc("/my/bookings", h.listMyBookings).Methods("GET")
}

// RegisterAdminRoutes registers the resource management routes
func (h *BookingHandlers) RegisterAdminRoutes(router *mux.Router) {
	router.HandleFunc("/resources", h.createResource).Methods("POST")
	router.HandleFunc("/resources/{id}", h.updateResource).Methods("PUT")
	router.HandleFunc("/resources/{id}", h.deactivateResource).Methods("DELETE")
}

func (h *BookingHandlers) listResources(w http.ResponseWriter, r *http.Request) {
	activeOnly := httputil.QueryString(r, "active", "true") == "true"

	resources, err := h.service.ListResources(r.Context(), activeOnly)
	if err != nil {
		h.logger.WithError(err).Error("failed to list resources")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resources)
}

func (h *BookingHandlers) getResource(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	resource, err := h.service.GetResource(r.Context(), id)
	if errors.Is(err, booking.ErrNotFound) {
		httputil.WriteNotFound(w, "resource not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("failed to get resource")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resource)
}

func (h *BookingHandlers) createResource(w http.ResponseWriter, r *http.Request) {
	var resource booking.Resource
	if err := httputil.ParseJSON(r, &resource); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if resource.Name == "" {
		httputil.WriteBadRequest(w, "resource name is required")
		return
	}

	if err := h.service.CreateResource(r.Context(), &resource); err != nil {
		h.logger.WithError(err).Error("failed to create resource")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteCreated(w, resource)
}

func (h *BookingHandlers) updateResource(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var resource booking.Resource
	if err := httputil.ParseJSON(r, &resource); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	resource.ID = id

	err = h.service.UpdateResource(r.Context(), &resource)
	if errors.Is(err, booking.ErrNotFound) {
		httputil.WriteNotFound(w, "resource not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("failed to update resource")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resource)
}

func (h *BookingHandlers) deactivateResource(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	err = h.service.DeactivateResource(r.Context(), id)
	if errors.Is(err, booking.ErrNotFound) {
		httputil.WriteNotFound(w, "resource not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("failed to deactivate resource")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *BookingHandlers) listResourceBookings(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	now := time.Now().UTC()
	from, err := parseTimeQuery(r, "from", now)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	to, err := parseTimeQuery(r, "to", now.AddDate(0, 0, 7))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	bookings, err := h.service.ListBookings(r.Context(), id, from, to)
	if err != nil {
		h.logger.WithError(err).Error("failed to list bookings")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, bookings)
}

// createBookingRequest is the body for POST /bookings
type createBookingRequest struct {
	ResourceID int64     `json:"resource_id"`
	Title      string    `json:"title"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
}

func (h *BookingHandlers) createBooking(w http.ResponseWriter, r *http.Request) {
	sc := middleware.GetSessionContext(r)
	if sc == nil {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createBookingRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.ResourceID == 0 {
		httputil.WriteBadRequest(w, "resource_id is required")
		return
	}

	b := &booking.Booking{
		ResourceID: req.ResourceID,
		UserID:     sc.User.ID,
		Title:      req.Title,
		StartsAt:   req.StartsAt,
		EndsAt:     req.EndsAt,
	}

	err := h.service.CreateBooking(r.Context(), b)
	switch {
	case errors.Is(err, booking.ErrInvalidWindow):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, booking.ErrConflict):
		httputil.WriteConflict(w, err.Error())
	case err != nil:
		h.logger.WithError(err).Error("failed to create booking")
		httputil.WriteInternalError(w)
	default:
		httputil.WriteCreated(w, b)
	}
}

func (h *BookingHandlers) getBooking(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	b, err := h.service.GetBooking(r.Context(), id)
	if errors.Is(err, booking.ErrNotFound) {
		httputil.WriteNotFound(w, "booking not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("failed to get booking")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, b)
}

// moveBookingRequest is the body for PUT /bookings/{id}
type moveBookingRequest struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

func (h *BookingHandlers) moveBooking(w http.ResponseWriter, r *http.Request) {
	id, b, ok := h.loadOwnedBooking(w, r)
	if !ok {
		return
	}

	var req moveBookingRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	err := h.service.MoveBooking(r.Context(), id, req.StartsAt, req.EndsAt)
	switch {
	case errors.Is(err, booking.ErrInvalidWindow):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, booking.ErrConflict):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, booking.ErrNotFound):
		httputil.WriteNotFound(w, "booking not found")
	case err != nil:
		h.logger.WithError(err).Error("failed to move booking")
		httputil.WriteInternalError(w)
	default:
		b.StartsAt = req.StartsAt.UTC()
		b.EndsAt = req.EndsAt.UTC()
		httputil.WriteJSON(w, http.StatusOK, b)
	}
}

func (h *BookingHandlers) cancelBooking(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.loadOwnedBooking(w, r)
	if !ok {
		return
	}

	err := h.service.CancelBooking(r.Context(), id)
	if errors.Is(err, booking.ErrNotFound) {
		httputil.WriteNotFound(w, "booking not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("failed to cancel booking")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *BookingHandlers) listMyBookings(w http.ResponseWriter, r *http.Request) {
	sc := middleware.GetSessionContext(r)
	if sc == nil {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	bookings, err := h.service.ListUserBookings(r.Context(), sc.User.ID)
	if err != nil {
		h.logger.WithError(err).Error("failed to list user bookings")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, bookings)
}

// loadOwnedBooking fetches the booking on the route and enforces that the
// caller owns it or is an admin.
func (h *BookingHandlers) loadOwnedBooking(w http.ResponseWriter, r *http.Request) (int64, *booking.Booking, bool) {
	sc := middleware.GetSessionContext(r)
	if sc == nil {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return 0, nil, false
	}

	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return 0, nil, false
	}

	b, err := h.service.GetBooking(r.Context(), id)
	if errors.Is(err, booking.ErrNotFound) {
		httputil.WriteNotFound(w, "booking not found")
		return 0, nil, false
	}
	if err != nil {
		h.logger.WithError(err).Error("failed to get booking")
		httputil.WriteInternalError(w)
		return 0, nil, false
	}

	if b.UserID != sc.User.ID && !sc.User.IsAdmin() {
		httputil.WriteError(w, http.StatusForbidden, "not your booking")
		return 0, nil, false
	}
	return id, b, true
}

// parseTimeQuery parses an RFC 3339 query parameter, returning fallback
// when absent.
func parseTimeQuery(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("invalid " + name + " timestamp, want RFC 3339")
	}
	return value, nil
}
