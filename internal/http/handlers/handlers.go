package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/venuehq/backoffice/internal/http/middleware"
	"github.com/venuehq/backoffice/internal/http/response"
	"github.com/venuehq/backoffice/internal/repository"
	"github.com/venuehq/backoffice/internal/service"
	"github.com/venuehq/backoffice/pkg/auth"
	"github.com/venuehq/backoffice/pkg/logger"
)

// Handlers serves the staff JSON API.
type Handlers struct {
	auth      service.StaffAuthService
	links     service.LinkService
	settings  service.SettingsService
	jwtSecret string
}

func New(authService service.StaffAuthService, links service.LinkService, settings service.SettingsService, jwtSecret string) *Handlers {
	return &Handlers{
		auth:      authService,
		links:     links,
		settings:  settings,
		jwtSecret: jwtSecret,
	}
}

// StaffRoutes is mounted at /staff.
func (h *Handlers) StaffRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireJWT(h.jwtSecret, auth.RoleStaff))
		r.Post("/charge-requests", h.CreateChargeRequest)
		r.Post("/table-bookings/{id}/links", h.IssueBookingLink)
		r.Post("/events/{id}/waitlist-offers", h.CreateWaitlistOffer)
		r.Get("/settings", h.GetSettings)
	})

	r.With(middleware.RequireJWT(h.jwtSecret, auth.RoleManager)).Put("/settings", h.UpdateSettings)
	return r
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeServiceError maps service errors onto API responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		response.BadRequest(w, strings.TrimPrefix(err.Error(), service.ErrValidation.Error()+": "))
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, repository.ErrVersionConflict):
		response.WriteError(w, http.StatusConflict, err.Error(), response.CodeVersionConflict)
	default:
		logger.ErrorContext(r.Context(), "Failed to "+action, "error", err)
		response.InternalError(w, "Failed to "+action)
	}
}
