package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/internal/http/middleware"
	"github.com/venuehq/backoffice/internal/http/response"
	"github.com/venuehq/backoffice/internal/service"
	"github.com/venuehq/backoffice/pkg/logger"
)

type chargeRequestDTO struct {
	ID             string              `json:"id"`
	TableBookingID string              `json:"table_booking_id"`
	Type           domain.ChargeType   `json:"type"`
	Amount         string              `json:"amount"`
	Currency       string              `json:"currency"`
	Status         domain.ChargeStatus `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
}

type waitlistOfferDTO struct {
	ID             string                     `json:"id"`
	EventID        string                     `json:"event_id"`
	CustomerID     string                     `json:"customer_id"`
	RequestedSeats int                        `json:"requested_seats"`
	PaymentMode    domain.PaymentMode         `json:"payment_mode"`
	Status         domain.WaitlistOfferStatus `json:"status"`
	ExpiresAt      time.Time                  `json:"expires_at"`
}

// Login handles POST /staff/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil || req.Email == "" || req.Password == "" {
		response.BadRequest(w, "email and password are required")
		return
	}

	res, err := h.auth.Login(r.Context(), req)
	if errors.Is(err, service.ErrInvalidCredentials) {
		response.Unauthorized(w, "invalid credentials")
		return
	}
	if err != nil {
		writeServiceError(w, r, err, "log in")
		return
	}
	response.WriteJSON(w, http.StatusOK, res)
}

// CreateChargeRequest handles POST /staff/charge-requests
func (h *Handlers) CreateChargeRequest(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateChargeRequest
	if err := decodeJSON(r, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if req.TableBookingID == "" {
		response.BadRequest(w, "table_booking_id is required")
		return
	}

	claims := middleware.Claims(r)
	cr, link, err := h.links.CreateChargeRequest(r.Context(), req, claims.Sub)
	if err != nil {
		writeServiceError(w, r, err, "create charge request")
		return
	}
	logger.InfoContext(r.Context(), "Charge request created", "charge_request_id", cr.ID, "staff_id", claims.Sub)

	response.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"charge_request": chargeRequestDTO{
			ID:             cr.ID,
			TableBookingID: cr.TableBookingID,
			Type:           cr.Type,
			Amount:         cr.Amount.String(),
			Currency:       cr.Currency,
			Status:         cr.Status,
			CreatedAt:      cr.CreatedAt,
		},
		"link": link,
	})
}

// IssueBookingLink handles POST /staff/table-bookings/{id}/links
func (h *Handlers) IssueBookingLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope string `json:"scope"`
	}
	if err := decodeJSON(r, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	scope, ok := domain.ParseLinkScope(req.Scope)
	if !ok || scope.ManagerFacing() {
		response.BadRequest(w, "scope must be table_payment, card_capture or sunday_preorder")
		return
	}

	link, err := h.links.IssueBookingLink(r.Context(), chi.URLParam(r, "id"), scope)
	if err != nil {
		writeServiceError(w, r, err, "issue link")
		return
	}
	response.WriteJSON(w, http.StatusCreated, link)
}

// CreateWaitlistOffer handles POST /staff/events/{id}/waitlist-offers
func (h *Handlers) CreateWaitlistOffer(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateWaitlistOffer
	if err := decodeJSON(r, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if req.CustomerID == "" || req.RequestedSeats <= 0 {
		response.BadRequest(w, "customer_id and a positive requested_seats are required")
		return
	}

	offer, link, err := h.links.CreateWaitlistOffer(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err, "create waitlist offer")
		return
	}
	response.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"offer": waitlistOfferDTO{
			ID:             offer.ID,
			EventID:        offer.EventID,
			CustomerID:     offer.CustomerID,
			RequestedSeats: offer.RequestedSeats,
			PaymentMode:    offer.PaymentMode,
			Status:         offer.Status,
			ExpiresAt:      offer.ExpiresAt,
		},
		"link": link,
	})
}

// GetSettings handles GET /staff/settings
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Get(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "load settings")
		return
	}
	response.WriteJSON(w, http.StatusOK, s)
}

// UpdateSettings handles PUT /staff/settings. A stale expected_version gets 409.
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if req.ExpectedVersion <= 0 {
		response.BadRequest(w, "expected_version is required")
		return
	}

	s, err := h.settings.Update(r.Context(), req, middleware.Claims(r).Sub)
	if err != nil {
		writeServiceError(w, r, err, "update settings")
		return
	}
	response.WriteJSON(w, http.StatusOK, s)
}
