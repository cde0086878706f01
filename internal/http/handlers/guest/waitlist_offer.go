package guest

import (
	"net/http"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/internal/throttle"
	"github.com/venuehq/backoffice/pkg/logger"
)

func (h *Handler) waitlistOfferPage(w http.ResponseWriter, r *http.Request) {
	r, raw, ok := h.begin(r, domain.ScopeWaitlistOffer, throttle.KindPreview)
	if !ok {
		h.renderBlocked(w, r, domain.ScopeWaitlistOffer, domain.ReasonRateLimited)
		return
	}
	p, err := h.waitlist.Preview(r.Context(), raw)
	if err != nil {
		h.renderError(w, r, domain.ScopeWaitlistOffer, err)
		return
	}
	h.render(w, r, domain.ScopeWaitlistOffer, p.State, p.Reason, p)
}

func (h *Handler) waitlistOfferAction(w http.ResponseWriter, r *http.Request) {
	r, raw, ok := h.begin(r, domain.ScopeWaitlistOffer, throttle.KindAction)
	if !ok {
		redirectStatus(w, r, string(domain.ReasonRateLimited))
		return
	}
	c, err := h.waitlist.Confirm(r.Context(), raw)
	if err != nil {
		logger.ErrorContext(r.Context(), "Waitlist confirm failed", "error", err)
		redirectStatus(w, r, "error")
		return
	}
	if c.State != domain.DecisionApplied {
		redirectStatus(w, r, string(c.Reason))
		return
	}
	if c.Booking == nil || c.Booking.Status != domain.EventBookingPendingPayment {
		redirectStatus(w, r, "confirmed")
		return
	}

	// Seats are held; the guest pays on the hosted page.
	url, err := h.waitlist.StartPayment(r.Context(), raw, c)
	if err != nil {
		logger.ErrorContext(r.Context(), "Waitlist checkout failed", "event_booking_id", c.Booking.ID, "error", err)
		redirectStatus(w, r, "payment_error")
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}
