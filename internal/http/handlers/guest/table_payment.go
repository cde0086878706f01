package guest

import (
	"context"
	"net/http"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/internal/service"
	"github.com/venuehq/backoffice/internal/throttle"
	"github.com/venuehq/backoffice/pkg/logger"
)

func (h *Handler) tablePaymentPage(w http.ResponseWriter, r *http.Request) {
	r, raw, ok := h.begin(r, domain.ScopeTablePayment, throttle.KindPreview)
	if !ok {
		h.renderBlocked(w, r, domain.ScopeTablePayment, domain.ReasonRateLimited)
		return
	}
	p, err := h.tablePayment.Preview(r.Context(), raw)
	if err != nil {
		h.renderError(w, r, domain.ScopeTablePayment, err)
		return
	}
	h.render(w, r, domain.ScopeTablePayment, p.State, p.Reason, p)
}

func (h *Handler) tablePaymentCheckout(w http.ResponseWriter, r *http.Request) {
	h.checkout(w, r, domain.ScopeTablePayment, h.tablePayment.Checkout)
}

func (h *Handler) cardCapturePage(w http.ResponseWriter, r *http.Request) {
	r, raw, ok := h.begin(r, domain.ScopeCardCapture, throttle.KindPreview)
	if !ok {
		h.renderBlocked(w, r, domain.ScopeCardCapture, domain.ReasonRateLimited)
		return
	}
	p, err := h.cardCapture.Preview(r.Context(), raw)
	if err != nil {
		h.renderError(w, r, domain.ScopeCardCapture, err)
		return
	}
	h.render(w, r, domain.ScopeCardCapture, p.State, p.Reason, p)
}

func (h *Handler) cardCaptureCheckout(w http.ResponseWriter, r *http.Request) {
	h.checkout(w, r, domain.ScopeCardCapture, h.cardCapture.Checkout)
}

// checkout sends the guest to the hosted payment page, or back to the link
// page with the reason it could not start.
func (h *Handler) checkout(w http.ResponseWriter, r *http.Request, scope domain.LinkScope, start func(context.Context, string) (*service.CheckoutResult, error)) {
	r, raw, ok := h.begin(r, scope, throttle.KindAction)
	if !ok {
		redirectStatus(w, r, string(domain.ReasonRateLimited))
		return
	}
	res, err := start(r.Context(), raw)
	if err != nil {
		logger.ErrorContext(r.Context(), "Checkout failed", "error", err)
		redirectStatus(w, r, "error")
		return
	}
	if res.State != domain.DecisionApplied || res.RedirectURL == "" {
		redirectStatus(w, r, string(res.Reason))
		return
	}
	http.Redirect(w, r, res.RedirectURL, http.StatusSeeOther)
}
