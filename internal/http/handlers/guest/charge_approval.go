package guest

import (
	"net/http"
	"strings"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/internal/throttle"
	"github.com/venuehq/backoffice/pkg/logger"
)

func (h *Handler) chargeApprovalPage(w http.ResponseWriter, r *http.Request) {
	r, raw, ok := h.begin(r, domain.ScopeChargeApproval, throttle.KindPreview)
	if !ok {
		h.renderBlocked(w, r, domain.ScopeChargeApproval, domain.ReasonRateLimited)
		return
	}
	p, err := h.charges.Preview(r.Context(), raw)
	if err != nil {
		h.renderError(w, r, domain.ScopeChargeApproval, err)
		return
	}
	h.render(w, r, domain.ScopeChargeApproval, p.State, p.Reason, p)
}

func (h *Handler) chargeApprovalAction(w http.ResponseWriter, r *http.Request) {
	r, raw, ok := h.begin(r, domain.ScopeChargeApproval, throttle.KindAction)
	if !ok {
		redirectStatus(w, r, string(domain.ReasonRateLimited))
		return
	}
	if err := r.ParseForm(); err != nil {
		redirectStatus(w, r, string(domain.ReasonInvalidDecision))
		return
	}

	d, err := h.charges.Decide(r.Context(), raw, decisionInput(r))
	if err != nil {
		logger.ErrorContext(r.Context(), "Charge decision failed", "error", err)
		redirectStatus(w, r, "error")
		return
	}
	switch d.State {
	case domain.DecisionAlreadyDecided:
		redirectStatus(w, r, string(domain.ReasonAlreadyDecided))
		return
	case domain.DecisionBlocked:
		redirectStatus(w, r, string(d.Reason))
		return
	}

	if d.Decision == domain.DecisionWaive {
		redirectStatus(w, r, "waived")
		return
	}
	// The decision is already committed; a charge error only changes the banner.
	out, err := h.charges.AttemptApprovedCharge(r.Context(), d)
	if err != nil {
		logger.ErrorContext(r.Context(), "Charge attempt failed", "charge_request_id", d.ChargeRequestID, "error", err)
		redirectStatus(w, r, "approved_failed")
		return
	}
	redirectStatus(w, r, "approved_"+string(out.Status))
}

// decisionInput reads the approval form. Unparseable amounts become zero so
// the service rejects them after its token and state checks.
func decisionInput(r *http.Request) domain.ChargeDecisionInput {
	in := domain.ChargeDecisionInput{
		Decision:            r.PostForm.Get("decision"),
		WarningAcknowledged: r.PostForm.Get("warning_acknowledged") == "yes",
		Notes:               strings.TrimSpace(r.PostForm.Get("notes")),
	}
	if v := strings.TrimSpace(r.PostForm.Get("approved_amount")); v != "" {
		m, err := domain.ParseMoney(v)
		if err != nil {
			m = 0
		}
		in.ApprovedAmount = &m
	}
	if v := strings.TrimSpace(r.PostForm.Get("confirm_amount")); v != "" {
		if m, err := domain.ParseMoney(v); err == nil {
			in.ConfirmAmount = &m
		}
	}
	return in
}
