package domain

// Reason is the machine-readable cause behind a blocked preview or decision.
// Handlers map it to a human-readable message and to the ?status= redirect value.
type Reason string

const (
	ReasonInvalidToken             Reason = "invalid_token"
	ReasonTokenExpired             Reason = "token_expired"
	ReasonTokenUsed                Reason = "token_used"
	ReasonRateLimited              Reason = "rate_limited"
	ReasonCapacityUnavailable      Reason = "capacity_unavailable"
	ReasonEventStarted             Reason = "event_started"
	ReasonBookingClosed            Reason = "booking_closed"
	ReasonHoldExpired              Reason = "hold_expired"
	ReasonBookingNotPendingPayment Reason = "booking_not_pending_payment"
	ReasonAlreadyDecided           Reason = "already_decided"
	ReasonOfferExpired             Reason = "offer_expired"
	ReasonPreorderCutoff           Reason = "preorder_cutoff"
	ReasonInvalidDecision          Reason = "invalid_decision"
	ReasonInvalidAmount            Reason = "invalid_amount"
	ReasonAmountMismatch           Reason = "amount_mismatch"
	ReasonWarningNotAcknowledged   Reason = "warning_not_acknowledged"
	ReasonInvalidSelection         Reason = "invalid_selection"
	ReasonInternalError            Reason = "internal_error"
)

// PreviewState tags the result of a read-only link resolution.
type PreviewState string

const (
	PreviewReady          PreviewState = "ready"
	PreviewAlreadyDecided PreviewState = "already_decided"
	PreviewBlocked        PreviewState = "blocked"
)

// DecisionState tags the result of a guarded state transition.
type DecisionState string

const (
	DecisionApplied        DecisionState = "decision_applied"
	DecisionAlreadyDecided DecisionState = "already_decided"
	DecisionBlocked        DecisionState = "blocked"
)

// Message is the guest-facing copy for a blocked reason.
func (r Reason) Message() string {
	switch r {
	case ReasonInvalidToken:
		return "This link is not valid. Please check you copied the whole link."
	case ReasonTokenExpired:
		return "This link has expired."
	case ReasonTokenUsed:
		return "This link has already been used."
	case ReasonRateLimited:
		return "Too many attempts. Please wait a few minutes and try again."
	case ReasonCapacityUnavailable:
		return "Sorry, there are no longer enough seats available for this offer."
	case ReasonEventStarted:
		return "This event has already started."
	case ReasonBookingClosed:
		return "Bookings are closed for this."
	case ReasonHoldExpired:
		return "The hold on this booking has lapsed, so payment can no longer be taken online."
	case ReasonBookingNotPendingPayment:
		return "This booking is not awaiting payment."
	case ReasonAlreadyDecided:
		return "This has already been dealt with."
	case ReasonOfferExpired:
		return "This offer has expired."
	case ReasonPreorderCutoff:
		return "The pre-order deadline for this booking has passed."
	case ReasonInvalidDecision:
		return "Please choose approve or waive."
	case ReasonInvalidAmount:
		return "The amount must be more than zero and no more than the requested amount."
	case ReasonAmountMismatch:
		return "The re-entered amount does not match the amount being approved."
	case ReasonWarningNotAcknowledged:
		return "Please confirm you have reviewed the warning before approving."
	case ReasonInvalidSelection:
		return "One or more selections were not valid."
	default:
		return "Something went wrong. Please try again later."
	}
}
