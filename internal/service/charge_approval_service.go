package service

import (
	"context"
	"fmt"
	"time"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/internal/payments"
	"github.com/venuehq/backoffice/internal/repository"
	"github.com/venuehq/backoffice/pkg/events"
	"github.com/venuehq/backoffice/pkg/logger"
	"github.com/venuehq/backoffice/pkg/token"
)

// ChargePreview is what the manager approval page renders.
type ChargePreview struct {
	State                 domain.PreviewState
	Reason                domain.Reason
	Request               *domain.ChargeRequest
	Warnings              domain.ChargeWarnings
	RequiresAmountReentry bool
}

// ChargeDecision is the outcome of a manager decision. When State is
// decision_applied it carries what the charge attempt needs.
type ChargeDecision struct {
	State           domain.DecisionState
	Reason          domain.Reason
	ChargeRequestID string
	CustomerID      string
	Decision        domain.ManagerDecision
	ApprovedAmount  domain.Money
	Currency        string
	// Prior is the already-decided request, for display.
	Prior *domain.ChargeRequest
}

type ChargeOutcome struct {
	Status          domain.ChargeAttemptStatus
	PaymentIntentID string
	Error           string
}

const failureNoCardOnFile = "no_card_on_file"

type ChargeApprovalService interface {
	Preview(ctx context.Context, rawToken string) (*ChargePreview, error)
	Decide(ctx context.Context, rawToken string, in domain.ChargeDecisionInput) (*ChargeDecision, error)
	AttemptApprovedCharge(ctx context.Context, d *ChargeDecision) (*ChargeOutcome, error)
}

type chargeApprovalService struct {
	tokens    repository.TokenRepository
	charges   repository.ChargeRequestRepository
	customers repository.CustomerRepository
	gateway   payments.Gateway
	eventBus  events.Publisher
	now       func() time.Time
}

func NewChargeApprovalService(
	tokens repository.TokenRepository,
	charges repository.ChargeRequestRepository,
	customers repository.CustomerRepository,
	gateway payments.Gateway,
	eventBus events.Publisher,
) ChargeApprovalService {
	return &chargeApprovalService{
		tokens:    tokens,
		charges:   charges,
		customers: customers,
		gateway:   gateway,
		eventBus:  eventBus,
		now:       time.Now,
	}
}

func (s *chargeApprovalService) load(ctx context.Context, rawToken string) (*domain.GuestToken, *domain.ChargeRequest, error) {
	tok, err := resolveToken(ctx, s.tokens, rawToken, domain.ScopeChargeApproval)
	if err != nil || tok == nil {
		return nil, nil, err
	}
	cr, err := s.charges.GetByID(ctx, tok.SubjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("load charge request: %w", err)
	}
	return tok, cr, nil
}

func (s *chargeApprovalService) Preview(ctx context.Context, rawToken string) (*ChargePreview, error) {
	tok, cr, err := s.load(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	if cr == nil {
		return &ChargePreview{State: domain.PreviewBlocked, Reason: domain.ReasonInvalidToken}, nil
	}
	if !cr.IsPending() {
		return &ChargePreview{State: domain.PreviewAlreadyDecided, Reason: domain.ReasonAlreadyDecided, Request: cr}, nil
	}
	if reason := usableReason(tok, s.now()); reason != "" {
		return &ChargePreview{State: domain.PreviewBlocked, Reason: reason}, nil
	}

	w := cr.Warnings()
	return &ChargePreview{
		State:                 domain.PreviewReady,
		Request:               cr,
		Warnings:              w,
		RequiresAmountReentry: w.RequiresAmountReentry(),
	}, nil
}

func (s *chargeApprovalService) Decide(ctx context.Context, rawToken string, in domain.ChargeDecisionInput) (*ChargeDecision, error) {
	// Re-resolve from scratch; whatever the page showed may be stale.
	tok, cr, err := s.load(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	if cr == nil {
		return blockedDecision(domain.ReasonInvalidToken), nil
	}
	if !cr.IsPending() {
		return &ChargeDecision{State: domain.DecisionAlreadyDecided, Reason: domain.ReasonAlreadyDecided, ChargeRequestID: cr.ID, Prior: cr}, nil
	}
	now := s.now()
	if reason := usableReason(tok, now); reason != "" {
		return blockedDecision(reason), nil
	}

	decision, ok := domain.ParseManagerDecision(in.Decision)
	if !ok {
		return blockedDecision(domain.ReasonInvalidDecision), nil
	}

	write := domain.ChargeDecisionWrite{Decision: decision, Notes: in.Notes, DecidedAt: now}
	if decision == domain.DecisionApprove {
		amount, reason := validateApproval(cr, in)
		if reason != "" {
			return blockedDecision(reason), nil
		}
		write.ApprovedAmount = &amount
	}

	reason, err := s.charges.Decide(ctx, tok.ID, cr.ID, write)
	if err != nil {
		return nil, fmt.Errorf("apply decision: %w", err)
	}
	switch reason {
	case "":
	case domain.ReasonAlreadyDecided:
		prior, err := s.charges.GetByID(ctx, cr.ID)
		if err != nil {
			return nil, fmt.Errorf("reload charge request: %w", err)
		}
		return &ChargeDecision{State: domain.DecisionAlreadyDecided, Reason: reason, ChargeRequestID: cr.ID, Prior: prior}, nil
	default:
		return blockedDecision(reason), nil
	}

	res := &ChargeDecision{
		State:           domain.DecisionApplied,
		ChargeRequestID: cr.ID,
		CustomerID:      cr.CustomerID,
		Decision:        decision,
		Currency:        cr.Currency,
	}
	if write.ApprovedAmount != nil {
		res.ApprovedAmount = *write.ApprovedAmount
	}

	logger.InfoContext(ctx, "Charge request decided",
		"charge_request_id", cr.ID,
		"decision", decision,
		"approved_amount", res.ApprovedAmount,
		"token_prefix", token.Prefix(rawToken),
	)
	publish(ctx, s.eventBus, events.ChargeRequestDecided, events.ChargeRequestDecidedEvent{
		ChargeRequestID: cr.ID,
		Decision:        string(decision),
		ApprovedAmount:  int64(res.ApprovedAmount),
		DecidedAt:       now,
	})
	return res, nil
}

// validateApproval returns the amount to approve, or why the approval is rejected.
func validateApproval(cr *domain.ChargeRequest, in domain.ChargeDecisionInput) (domain.Money, domain.Reason) {
	amount := cr.Amount
	if in.ApprovedAmount != nil {
		amount = *in.ApprovedAmount
	}
	if amount <= 0 || amount > cr.Amount {
		return 0, domain.ReasonInvalidAmount
	}

	w := cr.Warnings()
	if w.RequiresAmountReentry() && (in.ConfirmAmount == nil || *in.ConfirmAmount != amount) {
		return 0, domain.ReasonAmountMismatch
	}
	if w.Any() && !in.WarningAcknowledged {
		return 0, domain.ReasonWarningNotAcknowledged
	}
	return amount, ""
}

func blockedDecision(reason domain.Reason) *ChargeDecision {
	return &ChargeDecision{State: domain.DecisionBlocked, Reason: reason}
}

// AttemptApprovedCharge charges the customer's stored card once for an applied
// approval. The outcome is recorded on the request; the decision itself is never
// rolled back and nothing is retried automatically.
func (s *chargeApprovalService) AttemptApprovedCharge(ctx context.Context, d *ChargeDecision) (*ChargeOutcome, error) {
	if d == nil || d.State != domain.DecisionApplied || d.Decision != domain.DecisionApprove {
		return nil, ErrNotApplied
	}

	outcome := s.charge(ctx, d)
	attempt := domain.ChargeAttempt{
		Status:          outcome.Status,
		PaymentIntentID: outcome.PaymentIntentID,
		Error:           outcome.Error,
		AttemptedAt:     s.now(),
	}
	if err := s.charges.RecordAttempt(ctx, d.ChargeRequestID, attempt); err != nil {
		// The processor already has the idempotency key, so the outcome is still returned.
		logger.ErrorContext(ctx, "Failed to record charge attempt",
			"charge_request_id", d.ChargeRequestID, "status", outcome.Status, "error", err)
	}

	logger.InfoContext(ctx, "Charge attempted",
		"charge_request_id", d.ChargeRequestID,
		"status", outcome.Status,
		"payment_intent_id", outcome.PaymentIntentID,
	)
	publish(ctx, s.eventBus, events.ChargeRequestChargeAttempted, events.ChargeAttemptedEvent{
		ChargeRequestID: d.ChargeRequestID,
		Status:          string(outcome.Status),
		PaymentIntentID: outcome.PaymentIntentID,
		FailureReason:   outcome.Error,
		AttemptedAt:     attempt.AttemptedAt,
	})
	return outcome, nil
}

func (s *chargeApprovalService) charge(ctx context.Context, d *ChargeDecision) *ChargeOutcome {
	card, err := s.customers.GetCardCapture(ctx, d.CustomerID)
	if err != nil {
		return &ChargeOutcome{Status: domain.ChargeAttemptFailed, Error: "card lookup failed: " + err.Error()}
	}
	if card == nil {
		return &ChargeOutcome{Status: domain.ChargeAttemptFailed, Error: failureNoCardOnFile}
	}

	res, err := s.gateway.ChargeOffSession(ctx, payments.OffSessionCharge{
		StripeCustomerID: card.StripeCustomerID,
		PaymentMethodID:  card.PaymentMethodID,
		Amount:           d.ApprovedAmount,
		Currency:         d.Currency,
		Description:      "Booking charge " + d.ChargeRequestID,
		IdempotencyKey:   "charge-request-" + d.ChargeRequestID,
		Metadata:         map[string]string{"charge_request_id": d.ChargeRequestID},
	})
	if err != nil {
		return &ChargeOutcome{Status: domain.ChargeAttemptFailed, Error: err.Error()}
	}
	return &ChargeOutcome{Status: res.Status, PaymentIntentID: res.PaymentIntentID, Error: res.FailureMessage}
}
