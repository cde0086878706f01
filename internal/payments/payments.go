// Package payments is the card processor boundary: off-session charges against a
// stored card, hosted checkout for guest payments and card capture, and webhook
// verification.
package payments

import (
	"context"
	"errors"

	"github.com/venuehq/backoffice/internal/domain"
)

var (
	ErrNotConfigured  = errors.New("payments are not configured")
	ErrInvalidWebhook = errors.New("invalid webhook payload")
)

// Checkout flows, carried in session metadata so the webhook knows what completed.
const (
	FlowTablePayment = "table_payment"
	FlowCardCapture  = "card_capture"
	FlowEventPayment = "event_payment"
)

type Gateway interface {
	EnsureCustomer(ctx context.Context, c *domain.Customer) (string, error)
	ChargeOffSession(ctx context.Context, req OffSessionCharge) (*ChargeResult, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	SetupPaymentMethod(ctx context.Context, setupIntentID string) (string, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

type OffSessionCharge struct {
	StripeCustomerID string
	PaymentMethodID  string
	Amount           domain.Money
	Currency         string
	Description      string
	IdempotencyKey   string
	Metadata         map[string]string
}

type ChargeResult struct {
	PaymentIntentID string
	Status          domain.ChargeAttemptStatus
	FailureMessage  string
}

type CheckoutMode string

const (
	ModePayment CheckoutMode = "payment"
	ModeSetup   CheckoutMode = "setup"
)

type CheckoutRequest struct {
	Mode             CheckoutMode
	StripeCustomerID string
	Description      string
	Amount           domain.Money
	Currency         string
	SuccessURL       string
	CancelURL        string
	Metadata         map[string]string
	IdempotencyKey   string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// WebhookEvent is the part of a verified processor event we act on.
type WebhookEvent struct {
	ID              string
	Type            string
	SessionID       string
	Metadata        map[string]string
	PaymentStatus   string
	SetupIntentID   string
	PaymentIntentID string
	CustomerID      string
}
