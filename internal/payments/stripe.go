package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/internal/utils"
	"github.com/venuehq/backoffice/pkg/config"
	"github.com/venuehq/backoffice/pkg/logger"
)

const EventCheckoutSessionCompleted = "checkout.session.completed"

type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

func NewStripeGateway(cfg config.StripeConfig) *StripeGateway {
	g := &StripeGateway{webhookSecret: cfg.WebhookSecret}
	if cfg.SecretKey != "" {
		g.api = client.New(cfg.SecretKey, nil)
	}
	return g
}

func (g *StripeGateway) EnsureCustomer(ctx context.Context, c *domain.Customer) (string, error) {
	if c.StripeCustomerID != "" {
		return c.StripeCustomerID, nil
	}
	if g.api == nil {
		return "", ErrNotConfigured
	}

	params := &stripe.CustomerParams{
		Name: stripe.String(c.FullName()),
	}
	if c.Email != "" {
		params.Email = stripe.String(c.Email)
	}
	if phone := utils.NormalizePhone(c.Mobile); phone != "" {
		params.Phone = stripe.String(phone)
	}
	params.Context = ctx
	params.AddMetadata("customer_id", c.ID)
	params.SetIdempotencyKey("customer-" + c.ID)

	cust, err := g.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// ChargeOffSession confirms a PaymentIntent against the stored card. Card
// declines come back as a failed result, not an error.
func (g *StripeGateway) ChargeOffSession(ctx context.Context, req OffSessionCharge) (*ChargeResult, error) {
	if g.api == nil {
		return nil, ErrNotConfigured
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(int64(req.Amount)),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.StripeCustomerID),
		PaymentMethod: stripe.String(req.PaymentMethodID),
		Description:   stripe.String(req.Description),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			res := &ChargeResult{Status: domain.ChargeAttemptFailed, FailureMessage: stripeErr.Msg}
			if stripeErr.PaymentIntent != nil {
				res.PaymentIntentID = stripeErr.PaymentIntent.ID
			}
			return res, nil
		}
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	return &ChargeResult{
		PaymentIntentID: pi.ID,
		Status:          attemptStatus(pi.Status),
	}, nil
}

func attemptStatus(s stripe.PaymentIntentStatus) domain.ChargeAttemptStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return domain.ChargeAttemptSucceeded
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresCapture:
		return domain.ChargeAttemptPending
	default:
		return domain.ChargeAttemptFailed
	}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if g.api == nil {
		return nil, ErrNotConfigured
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(req.Mode)),
		Customer:   stripe.String(req.StripeCustomerID),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		// Stripe's minimum session lifetime; our own holds are enforced server side.
		ExpiresAt: stripe.Int64(time.Now().Add(31 * time.Minute).Unix()),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	switch req.Mode {
	case ModePayment:
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(int64(req.Amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
		}}
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: req.Metadata,
		}
	case ModeSetup:
		params.PaymentMethodTypes = stripe.StringSlice([]string{"card"})
		params.SetupIntentData = &stripe.CheckoutSessionSetupIntentDataParams{
			Description: stripe.String(req.Description),
			Metadata:    req.Metadata,
		}
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) SetupPaymentMethod(ctx context.Context, setupIntentID string) (string, error) {
	if g.api == nil {
		return "", ErrNotConfigured
	}

	params := &stripe.SetupIntentParams{}
	params.Context = ctx
	si, err := g.api.SetupIntents.Get(setupIntentID, params)
	if err != nil {
		return "", fmt.Errorf("get setup intent: %w", err)
	}
	if si.PaymentMethod == nil {
		return "", fmt.Errorf("setup intent %s has no payment method", setupIntentID)
	}
	return si.PaymentMethod.ID, nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if g.webhookSecret == "" {
		return nil, ErrNotConfigured
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if out.Type != EventCheckoutSessionCompleted {
		return out, nil
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("%w: decode checkout session: %v", ErrInvalidWebhook, err)
	}
	out.SessionID = s.ID
	out.Metadata = s.Metadata
	out.PaymentStatus = string(s.PaymentStatus)
	if s.SetupIntent != nil {
		out.SetupIntentID = s.SetupIntent.ID
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}

	logger.Debug("Stripe webhook verified", "event_id", event.ID, "type", out.Type)
	return out, nil
}
