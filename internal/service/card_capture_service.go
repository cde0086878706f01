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
)

type CardCapturePreview struct {
	State   domain.PreviewState
	Reason  domain.Reason
	Booking *domain.TableBooking
}

type CardCaptureService interface {
	Preview(ctx context.Context, rawToken string) (*CardCapturePreview, error)
	Checkout(ctx context.Context, rawToken string) (*CheckoutResult, error)
	Complete(ctx context.Context, bookingID, tokenID, customerID, setupIntentID string) error
}

type cardCaptureService struct {
	tokens    repository.TokenRepository
	bookings  repository.TableBookingRepository
	customers repository.CustomerRepository
	gateway   payments.Gateway
	eventBus  events.Publisher
	baseURL   string
	venue     string
	now       func() time.Time
}

func NewCardCaptureService(
	tokens repository.TokenRepository,
	bookings repository.TableBookingRepository,
	customers repository.CustomerRepository,
	gateway payments.Gateway,
	eventBus events.Publisher,
	baseURL, venue string,
) CardCaptureService {
	return &cardCaptureService{
		tokens:    tokens,
		bookings:  bookings,
		customers: customers,
		gateway:   gateway,
		eventBus:  eventBus,
		baseURL:   baseURL,
		venue:     venue,
		now:       time.Now,
	}
}

func (s *cardCaptureService) resolve(ctx context.Context, rawToken string) (*domain.GuestToken, *CardCapturePreview, error) {
	tok, err := resolveToken(ctx, s.tokens, rawToken, domain.ScopeCardCapture)
	if err != nil {
		return nil, nil, err
	}
	if tok == nil {
		return nil, &CardCapturePreview{State: domain.PreviewBlocked, Reason: domain.ReasonInvalidToken}, nil
	}
	b, err := s.bookings.GetByID(ctx, tok.SubjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("load table booking: %w", err)
	}
	if b == nil {
		return nil, &CardCapturePreview{State: domain.PreviewBlocked, Reason: domain.ReasonInvalidToken}, nil
	}

	switch {
	case b.CardCaptureStatus == domain.CardCaptureCaptured:
		return tok, &CardCapturePreview{State: domain.PreviewAlreadyDecided, Reason: domain.ReasonAlreadyDecided, Booking: b}, nil
	case b.Closed(), b.CardCaptureStatus != domain.CardCapturePending:
		return tok, &CardCapturePreview{State: domain.PreviewBlocked, Reason: domain.ReasonBookingClosed}, nil
	}
	if reason := usableReason(tok, s.now()); reason != "" {
		return tok, &CardCapturePreview{State: domain.PreviewBlocked, Reason: reason}, nil
	}
	return tok, &CardCapturePreview{State: domain.PreviewReady, Booking: b}, nil
}

func (s *cardCaptureService) Preview(ctx context.Context, rawToken string) (*CardCapturePreview, error) {
	_, p, err := s.resolve(ctx, rawToken)
	return p, err
}

func (s *cardCaptureService) Checkout(ctx context.Context, rawToken string) (*CheckoutResult, error) {
	tok, p, err := s.resolve(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	if p.State != domain.PreviewReady {
		return blockedCheckout(p.Reason), nil
	}
	b := p.Booking

	customer, err := s.customers.GetByID(ctx, b.CustomerID)
	if err != nil || customer == nil {
		return nil, fmt.Errorf("load customer %s: %w", b.CustomerID, errOrNotFound(err))
	}
	stripeCustomer, err := ensureStripeCustomer(ctx, s.gateway, s.customers, customer)
	if err != nil {
		return nil, err
	}

	pageURL := linkURL(s.baseURL, domain.ScopeCardCapture, rawToken)
	session, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		Mode:             payments.ModeSetup,
		StripeCustomerID: stripeCustomer,
		Description:      fmt.Sprintf("Card to hold %s booking %s", s.venue, b.Reference),
		Currency:         b.Currency,
		SuccessURL:       pageURL + "?status=card_saved",
		CancelURL:        pageURL + "?status=cancelled",
		Metadata: map[string]string{
			"flow":             payments.FlowCardCapture,
			"table_booking_id": b.ID,
			"token_id":         tok.ID,
			"customer_id":      customer.ID,
		},
		IdempotencyKey: "card-capture-checkout-" + b.ID + "-" + tok.ID,
	})
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Card capture checkout started", "table_booking_id", b.ID, "checkout_session_id", session.ID)
	return &CheckoutResult{State: domain.DecisionApplied, RedirectURL: session.URL}, nil
}

func (s *cardCaptureService) Complete(ctx context.Context, bookingID, tokenID, customerID, setupIntentID string) error {
	customer, err := s.customers.GetByID(ctx, customerID)
	if err != nil || customer == nil {
		return fmt.Errorf("load customer %s: %w", customerID, errOrNotFound(err))
	}
	paymentMethod, err := s.gateway.SetupPaymentMethod(ctx, setupIntentID)
	if err != nil {
		return err
	}

	now := s.now()
	stored, err := s.bookings.CompleteCardCapture(ctx, tokenID, bookingID, domain.CardCapture{
		CustomerID:       customerID,
		StripeCustomerID: customer.StripeCustomerID,
		PaymentMethodID:  paymentMethod,
		CapturedAt:       now,
	})
	if err != nil {
		return fmt.Errorf("store card capture: %w", err)
	}
	if !stored {
		logger.InfoContext(ctx, "Card capture already recorded", "table_booking_id", bookingID)
		return nil
	}

	logger.InfoContext(ctx, "Card captured", "table_booking_id", bookingID, "customer_id", customerID)
	publish(ctx, s.eventBus, events.CardCaptureCompleted, events.CheckoutEvent{
		TableBookingID: bookingID,
		At:             now,
	})
	return nil
}
