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

type TablePaymentPreview struct {
	State   domain.PreviewState
	Reason  domain.Reason
	Booking *domain.TableBooking
}

type TablePaymentService interface {
	Preview(ctx context.Context, rawToken string) (*TablePaymentPreview, error)
	Checkout(ctx context.Context, rawToken string) (*CheckoutResult, error)
	// Complete is driven by the processor webhook and is safe to repeat.
	Complete(ctx context.Context, bookingID, tokenID, sessionID string) error
}

type tablePaymentService struct {
	tokens    repository.TokenRepository
	bookings  repository.TableBookingRepository
	customers repository.CustomerRepository
	gateway   payments.Gateway
	eventBus  events.Publisher
	baseURL   string
	venue     string
	now       func() time.Time
}

func NewTablePaymentService(
	tokens repository.TokenRepository,
	bookings repository.TableBookingRepository,
	customers repository.CustomerRepository,
	gateway payments.Gateway,
	eventBus events.Publisher,
	baseURL, venue string,
) TablePaymentService {
	return &tablePaymentService{
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

func (s *tablePaymentService) resolve(ctx context.Context, rawToken string) (*domain.GuestToken, *TablePaymentPreview, error) {
	tok, err := resolveToken(ctx, s.tokens, rawToken, domain.ScopeTablePayment)
	if err != nil {
		return nil, nil, err
	}
	if tok == nil {
		return nil, &TablePaymentPreview{State: domain.PreviewBlocked, Reason: domain.ReasonInvalidToken}, nil
	}
	b, err := s.bookings.GetByID(ctx, tok.SubjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("load table booking: %w", err)
	}
	if b == nil {
		return nil, &TablePaymentPreview{State: domain.PreviewBlocked, Reason: domain.ReasonInvalidToken}, nil
	}

	now := s.now()
	switch {
	case b.Status == domain.TableBookingConfirmed && b.PaidAt != nil:
		return tok, &TablePaymentPreview{State: domain.PreviewAlreadyDecided, Reason: domain.ReasonAlreadyDecided, Booking: b}, nil
	case b.Status != domain.TableBookingPendingPayment:
		return tok, &TablePaymentPreview{State: domain.PreviewBlocked, Reason: domain.ReasonBookingNotPendingPayment}, nil
	}
	if reason := usableReason(tok, now); reason != "" {
		return tok, &TablePaymentPreview{State: domain.PreviewBlocked, Reason: reason}, nil
	}
	if !b.HoldActive(now) {
		return tok, &TablePaymentPreview{State: domain.PreviewBlocked, Reason: domain.ReasonHoldExpired}, nil
	}
	return tok, &TablePaymentPreview{State: domain.PreviewReady, Booking: b}, nil
}

func (s *tablePaymentService) Preview(ctx context.Context, rawToken string) (*TablePaymentPreview, error) {
	_, p, err := s.resolve(ctx, rawToken)
	return p, err
}

func (s *tablePaymentService) Checkout(ctx context.Context, rawToken string) (*CheckoutResult, error) {
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

	pageURL := linkURL(s.baseURL, domain.ScopeTablePayment, rawToken)
	session, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		Mode:             payments.ModePayment,
		StripeCustomerID: stripeCustomer,
		Description:      fmt.Sprintf("%s booking %s for %d", s.venue, b.Reference, b.PartySize),
		Amount:           b.TotalAmount,
		Currency:         b.Currency,
		SuccessURL:       pageURL + "?status=paid",
		CancelURL:        pageURL + "?status=cancelled",
		Metadata: map[string]string{
			"flow":             payments.FlowTablePayment,
			"table_booking_id": b.ID,
			"token_id":         tok.ID,
		},
		// One session per link and booking, so repeated POSTs land on the same payable session.
		IdempotencyKey: "table-payment-checkout-" + b.ID + "-" + tok.ID,
	})
	if err != nil {
		return nil, err
	}

	attached, err := s.bookings.AttachCheckoutSession(ctx, b.ID, session.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("attach checkout session: %w", err)
	}
	if !attached {
		// The hold lapsed or the booking moved on between the check and the write.
		return blockedCheckout(domain.ReasonHoldExpired), nil
	}

	logger.InfoContext(ctx, "Table payment checkout started", "table_booking_id", b.ID, "checkout_session_id", session.ID)
	publish(ctx, s.eventBus, events.TablePaymentCheckoutStarted, events.CheckoutEvent{
		TableBookingID:    b.ID,
		CheckoutSessionID: session.ID,
		At:                s.now(),
	})
	return &CheckoutResult{State: domain.DecisionApplied, RedirectURL: session.URL}, nil
}

func (s *tablePaymentService) Complete(ctx context.Context, bookingID, tokenID, sessionID string) error {
	now := s.now()
	settlement, err := s.bookings.ConfirmPayment(ctx, tokenID, bookingID, sessionID, now)
	if err != nil {
		return fmt.Errorf("confirm table payment: %w", err)
	}
	switch settlement {
	case domain.PaymentAlreadySettled:
		logger.InfoContext(ctx, "Table payment already settled", "table_booking_id", bookingID, "checkout_session_id", sessionID)
		return nil
	case domain.PaymentNeedsRefund:
		logger.ErrorContext(ctx, "Table payment not accepted by booking, refund required",
			"table_booking_id", bookingID,
			"checkout_session_id", sessionID,
		)
		publish(ctx, s.eventBus, events.PaymentNeedsRefund, events.CheckoutEvent{
			TableBookingID:    bookingID,
			CheckoutSessionID: sessionID,
			At:                now,
		})
		return nil
	}

	logger.InfoContext(ctx, "Table payment confirmed", "table_booking_id", bookingID)
	publish(ctx, s.eventBus, events.TablePaymentCompleted, events.CheckoutEvent{
		TableBookingID:    bookingID,
		CheckoutSessionID: sessionID,
		At:                now,
	})
	return nil
}

// ensureStripeCustomer creates the processor customer on first use and remembers it.
func ensureStripeCustomer(ctx context.Context, gateway payments.Gateway, customers repository.CustomerRepository, c *domain.Customer) (string, error) {
	if c.StripeCustomerID != "" {
		return c.StripeCustomerID, nil
	}
	id, err := gateway.EnsureCustomer(ctx, c)
	if err != nil {
		return "", err
	}
	if err := customers.SetStripeCustomerID(ctx, c.ID, id); err != nil {
		return "", fmt.Errorf("save stripe customer: %w", err)
	}
	c.StripeCustomerID = id
	return id, nil
}

func errOrNotFound(err error) error {
	if err != nil {
		return err
	}
	return ErrNotFound
}
