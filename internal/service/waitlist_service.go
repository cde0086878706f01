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

type WaitlistPreview struct {
	State  domain.PreviewState
	Reason domain.Reason
	Offer  *domain.WaitlistOfferView
}

type WaitlistConfirmation struct {
	State   domain.DecisionState
	Reason  domain.Reason
	Offer   *domain.WaitlistOfferView
	Booking *domain.EventBooking
}

type WaitlistService interface {
	Preview(ctx context.Context, rawToken string) (*WaitlistPreview, error)
	Confirm(ctx context.Context, rawToken string) (*WaitlistConfirmation, error)
	// StartPayment opens checkout for a prepaid seat that Confirm just reserved.
	StartPayment(ctx context.Context, rawToken string, c *WaitlistConfirmation) (string, error)
	CompletePayment(ctx context.Context, eventBookingID, sessionID string) error
}

type waitlistService struct {
	tokens      repository.TokenRepository
	waitlist    repository.WaitlistRepository
	settings    repository.SettingsRepository
	customers   repository.CustomerRepository
	gateway     payments.Gateway
	eventBus    events.Publisher
	baseURL     string
	prepaidHold time.Duration
	now         func() time.Time
}

func NewWaitlistService(
	tokens repository.TokenRepository,
	waitlist repository.WaitlistRepository,
	settings repository.SettingsRepository,
	customers repository.CustomerRepository,
	gateway payments.Gateway,
	eventBus events.Publisher,
	baseURL string,
	prepaidHold time.Duration,
) WaitlistService {
	return &waitlistService{
		tokens:      tokens,
		waitlist:    waitlist,
		settings:    settings,
		customers:   customers,
		gateway:     gateway,
		eventBus:    eventBus,
		baseURL:     baseURL,
		prepaidHold: prepaidHold,
		now:         time.Now,
	}
}

func (s *waitlistService) Preview(ctx context.Context, rawToken string) (*WaitlistPreview, error) {
	tok, err := resolveToken(ctx, s.tokens, rawToken, domain.ScopeWaitlistOffer)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return &WaitlistPreview{State: domain.PreviewBlocked, Reason: domain.ReasonInvalidToken}, nil
	}

	now := s.now()
	view, err := s.waitlist.GetOfferView(ctx, tok.SubjectID, now)
	if err != nil {
		return nil, fmt.Errorf("load waitlist offer: %w", err)
	}
	if view == nil {
		return &WaitlistPreview{State: domain.PreviewBlocked, Reason: domain.ReasonInvalidToken}, nil
	}

	offer := view.Offer
	switch {
	case offer.Status == domain.OfferAccepted:
		return &WaitlistPreview{State: domain.PreviewAlreadyDecided, Reason: domain.ReasonAlreadyDecided, Offer: view}, nil
	case offer.Status != domain.OfferPending, !now.Before(offer.ExpiresAt):
		return &WaitlistPreview{State: domain.PreviewBlocked, Reason: domain.ReasonOfferExpired}, nil
	}
	if reason := usableReason(tok, now); reason != "" {
		return &WaitlistPreview{State: domain.PreviewBlocked, Reason: reason}, nil
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	switch {
	case !settings.WaitlistOffersEnabled, !view.Event.BookingOpen:
		return &WaitlistPreview{State: domain.PreviewBlocked, Reason: domain.ReasonBookingClosed}, nil
	case view.Event.Started(now):
		return &WaitlistPreview{State: domain.PreviewBlocked, Reason: domain.ReasonEventStarted}, nil
	case view.CapacityAvailable() < offer.RequestedSeats:
		return &WaitlistPreview{State: domain.PreviewBlocked, Reason: domain.ReasonCapacityUnavailable}, nil
	}
	return &WaitlistPreview{State: domain.PreviewReady, Offer: view}, nil
}

func (s *waitlistService) Confirm(ctx context.Context, rawToken string) (*WaitlistConfirmation, error) {
	tok, err := resolveToken(ctx, s.tokens, rawToken, domain.ScopeWaitlistOffer)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return &WaitlistConfirmation{State: domain.DecisionBlocked, Reason: domain.ReasonInvalidToken}, nil
	}

	now := s.now()
	booking, reason, err := s.waitlist.Confirm(ctx, tok.ID, tok.SubjectID, domain.WaitlistConfirmation{
		Now:         now,
		PrepaidHold: s.prepaidHold,
	})
	if err != nil {
		return nil, fmt.Errorf("confirm waitlist offer: %w", err)
	}
	switch reason {
	case "":
	case domain.ReasonAlreadyDecided:
		return &WaitlistConfirmation{State: domain.DecisionAlreadyDecided, Reason: reason}, nil
	default:
		return &WaitlistConfirmation{State: domain.DecisionBlocked, Reason: reason}, nil
	}

	view, err := s.waitlist.GetOfferView(ctx, tok.SubjectID, now)
	if err != nil {
		// The seat is ours regardless; the view only feeds the follow-up payment.
		logger.WarnContext(ctx, "Failed to reload accepted offer", "offer_id", tok.SubjectID, "error", err)
	}

	logger.InfoContext(ctx, "Waitlist offer confirmed",
		"offer_id", tok.SubjectID,
		"event_booking_id", booking.ID,
		"status", booking.Status,
	)
	ev := events.WaitlistOfferEvent{
		OfferID:        tok.SubjectID,
		EventID:        booking.EventID,
		EventBookingID: booking.ID,
		Seats:          booking.Seats,
		At:             now,
	}
	if view != nil {
		ev.PaymentMode = string(view.Offer.PaymentMode)
	}
	publish(ctx, s.eventBus, events.WaitlistOfferConfirmed, ev)

	return &WaitlistConfirmation{State: domain.DecisionApplied, Offer: view, Booking: booking}, nil
}

func (s *waitlistService) StartPayment(ctx context.Context, rawToken string, c *WaitlistConfirmation) (string, error) {
	if c == nil || c.State != domain.DecisionApplied || c.Booking == nil {
		return "", ErrNotApplied
	}
	if c.Booking.Status != domain.EventBookingPendingPayment {
		return "", nil
	}

	customer, err := s.customers.GetByID(ctx, c.Booking.CustomerID)
	if err != nil || customer == nil {
		return "", fmt.Errorf("load customer %s: %w", c.Booking.CustomerID, errOrNotFound(err))
	}
	stripeCustomer, err := ensureStripeCustomer(ctx, s.gateway, s.customers, customer)
	if err != nil {
		return "", err
	}

	description := fmt.Sprintf("%d seat(s)", c.Booking.Seats)
	if c.Offer != nil {
		description = fmt.Sprintf("%s: %d seat(s)", c.Offer.Event.Name, c.Booking.Seats)
	}
	pageURL := linkURL(s.baseURL, domain.ScopeWaitlistOffer, rawToken)
	session, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		Mode:             payments.ModePayment,
		StripeCustomerID: stripeCustomer,
		Description:      description,
		Amount:           c.Booking.Amount,
		Currency:         c.Booking.Currency,
		SuccessURL:       pageURL + "?status=paid",
		CancelURL:        pageURL + "?status=payment_cancelled",
		Metadata: map[string]string{
			"flow":             payments.FlowEventPayment,
			"event_booking_id": c.Booking.ID,
		},
		IdempotencyKey: "event-booking-checkout-" + c.Booking.ID,
	})
	if err != nil {
		return "", err
	}
	if err := s.waitlist.AttachCheckoutSession(ctx, c.Booking.ID, session.ID); err != nil {
		return "", fmt.Errorf("attach checkout session: %w", err)
	}
	return session.URL, nil
}

func (s *waitlistService) CompletePayment(ctx context.Context, eventBookingID, sessionID string) error {
	now := s.now()
	settlement, err := s.waitlist.ConfirmPayment(ctx, eventBookingID, sessionID, now)
	if err != nil {
		return fmt.Errorf("confirm event payment: %w", err)
	}
	switch settlement {
	case domain.PaymentAlreadySettled:
		return nil
	case domain.PaymentNeedsRefund:
		// The seats may already be resold; never confirm past the hold.
		logger.ErrorContext(ctx, "Event payment not accepted by booking, refund required",
			"event_booking_id", eventBookingID,
			"checkout_session_id", sessionID,
		)
		publish(ctx, s.eventBus, events.PaymentNeedsRefund, events.CheckoutEvent{
			EventBookingID:    eventBookingID,
			CheckoutSessionID: sessionID,
			At:                now,
		})
		return nil
	}

	logger.InfoContext(ctx, "Event payment confirmed", "event_booking_id", eventBookingID)
	publish(ctx, s.eventBus, events.EventPaymentCompleted, events.CheckoutEvent{
		EventBookingID:    eventBookingID,
		CheckoutSessionID: sessionID,
		At:                now,
	})
	return nil
}
