package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/internal/repository"
	"github.com/venuehq/backoffice/pkg/config"
	"github.com/venuehq/backoffice/pkg/events"
	"github.com/venuehq/backoffice/pkg/logger"
	"github.com/venuehq/backoffice/pkg/token"
)

// IssuedLink is what staff get back. The raw token only travels in the email.
type IssuedLink struct {
	Scope     domain.LinkScope `json:"scope"`
	SubjectID string           `json:"subject_id"`
	ExpiresAt time.Time        `json:"expires_at"`
	SentTo    string           `json:"sent_to"`
}

// LinkService creates the pending subjects behind guest and manager links and
// sends the links out.
type LinkService interface {
	CreateChargeRequest(ctx context.Context, req domain.CreateChargeRequest, staffID string) (*domain.ChargeRequest, *IssuedLink, error)
	IssueBookingLink(ctx context.Context, bookingID string, scope domain.LinkScope) (*IssuedLink, error)
	CreateWaitlistOffer(ctx context.Context, eventID string, req domain.CreateWaitlistOffer) (*domain.WaitlistOffer, *IssuedLink, error)
}

type linkService struct {
	tokens    repository.TokenRepository
	charges   repository.ChargeRequestRepository
	bookings  repository.TableBookingRepository
	waitlist  repository.WaitlistRepository
	customers repository.CustomerRepository
	notifier  Notifier
	eventBus  events.Publisher
	app       config.AppConfig
	guest     config.GuestConfig
	now       func() time.Time
}

func NewLinkService(
	tokens repository.TokenRepository,
	charges repository.ChargeRequestRepository,
	bookings repository.TableBookingRepository,
	waitlist repository.WaitlistRepository,
	customers repository.CustomerRepository,
	notifier Notifier,
	eventBus events.Publisher,
	app config.AppConfig,
	guest config.GuestConfig,
) LinkService {
	return &linkService{
		tokens:    tokens,
		charges:   charges,
		bookings:  bookings,
		waitlist:  waitlist,
		customers: customers,
		notifier:  notifier,
		eventBus:  eventBus,
		app:       app,
		guest:     guest,
		now:       time.Now,
	}
}

// issue stores a fresh token and returns the raw value for the outbound link.
func (s *linkService) issue(ctx context.Context, scope domain.LinkScope, subjectID string, customerID *string, expiresAt time.Time) (string, error) {
	raw, err := token.Generate()
	if err != nil {
		return "", err
	}
	_, err = s.tokens.Create(ctx, &domain.GuestToken{
		TokenHash:  token.Hash(raw),
		Scope:      scope,
		SubjectID:  subjectID,
		CustomerID: customerID,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}

	logger.InfoContext(ctx, "Link issued", "scope", scope, "subject_id", subjectID, "token_prefix", token.Prefix(raw))
	publish(ctx, s.eventBus, events.GuestLinkIssued, events.GuestLinkIssuedEvent{
		Scope:     string(scope),
		SubjectID: subjectID,
		ExpiresAt: expiresAt,
	})
	return raw, nil
}

func (s *linkService) CreateChargeRequest(ctx context.Context, req domain.CreateChargeRequest, staffID string) (*domain.ChargeRequest, *IssuedLink, error) {
	chargeType, ok := domain.ParseChargeType(req.Type)
	if !ok {
		return nil, nil, fmt.Errorf("%w: type must be no_show, walkout or reduction", ErrValidation)
	}
	amount, err := domain.ParseMoney(req.Amount)
	if err != nil || amount <= 0 {
		return nil, nil, fmt.Errorf("%w: amount must be a positive sum like 45.00", ErrValidation)
	}

	b, err := s.bookings.GetByID(ctx, req.TableBookingID)
	if err != nil {
		return nil, nil, fmt.Errorf("load table booking: %w", err)
	}
	if b == nil {
		return nil, nil, fmt.Errorf("table booking %s: %w", req.TableBookingID, ErrNotFound)
	}

	cr, err := s.charges.Create(ctx, &domain.ChargeRequest{
		TableBookingID: b.ID,
		CustomerID:     b.CustomerID,
		Type:           chargeType,
		Amount:         amount,
		Currency:       b.Currency,
		Notes:          strings.TrimSpace(req.Notes),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create charge request: %w", err)
	}

	expiresAt := s.now().Add(s.guest.ChargeApprovalTTL)
	raw, err := s.issue(ctx, domain.ScopeChargeApproval, cr.ID, nil, expiresAt)
	if err != nil {
		return nil, nil, err
	}

	link := linkURL(s.app.BaseURL, domain.ScopeChargeApproval, raw)
	if err := s.notifier.ChargeApprovalRequested(ctx, s.app.ManagerEmail, cr, link); err != nil {
		return nil, nil, fmt.Errorf("email manager: %w", err)
	}

	logger.InfoContext(ctx, "Charge request created",
		"charge_request_id", cr.ID,
		"table_booking_id", b.ID,
		"amount", cr.Amount,
		"staff_id", staffID,
	)
	publish(ctx, s.eventBus, events.ChargeRequestCreated, events.ChargeRequestCreatedEvent{
		ChargeRequestID: cr.ID,
		TableBookingID:  b.ID,
		Type:            string(cr.Type),
		Amount:          int64(cr.Amount),
		Currency:        cr.Currency,
		CreatedAt:       cr.CreatedAt,
	})
	return cr, &IssuedLink{Scope: domain.ScopeChargeApproval, SubjectID: cr.ID, ExpiresAt: expiresAt, SentTo: s.app.ManagerEmail}, nil
}

func (s *linkService) IssueBookingLink(ctx context.Context, bookingID string, scope domain.LinkScope) (*IssuedLink, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("load table booking: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("table booking %s: %w", bookingID, ErrNotFound)
	}
	if b.CustomerEmail == "" {
		return nil, fmt.Errorf("%w: customer has no email address", ErrValidation)
	}

	now := s.now()
	var expiresAt time.Time
	switch scope {
	case domain.ScopeTablePayment:
		expiresAt = now.Add(s.guest.TablePaymentHold)
		opened, err := s.bookings.OpenPaymentHold(ctx, b.ID, expiresAt)
		if err != nil {
			return nil, fmt.Errorf("open payment hold: %w", err)
		}
		if !opened {
			return nil, fmt.Errorf("%w: booking is not awaiting payment", ErrValidation)
		}
	case domain.ScopeCardCapture:
		expiresAt = now.Add(s.guest.CardCaptureTTL)
		requested, err := s.bookings.RequestCardCapture(ctx, b.ID)
		if err != nil {
			return nil, fmt.Errorf("request card capture: %w", err)
		}
		if !requested {
			return nil, fmt.Errorf("%w: booking is closed or already has a card", ErrValidation)
		}
	case domain.ScopeSundayPreorder:
		if b.BookingType != domain.BookingSundayLunch || b.Status != domain.TableBookingConfirmed {
			return nil, fmt.Errorf("%w: only confirmed Sunday lunch bookings take pre-orders", ErrValidation)
		}
		expiresAt = b.PreorderCutoff(s.guest.SundayPreorderCutoff)
		if !now.Before(expiresAt) {
			return nil, fmt.Errorf("%w: pre-order deadline has passed", ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: scope %q cannot be issued for a table booking", ErrValidation, scope)
	}

	raw, err := s.issue(ctx, scope, b.ID, &b.CustomerID, expiresAt)
	if err != nil {
		return nil, err
	}
	if err := s.notifier.GuestLink(ctx, b.CustomerEmail, b.CustomerName, scope, linkURL(s.app.BaseURL, scope, raw), expiresAt); err != nil {
		return nil, fmt.Errorf("email guest: %w", err)
	}
	return &IssuedLink{Scope: scope, SubjectID: b.ID, ExpiresAt: expiresAt, SentTo: b.CustomerEmail}, nil
}

func (s *linkService) CreateWaitlistOffer(ctx context.Context, eventID string, req domain.CreateWaitlistOffer) (*domain.WaitlistOffer, *IssuedLink, error) {
	mode, ok := domain.ParsePaymentMode(req.PaymentMode)
	if !ok {
		return nil, nil, fmt.Errorf("%w: payment_mode must be prepaid or free", ErrValidation)
	}
	if req.RequestedSeats <= 0 {
		return nil, nil, fmt.Errorf("%w: requested_seats must be positive", ErrValidation)
	}

	event, err := s.waitlist.GetEvent(ctx, eventID)
	if err != nil {
		return nil, nil, fmt.Errorf("load event: %w", err)
	}
	if event == nil {
		return nil, nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	customer, err := s.customers.GetByID(ctx, req.CustomerID)
	if err != nil {
		return nil, nil, fmt.Errorf("load customer: %w", err)
	}
	if customer == nil {
		return nil, nil, fmt.Errorf("customer %s: %w", req.CustomerID, ErrNotFound)
	}
	if customer.Email == "" {
		return nil, nil, fmt.Errorf("%w: customer has no email address", ErrValidation)
	}

	now := s.now()
	ttl := s.guest.WaitlistOfferTTL
	if req.TTLMinutes > 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}
	expiresAt := now.Add(ttl)
	if expiresAt.After(event.StartsAt) {
		expiresAt = event.StartsAt
	}
	if !now.Before(expiresAt) {
		return nil, nil, fmt.Errorf("%w: event has already started", ErrValidation)
	}

	offer, err := s.waitlist.CreateOffer(ctx, &domain.WaitlistOffer{
		EventID:        event.ID,
		CustomerID:     customer.ID,
		RequestedSeats: req.RequestedSeats,
		ExpiresAt:      expiresAt,
		PaymentMode:    mode,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create waitlist offer: %w", err)
	}

	raw, err := s.issue(ctx, domain.ScopeWaitlistOffer, offer.ID, &customer.ID, expiresAt)
	if err != nil {
		return nil, nil, err
	}
	link := linkURL(s.app.BaseURL, domain.ScopeWaitlistOffer, raw)
	if err := s.notifier.GuestLink(ctx, customer.Email, customer.FullName(), domain.ScopeWaitlistOffer, link, expiresAt); err != nil {
		return nil, nil, fmt.Errorf("email guest: %w", err)
	}

	publish(ctx, s.eventBus, events.WaitlistOfferCreated, events.WaitlistOfferEvent{
		OfferID:     offer.ID,
		EventID:     event.ID,
		Seats:       offer.RequestedSeats,
		PaymentMode: string(mode),
		At:          now,
	})
	return offer, &IssuedLink{Scope: domain.ScopeWaitlistOffer, SubjectID: offer.ID, ExpiresAt: expiresAt, SentTo: customer.Email}, nil
}
