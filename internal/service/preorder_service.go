package service

import (
	"context"
	"fmt"
	"time"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/internal/repository"
	"github.com/venuehq/backoffice/pkg/events"
	"github.com/venuehq/backoffice/pkg/logger"
)

type PreorderPreview struct {
	State      domain.PreviewState
	Reason     domain.Reason
	Booking    *domain.TableBooking
	Menu       []domain.MenuItem
	Quantities map[string]int
	Cutoff     time.Time
}

type PreorderSaveResult struct {
	State  domain.DecisionState
	Reason domain.Reason
}

type PreorderService interface {
	Preview(ctx context.Context, rawToken string) (*PreorderPreview, error)
	Save(ctx context.Context, rawToken string, quantities map[string]int) (*PreorderSaveResult, error)
}

type preorderService struct {
	tokens   repository.TokenRepository
	bookings repository.TableBookingRepository
	preorder repository.PreorderRepository
	settings repository.SettingsRepository
	eventBus events.Publisher
	cutoff   time.Duration
	now      func() time.Time
}

func NewPreorderService(
	tokens repository.TokenRepository,
	bookings repository.TableBookingRepository,
	preorder repository.PreorderRepository,
	settings repository.SettingsRepository,
	eventBus events.Publisher,
	cutoff time.Duration,
) PreorderService {
	return &preorderService{
		tokens:   tokens,
		bookings: bookings,
		preorder: preorder,
		settings: settings,
		eventBus: eventBus,
		cutoff:   cutoff,
		now:      time.Now,
	}
}

func (s *preorderService) resolve(ctx context.Context, rawToken string) (*domain.GuestToken, *PreorderPreview, error) {
	tok, err := resolveToken(ctx, s.tokens, rawToken, domain.ScopeSundayPreorder)
	if err != nil {
		return nil, nil, err
	}
	if tok == nil {
		return nil, &PreorderPreview{State: domain.PreviewBlocked, Reason: domain.ReasonInvalidToken}, nil
	}
	b, err := s.bookings.GetByID(ctx, tok.SubjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("load table booking: %w", err)
	}
	if b == nil {
		return nil, &PreorderPreview{State: domain.PreviewBlocked, Reason: domain.ReasonInvalidToken}, nil
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load settings: %w", err)
	}

	now := s.now()
	cutoff := b.PreorderCutoff(s.cutoff)
	switch {
	case !settings.SundayPreorderEnabled, b.BookingType != domain.BookingSundayLunch, b.Status != domain.TableBookingConfirmed:
		return tok, &PreorderPreview{State: domain.PreviewBlocked, Reason: domain.ReasonBookingClosed}, nil
	case tok.Expired(now):
		return tok, &PreorderPreview{State: domain.PreviewBlocked, Reason: domain.ReasonTokenExpired}, nil
	case !now.Before(cutoff):
		return tok, &PreorderPreview{State: domain.PreviewBlocked, Reason: domain.ReasonPreorderCutoff, Booking: b, Cutoff: cutoff}, nil
	}

	menu, err := s.preorder.ListActiveMenu(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load menu: %w", err)
	}
	current, err := s.preorder.Get(ctx, b.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load preorder: %w", err)
	}
	quantities := map[string]int{}
	if current != nil {
		quantities = current.Quantities()
	}
	return tok, &PreorderPreview{
		State:      domain.PreviewReady,
		Booking:    b,
		Menu:       menu,
		Quantities: quantities,
		Cutoff:     cutoff,
	}, nil
}

func (s *preorderService) Preview(ctx context.Context, rawToken string) (*PreorderPreview, error) {
	_, p, err := s.resolve(ctx, rawToken)
	return p, err
}

func (s *preorderService) Save(ctx context.Context, rawToken string, quantities map[string]int) (*PreorderSaveResult, error) {
	tok, p, err := s.resolve(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	if p.State != domain.PreviewReady {
		return &PreorderSaveResult{State: domain.DecisionBlocked, Reason: p.Reason}, nil
	}

	known := make(map[string]bool, len(p.Menu))
	for _, m := range p.Menu {
		known[m.ID] = true
	}
	lines := make([]domain.PreorderLine, 0, len(quantities))
	items := 0
	for id, qty := range quantities {
		if !known[id] || qty < 0 || qty > p.Booking.PartySize {
			return &PreorderSaveResult{State: domain.DecisionBlocked, Reason: domain.ReasonInvalidSelection}, nil
		}
		if qty > 0 {
			lines = append(lines, domain.PreorderLine{MenuItemID: id, Quantity: qty})
			items += qty
		}
	}

	now := s.now()
	reason, err := s.preorder.Save(ctx, tok.ID, p.Booking.ID, lines, s.cutoff, now)
	if err != nil {
		return nil, fmt.Errorf("save preorder: %w", err)
	}
	if reason != "" {
		return &PreorderSaveResult{State: domain.DecisionBlocked, Reason: reason}, nil
	}

	logger.InfoContext(ctx, "Sunday pre-order saved", "table_booking_id", p.Booking.ID, "items", items)
	publish(ctx, s.eventBus, events.SundayPreorderSaved, events.PreorderSavedEvent{
		TableBookingID: p.Booking.ID,
		Items:          items,
		SavedAt:        now,
	})
	return &PreorderSaveResult{State: domain.DecisionApplied}, nil
}
