package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venuehq/backoffice/internal/domain"
)

type WaitlistRepository interface {
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	CreateOffer(ctx context.Context, o *domain.WaitlistOffer) (*domain.WaitlistOffer, error)
	GetOfferView(ctx context.Context, offerID string, now time.Time) (*domain.WaitlistOfferView, error)
	// Confirm accepts an offer in one transaction that locks the token, the offer and
	// the event, so two guests cannot both take the last seats.
	Confirm(ctx context.Context, tokenID, offerID string, in domain.WaitlistConfirmation) (*domain.EventBooking, domain.Reason, error)
	AttachCheckoutSession(ctx context.Context, eventBookingID, sessionID string) error
	ConfirmPayment(ctx context.Context, eventBookingID, sessionID string, paidAt time.Time) (domain.PaymentSettlement, error)
}

type waitlistRepository struct {
	pool *pgxpool.Pool
}

func NewWaitlistRepository(pool *pgxpool.Pool) WaitlistRepository {
	return &waitlistRepository{pool: pool}
}

const eventCols = `id, name, starts_at, capacity, booking_open, price_per_seat, currency`

const offerCols = `id, event_id, customer_id, requested_seats, expires_at, payment_mode, status,
accepted_at, event_booking_id, created_at`

// Seats count against capacity while confirmed, or while a prepaid hold is still running.
const seatsTakenQuery = `SELECT COALESCE(SUM(seats), 0) FROM event_bookings
WHERE event_id=$1 AND (status='confirmed' OR (status='pending_payment' AND hold_expires_at > $2))`

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	err := row.Scan(&e.ID, &e.Name, &e.StartsAt, &e.Capacity, &e.BookingOpen, &e.PricePerSeat, &e.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanOffer(row pgx.Row) (*domain.WaitlistOffer, error) {
	var o domain.WaitlistOffer
	err := row.Scan(&o.ID, &o.EventID, &o.CustomerID, &o.RequestedSeats, &o.ExpiresAt, &o.PaymentMode, &o.Status,
		&o.AcceptedAt, &o.EventBookingID, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *waitlistRepository) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventCols+` FROM events WHERE id=$1`, id))
}

func (r *waitlistRepository) CreateOffer(ctx context.Context, o *domain.WaitlistOffer) (*domain.WaitlistOffer, error) {
	const q = `INSERT INTO waitlist_offers (event_id, customer_id, requested_seats, expires_at, payment_mode)
	VALUES ($1,$2,$3,$4,$5)
	RETURNING ` + offerCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanOffer(r.pool.QueryRow(ctx, q, o.EventID, o.CustomerID, o.RequestedSeats, o.ExpiresAt, o.PaymentMode))
}

func (r *waitlistRepository) GetOfferView(ctx context.Context, offerID string, now time.Time) (*domain.WaitlistOfferView, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	offer, err := scanOffer(r.pool.QueryRow(ctx, `SELECT `+offerCols+` FROM waitlist_offers WHERE id=$1`, offerID))
	if err != nil || offer == nil {
		return nil, err
	}
	event, err := scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventCols+` FROM events WHERE id=$1`, offer.EventID))
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, fmt.Errorf("offer %s references missing event %s", offer.ID, offer.EventID)
	}

	view := &domain.WaitlistOfferView{Offer: *offer, Event: *event}
	if err := r.pool.QueryRow(ctx, seatsTakenQuery, event.ID, now).Scan(&view.SeatsTaken); err != nil {
		return nil, err
	}
	err = r.pool.QueryRow(ctx, `SELECT trim(first_name || ' ' || last_name), email FROM customers WHERE id=$1`, offer.CustomerID).
		Scan(&view.CustomerName, &view.CustomerEmail)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return view, nil
}

func (r *waitlistRepository) Confirm(ctx context.Context, tokenID, offerID string, in domain.WaitlistConfirmation) (*domain.EventBooking, domain.Reason, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, "", err
	}
	defer tx.Rollback(ctx)

	tok, err := lockToken(ctx, tx, tokenID)
	if err != nil {
		return nil, "", fmt.Errorf("lock token: %w", err)
	}
	if tok == nil || tok.Scope != domain.ScopeWaitlistOffer || tok.SubjectID != offerID {
		return nil, domain.ReasonInvalidToken, nil
	}

	offer, err := scanOffer(tx.QueryRow(ctx, `SELECT `+offerCols+` FROM waitlist_offers WHERE id=$1 FOR UPDATE`, offerID))
	if err != nil {
		return nil, "", fmt.Errorf("lock offer: %w", err)
	}
	if offer == nil {
		return nil, domain.ReasonInvalidToken, nil
	}
	switch {
	case offer.Status == domain.OfferAccepted:
		return nil, domain.ReasonAlreadyDecided, nil
	case offer.Status != domain.OfferPending, !in.Now.Before(offer.ExpiresAt):
		return nil, domain.ReasonOfferExpired, nil
	}
	if reason := tokenReason(tok, in.Now); reason != "" {
		return nil, reason, nil
	}

	var enabled bool
	if err := tx.QueryRow(ctx, `SELECT waitlist_offers_enabled FROM operational_settings WHERE id=1`).Scan(&enabled); err != nil {
		return nil, "", fmt.Errorf("read settings: %w", err)
	}

	event, err := scanEvent(tx.QueryRow(ctx, `SELECT `+eventCols+` FROM events WHERE id=$1 FOR UPDATE`, offer.EventID))
	if err != nil {
		return nil, "", fmt.Errorf("lock event: %w", err)
	}
	if event == nil || !enabled || !event.BookingOpen {
		return nil, domain.ReasonBookingClosed, nil
	}
	if event.Started(in.Now) {
		return nil, domain.ReasonEventStarted, nil
	}

	var taken int
	if err := tx.QueryRow(ctx, seatsTakenQuery, event.ID, in.Now).Scan(&taken); err != nil {
		return nil, "", fmt.Errorf("count seats: %w", err)
	}
	if event.Capacity-taken < offer.RequestedSeats {
		return nil, domain.ReasonCapacityUnavailable, nil
	}

	eb := domain.EventBooking{
		EventID:    event.ID,
		CustomerID: offer.CustomerID,
		Seats:      offer.RequestedSeats,
		Status:     domain.EventBookingConfirmed,
		Currency:   event.Currency,
	}
	if offer.PaymentMode == domain.PaymentPrepaid {
		hold := in.Now.Add(in.PrepaidHold)
		eb.Status = domain.EventBookingPendingPayment
		eb.HoldExpiresAt = &hold
		eb.Amount = event.PricePerSeat * domain.Money(offer.RequestedSeats)
	}

	const insert = `INSERT INTO event_bookings (event_id, customer_id, seats, status, hold_expires_at, amount, currency, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	RETURNING id, created_at`
	err = tx.QueryRow(ctx, insert, eb.EventID, eb.CustomerID, eb.Seats, eb.Status, eb.HoldExpiresAt, eb.Amount, eb.Currency, in.Now).
		Scan(&eb.ID, &eb.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("insert event booking: %w", err)
	}

	tag, err := tx.Exec(ctx, `UPDATE waitlist_offers SET status='accepted', accepted_at=$2, event_booking_id=$3
	WHERE id=$1 AND status='pending'`, offerID, in.Now, eb.ID)
	if err != nil {
		return nil, "", fmt.Errorf("accept offer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ReasonAlreadyDecided, nil
	}
	if err := consumeToken(ctx, tx, tokenID, in.Now); err != nil {
		return nil, "", fmt.Errorf("consume token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", err
	}
	return &eb, "", nil
}

func (r *waitlistRepository) AttachCheckoutSession(ctx context.Context, eventBookingID, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, `UPDATE event_bookings SET checkout_session_id=$2
	WHERE id=$1 AND status='pending_payment'`, eventBookingID, sessionID)
	return err
}

func (r *waitlistRepository) ConfirmPayment(ctx context.Context, eventBookingID, sessionID string, paidAt time.Time) (domain.PaymentSettlement, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	var eb domain.EventBooking
	err = tx.QueryRow(ctx, `SELECT id, status, hold_expires_at, checkout_session_id
	FROM event_bookings WHERE id=$1 FOR UPDATE`, eventBookingID).
		Scan(&eb.ID, &eb.Status, &eb.HoldExpiresAt, &eb.CheckoutSessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PaymentNeedsRefund, nil
	}
	if err != nil {
		return "", fmt.Errorf("lock event booking: %w", err)
	}
	if settlement := eb.Settle(sessionID, paidAt); settlement != domain.PaymentConfirmed {
		return settlement, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE event_bookings SET status='confirmed', hold_expires_at=NULL
	WHERE id=$1`, eventBookingID); err != nil {
		return "", fmt.Errorf("confirm event booking: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return domain.PaymentConfirmed, nil
}
