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

type TableBookingRepository interface {
	GetByID(ctx context.Context, id string) (*domain.TableBooking, error)
	// OpenPaymentHold starts or extends the online payment window of a booking still awaiting payment.
	OpenPaymentHold(ctx context.Context, id string, until time.Time) (bool, error)
	RequestCardCapture(ctx context.Context, id string) (bool, error)
	// AttachCheckoutSession records the Stripe session only while the hold is live.
	AttachCheckoutSession(ctx context.Context, id, sessionID string, now time.Time) (bool, error)
	// ConfirmPayment settles the booking only for its attached session inside a live hold.
	ConfirmPayment(ctx context.Context, tokenID, bookingID, sessionID string, paidAt time.Time) (domain.PaymentSettlement, error)
	CompleteCardCapture(ctx context.Context, tokenID, bookingID string, capture domain.CardCapture) (bool, error)
}

type tableBookingRepository struct {
	pool *pgxpool.Pool
}

func NewTableBookingRepository(pool *pgxpool.Pool) TableBookingRepository {
	return &tableBookingRepository{pool: pool}
}

const tableBookingSelect = `SELECT tb.id, tb.reference, tb.customer_id, tb.party_size, tb.start_at, tb.booking_type,
tb.status, tb.hold_expires_at, tb.total_amount, tb.currency, tb.card_capture_status,
tb.checkout_session_id, tb.paid_at, tb.preorder_updated_at, tb.created_at, tb.updated_at,
trim(c.first_name || ' ' || c.last_name), c.email
FROM table_bookings tb
JOIN customers c ON c.id = tb.customer_id`

func scanTableBooking(row pgx.Row) (*domain.TableBooking, error) {
	var b domain.TableBooking
	err := row.Scan(
		&b.ID, &b.Reference, &b.CustomerID, &b.PartySize, &b.StartAt, &b.BookingType,
		&b.Status, &b.HoldExpiresAt, &b.TotalAmount, &b.Currency, &b.CardCaptureStatus,
		&b.CheckoutSessionID, &b.PaidAt, &b.PreorderUpdatedAt, &b.CreatedAt, &b.UpdatedAt,
		&b.CustomerName, &b.CustomerEmail,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *tableBookingRepository) GetByID(ctx context.Context, id string) (*domain.TableBooking, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanTableBooking(r.pool.QueryRow(ctx, tableBookingSelect+` WHERE tb.id=$1`, id))
}

func (r *tableBookingRepository) OpenPaymentHold(ctx context.Context, id string, until time.Time) (bool, error) {
	const q = `UPDATE table_bookings SET hold_expires_at=$2, updated_at=now()
	WHERE id=$1 AND status='pending_payment'`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, q, id, until)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *tableBookingRepository) RequestCardCapture(ctx context.Context, id string) (bool, error) {
	const q = `UPDATE table_bookings SET card_capture_status='pending', updated_at=now()
	WHERE id=$1 AND card_capture_status <> 'captured' AND status NOT IN ('cancelled','no_show','completed')`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *tableBookingRepository) AttachCheckoutSession(ctx context.Context, id, sessionID string, now time.Time) (bool, error) {
	const q = `UPDATE table_bookings SET checkout_session_id=$2, updated_at=now()
	WHERE id=$1 AND status='pending_payment' AND hold_expires_at > $3`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, q, id, sessionID, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ConfirmPayment is driven by the Stripe webhook, so a replay must be a no-op.
func (r *tableBookingRepository) ConfirmPayment(ctx context.Context, tokenID, bookingID, sessionID string, paidAt time.Time) (domain.PaymentSettlement, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	b, err := scanTableBooking(tx.QueryRow(ctx, tableBookingSelect+` WHERE tb.id=$1 FOR UPDATE OF tb`, bookingID))
	if err != nil {
		return "", fmt.Errorf("lock table booking: %w", err)
	}
	if b == nil {
		return domain.PaymentNeedsRefund, nil
	}
	if settlement := b.Settle(sessionID, paidAt); settlement != domain.PaymentConfirmed {
		return settlement, nil
	}

	const q = `UPDATE table_bookings
	SET status='confirmed', paid_at=$2, hold_expires_at=NULL, updated_at=now()
	WHERE id=$1 AND status='pending_payment' AND checkout_session_id=$3`
	tag, err := tx.Exec(ctx, q, bookingID, paidAt, sessionID)
	if err != nil {
		return "", fmt.Errorf("confirm table booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("confirm table booking %s: row changed under lock", bookingID)
	}
	if tokenID != "" {
		if err := consumeToken(ctx, tx, tokenID, paidAt); err != nil {
			return "", fmt.Errorf("consume token: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return domain.PaymentConfirmed, nil
}

func (r *tableBookingRepository) CompleteCardCapture(ctx context.Context, tokenID, bookingID string, capture domain.CardCapture) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE table_bookings SET card_capture_status='captured', updated_at=now()
	WHERE id=$1 AND card_capture_status='pending'`, bookingID)
	if err != nil {
		return false, fmt.Errorf("mark card captured: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	const upsert = `INSERT INTO card_captures (customer_id, stripe_customer_id, payment_method_id, captured_at)
	VALUES ($1,$2,$3,$4)
	ON CONFLICT (customer_id) DO UPDATE SET
		stripe_customer_id = EXCLUDED.stripe_customer_id,
		payment_method_id = EXCLUDED.payment_method_id,
		captured_at = EXCLUDED.captured_at`
	if _, err := tx.Exec(ctx, upsert, capture.CustomerID, capture.StripeCustomerID, capture.PaymentMethodID, capture.CapturedAt); err != nil {
		return false, fmt.Errorf("store card capture: %w", err)
	}
	if tokenID != "" {
		if err := consumeToken(ctx, tx, tokenID, capture.CapturedAt); err != nil {
			return false, fmt.Errorf("consume token: %w", err)
		}
	}
	return true, tx.Commit(ctx)
}
