package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venuehq/backoffice/internal/domain"
)

type DigestRepository interface {
	Summary(ctx context.Context, dayStart, dayEnd, now time.Time) (*domain.DigestSummary, error)
}

type digestRepository struct {
	pool *pgxpool.Pool
}

func NewDigestRepository(pool *pgxpool.Pool) DigestRepository {
	return &digestRepository{pool: pool}
}

func (r *digestRepository) Summary(ctx context.Context, dayStart, dayEnd, now time.Time) (*domain.DigestSummary, error) {
	const q = `SELECT
		(SELECT count(*) FROM charge_requests WHERE status='pending'),
		(SELECT count(*) FROM charge_requests WHERE status='approved' AND charge_status IN ('not_attempted','failed')),
		(SELECT count(*) FROM table_bookings WHERE start_at >= $1 AND start_at < $2 AND status IN ('confirmed','pending_payment')),
		(SELECT COALESCE(SUM(party_size), 0) FROM table_bookings WHERE start_at >= $1 AND start_at < $2 AND status IN ('confirmed','pending_payment')),
		(SELECT count(*) FROM table_bookings WHERE status='pending_payment' AND hold_expires_at > $3),
		(SELECT count(*) FROM waitlist_offers WHERE status='pending' AND expires_at > $3)`

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var s domain.DigestSummary
	err := r.pool.QueryRow(ctx, q, dayStart, dayEnd, now).Scan(
		&s.PendingChargeRequests, &s.ApprovedUnpaid, &s.BookingsToday,
		&s.CoversToday, &s.AwaitingPayment, &s.OpenWaitlistOffers,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
