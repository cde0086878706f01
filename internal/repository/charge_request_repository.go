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

type ChargeRequestRepository interface {
	Create(ctx context.Context, cr *domain.ChargeRequest) (*domain.ChargeRequest, error)
	GetByID(ctx context.Context, id string) (*domain.ChargeRequest, error)
	// Decide moves a pending charge request to its decided state and consumes the
	// manager token in one transaction. A non-empty reason means nothing changed.
	Decide(ctx context.Context, tokenID, chargeRequestID string, w domain.ChargeDecisionWrite) (domain.Reason, error)
	RecordAttempt(ctx context.Context, chargeRequestID string, a domain.ChargeAttempt) error
}

type chargeRequestRepository struct {
	pool *pgxpool.Pool
}

func NewChargeRequestRepository(pool *pgxpool.Pool) ChargeRequestRepository {
	return &chargeRequestRepository{pool: pool}
}

const chargeRequestSelect = `SELECT cr.id, cr.table_booking_id, cr.customer_id, cr.type, cr.amount, cr.currency,
cr.notes, cr.status, cr.manager_decision, cr.manager_notes, cr.approved_amount, cr.decided_at,
cr.charge_status, cr.payment_intent_id, cr.charge_error, cr.charge_attempted_at, cr.created_at,
tb.party_size, tb.reference, tb.start_at, trim(c.first_name || ' ' || c.last_name)
FROM charge_requests cr
JOIN table_bookings tb ON tb.id = cr.table_booking_id
JOIN customers c ON c.id = cr.customer_id`

func scanChargeRequest(row pgx.Row) (*domain.ChargeRequest, error) {
	var cr domain.ChargeRequest
	err := row.Scan(
		&cr.ID, &cr.TableBookingID, &cr.CustomerID, &cr.Type, &cr.Amount, &cr.Currency,
		&cr.Notes, &cr.Status, &cr.ManagerDecision, &cr.ManagerNotes, &cr.ApprovedAmount, &cr.DecidedAt,
		&cr.ChargeStatus, &cr.PaymentIntentID, &cr.ChargeError, &cr.ChargeAttemptedAt, &cr.CreatedAt,
		&cr.PartySize, &cr.BookingRef, &cr.BookingStartAt, &cr.CustomerName,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cr, nil
}

func (r *chargeRequestRepository) Create(ctx context.Context, cr *domain.ChargeRequest) (*domain.ChargeRequest, error) {
	const q = `INSERT INTO charge_requests (table_booking_id, customer_id, type, amount, currency, notes)
	VALUES ($1,$2,$3,$4,$5,$6)
	RETURNING id`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var id string
	if err := r.pool.QueryRow(ctx, q, cr.TableBookingID, cr.CustomerID, cr.Type, cr.Amount, cr.Currency, cr.Notes).Scan(&id); err != nil {
		return nil, err
	}
	return scanChargeRequest(r.pool.QueryRow(ctx, chargeRequestSelect+` WHERE cr.id=$1`, id))
}

func (r *chargeRequestRepository) GetByID(ctx context.Context, id string) (*domain.ChargeRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanChargeRequest(r.pool.QueryRow(ctx, chargeRequestSelect+` WHERE cr.id=$1`, id))
}

func (r *chargeRequestRepository) Decide(ctx context.Context, tokenID, chargeRequestID string, w domain.ChargeDecisionWrite) (domain.Reason, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	tok, err := lockToken(ctx, tx, tokenID)
	if err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	if tok == nil || tok.Scope != domain.ScopeChargeApproval || tok.SubjectID != chargeRequestID {
		return domain.ReasonInvalidToken, nil
	}

	var status domain.ChargeStatus
	err = tx.QueryRow(ctx, `SELECT status FROM charge_requests WHERE id=$1 FOR UPDATE`, chargeRequestID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReasonInvalidToken, nil
	}
	if err != nil {
		return "", fmt.Errorf("lock charge request: %w", err)
	}
	if status != domain.ChargePending {
		return domain.ReasonAlreadyDecided, nil
	}
	if reason := tokenReason(tok, w.DecidedAt); reason != "" {
		return reason, nil
	}

	const q = `UPDATE charge_requests
	SET status=$2, manager_decision=$2, approved_amount=$3, manager_notes=$4, decided_at=$5
	WHERE id=$1 AND status='pending'`
	tag, err := tx.Exec(ctx, q, chargeRequestID, string(w.Decision), w.ApprovedAmount, w.Notes, w.DecidedAt)
	if err != nil {
		return "", fmt.Errorf("decide charge request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ReasonAlreadyDecided, nil
	}
	if err := consumeToken(ctx, tx, tokenID, w.DecidedAt); err != nil {
		return "", fmt.Errorf("consume token: %w", err)
	}

	return "", tx.Commit(ctx)
}

func (r *chargeRequestRepository) RecordAttempt(ctx context.Context, chargeRequestID string, a domain.ChargeAttempt) error {
	const q = `UPDATE charge_requests
	SET charge_status=$2, payment_intent_id=$3, charge_error=$4, charge_attempted_at=$5
	WHERE id=$1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, chargeRequestID, a.Status, a.PaymentIntentID, a.Error, a.AttemptedAt)
	return err
}
