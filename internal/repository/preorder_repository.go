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

type PreorderRepository interface {
	ListActiveMenu(ctx context.Context) ([]domain.MenuItem, error)
	Get(ctx context.Context, bookingID string) (*domain.SundayPreorder, error)
	// Save replaces the pre-order lines. The token is checked but not consumed:
	// the guest may keep editing until the cutoff.
	Save(ctx context.Context, tokenID, bookingID string, lines []domain.PreorderLine, cutoffBefore time.Duration, now time.Time) (domain.Reason, error)
}

type preorderRepository struct {
	pool *pgxpool.Pool
}

func NewPreorderRepository(pool *pgxpool.Pool) PreorderRepository {
	return &preorderRepository{pool: pool}
}

func (r *preorderRepository) ListActiveMenu(ctx context.Context) ([]domain.MenuItem, error) {
	const q = `SELECT id, name, course, price FROM menu_items WHERE active ORDER BY sort_order, name`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.MenuItem
	for rows.Next() {
		var m domain.MenuItem
		if err := rows.Scan(&m.ID, &m.Name, &m.Course, &m.Price); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *preorderRepository) Get(ctx context.Context, bookingID string) (*domain.SundayPreorder, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	p := domain.SundayPreorder{TableBookingID: bookingID}
	err := r.pool.QueryRow(ctx, `SELECT preorder_updated_at FROM table_bookings WHERE id=$1`, bookingID).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT menu_item_id, quantity FROM sunday_preorder_lines WHERE table_booking_id=$1`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.PreorderLine
		if err := rows.Scan(&l.MenuItemID, &l.Quantity); err != nil {
			return nil, err
		}
		p.Lines = append(p.Lines, l)
	}
	return &p, rows.Err()
}

func (r *preorderRepository) Save(ctx context.Context, tokenID, bookingID string, lines []domain.PreorderLine, cutoffBefore time.Duration, now time.Time) (domain.Reason, error) {
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
	if tok == nil || tok.Scope != domain.ScopeSundayPreorder || tok.SubjectID != bookingID {
		return domain.ReasonInvalidToken, nil
	}

	var (
		status      domain.TableBookingStatus
		bookingType domain.BookingType
		startAt     time.Time
		enabled     bool
	)
	err = tx.QueryRow(ctx, `SELECT status, booking_type, start_at FROM table_bookings WHERE id=$1 FOR UPDATE`, bookingID).
		Scan(&status, &bookingType, &startAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReasonInvalidToken, nil
	}
	if err != nil {
		return "", fmt.Errorf("lock booking: %w", err)
	}
	if err := tx.QueryRow(ctx, `SELECT sunday_preorder_enabled FROM operational_settings WHERE id=1`).Scan(&enabled); err != nil {
		return "", fmt.Errorf("read settings: %w", err)
	}
	if !enabled || bookingType != domain.BookingSundayLunch || status != domain.TableBookingConfirmed {
		return domain.ReasonBookingClosed, nil
	}
	if tok.Expired(now) {
		return domain.ReasonTokenExpired, nil
	}
	if !now.Before(startAt.Add(-cutoffBefore)) {
		return domain.ReasonPreorderCutoff, nil
	}

	if _, err := tx.Exec(ctx, `DELETE FROM sunday_preorder_lines WHERE table_booking_id=$1`, bookingID); err != nil {
		return "", fmt.Errorf("clear preorder: %w", err)
	}
	var rows [][]any
	for _, l := range lines {
		if l.Quantity > 0 {
			rows = append(rows, []any{bookingID, l.MenuItemID, l.Quantity})
		}
	}
	if len(rows) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"sunday_preorder_lines"},
			[]string{"table_booking_id", "menu_item_id", "quantity"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return "", fmt.Errorf("write preorder: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE table_bookings SET preorder_updated_at=$2, updated_at=now() WHERE id=$1`, bookingID, now); err != nil {
		return "", fmt.Errorf("stamp preorder: %w", err)
	}

	return "", tx.Commit(ctx)
}
