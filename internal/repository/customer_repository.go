package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venuehq/backoffice/internal/domain"
)

type CustomerRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Customer, error)
	SetStripeCustomerID(ctx context.Context, id, stripeCustomerID string) error
	GetCardCapture(ctx context.Context, customerID string) (*domain.CardCapture, error)
}

type customerRepository struct {
	pool *pgxpool.Pool
}

func NewCustomerRepository(pool *pgxpool.Pool) CustomerRepository {
	return &customerRepository{pool: pool}
}

func (r *customerRepository) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	const q = `SELECT id, first_name, last_name, email, mobile, stripe_customer_id, created_at
	FROM customers WHERE id=$1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var c domain.Customer
	err := r.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Mobile, &c.StripeCustomerID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *customerRepository) SetStripeCustomerID(ctx context.Context, id, stripeCustomerID string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, `UPDATE customers SET stripe_customer_id=$2 WHERE id=$1`, id, stripeCustomerID)
	return err
}

func (r *customerRepository) GetCardCapture(ctx context.Context, customerID string) (*domain.CardCapture, error) {
	const q = `SELECT customer_id, stripe_customer_id, payment_method_id, captured_at
	FROM card_captures WHERE customer_id=$1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var cc domain.CardCapture
	err := r.pool.QueryRow(ctx, q, customerID).Scan(&cc.CustomerID, &cc.StripeCustomerID, &cc.PaymentMethodID, &cc.CapturedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cc, nil
}
