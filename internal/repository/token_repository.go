package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venuehq/backoffice/internal/domain"
)

type TokenRepository interface {
	Create(ctx context.Context, t *domain.GuestToken) (*domain.GuestToken, error)
	GetByHash(ctx context.Context, hash string) (*domain.GuestToken, error)
}

type tokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) TokenRepository {
	return &tokenRepository{pool: pool}
}

const tokenCols = `id, token_hash, scope, subject_id, customer_id, expires_at, used_at, created_at`

func scanToken(row pgx.Row) (*domain.GuestToken, error) {
	var t domain.GuestToken
	err := row.Scan(&t.ID, &t.TokenHash, &t.Scope, &t.SubjectID, &t.CustomerID, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tokenRepository) Create(ctx context.Context, t *domain.GuestToken) (*domain.GuestToken, error) {
	const q = `INSERT INTO guest_tokens (token_hash, scope, subject_id, customer_id, expires_at)
	VALUES ($1,$2,$3,$4,$5)
	RETURNING ` + tokenCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanToken(r.pool.QueryRow(ctx, q, t.TokenHash, t.Scope, t.SubjectID, t.CustomerID, t.ExpiresAt))
}

func (r *tokenRepository) GetByHash(ctx context.Context, hash string) (*domain.GuestToken, error) {
	const q = `SELECT ` + tokenCols + ` FROM guest_tokens WHERE token_hash=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanToken(r.pool.QueryRow(ctx, q, hash))
}

// lockToken loads a token row FOR UPDATE inside a guarded-write transaction.
func lockToken(ctx context.Context, tx pgx.Tx, id string) (*domain.GuestToken, error) {
	const q = `SELECT ` + tokenCols + ` FROM guest_tokens WHERE id=$1 FOR UPDATE`
	return scanToken(tx.QueryRow(ctx, q, id))
}

// tokenReason reports why a locked token can no longer authorise a transition.
func tokenReason(t *domain.GuestToken, now time.Time) domain.Reason {
	switch {
	case t == nil:
		return domain.ReasonInvalidToken
	case t.Used():
		return domain.ReasonTokenUsed
	case t.Expired(now):
		return domain.ReasonTokenExpired
	}
	return ""
}

func consumeToken(ctx context.Context, tx pgx.Tx, id string, now time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE guest_tokens SET used_at=$2 WHERE id=$1 AND used_at IS NULL`, id, now)
	return err
}
