package repository

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venuehq/backoffice/internal/domain"
)

// IdempotencyRepository guards scheduled jobs so each key runs to completion once.
type IdempotencyRepository interface {
	// Claim takes ownership of key, or takes over a claim older than staleAfter.
	Claim(ctx context.Context, key string, staleAfter time.Duration, now time.Time) (domain.ClaimResult, error)
	Complete(ctx context.Context, key string, response []byte, now time.Time) error
	Release(ctx context.Context, key string) error
	CleanupExpired(ctx context.Context) (int64, error)
}

type idempotencyRepository struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepository(pool *pgxpool.Pool) IdempotencyRepository {
	return &idempotencyRepository{pool: pool}
}

const idempotencyRetention = 14 * 24 * time.Hour

func hashKey(key string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
}

func (r *idempotencyRepository) Claim(ctx context.Context, key string, staleAfter time.Duration, now time.Time) (domain.ClaimResult, error) {
	const q = `INSERT INTO job_idempotency (key_hash, state, claimed_at, expires_at)
	VALUES ($1, 'claimed', $2, $3)
	ON CONFLICT (key_hash) DO UPDATE SET
		claimed_at = EXCLUDED.claimed_at,
		expires_at = EXCLUDED.expires_at
	WHERE job_idempotency.state = 'claimed' AND job_idempotency.claimed_at < $4
	RETURNING state`

	keyHash := hashKey(key)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var state domain.IdempotencyState
	err := r.pool.QueryRow(ctx, q, keyHash, now, now.Add(idempotencyRetention), now.Add(-staleAfter)).Scan(&state)
	if err == nil {
		return domain.ClaimResult{Claimed: true, State: state}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.ClaimResult{}, err
	}

	// Someone else holds a live claim or already finished.
	res := domain.ClaimResult{}
	err = r.pool.QueryRow(ctx, `SELECT state, response FROM job_idempotency WHERE key_hash=$1`, keyHash).
		Scan(&res.State, &res.Response)
	if err != nil {
		return domain.ClaimResult{}, err
	}
	return res, nil
}

func (r *idempotencyRepository) Complete(ctx context.Context, key string, response []byte, now time.Time) error {
	const q = `UPDATE job_idempotency SET state='completed', response=$2, completed_at=$3
	WHERE key_hash=$1 AND state='claimed'`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, q, hashKey(key), response, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("idempotency key %q is no longer claimed", key)
	}
	return nil
}

func (r *idempotencyRepository) Release(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, `DELETE FROM job_idempotency WHERE key_hash=$1 AND state='claimed'`, hashKey(key))
	return err
}

func (r *idempotencyRepository) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, `DELETE FROM job_idempotency WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
