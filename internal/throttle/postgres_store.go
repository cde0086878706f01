package throttle

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps fixed-window counters in guest_throttle, for deployments without Redis.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const bumpCounter = `
	INSERT INTO guest_throttle (counter_key, count, window_start, expires_at)
	VALUES ($1, 1, $2, $3)
	ON CONFLICT (counter_key) DO UPDATE SET
		count = CASE
			WHEN guest_throttle.window_start <= $4 THEN 1
			ELSE guest_throttle.count + 1
		END,
		window_start = CASE
			WHEN guest_throttle.window_start <= $4 THEN $2
			ELSE guest_throttle.window_start
		END,
		expires_at = $3
	RETURNING count`

func (s *PostgresStore) Hit(ctx context.Context, h Hit) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	blockKey := hashKey(h.BlockKey)
	var blocked bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM guest_throttle WHERE counter_key=$1 AND blocked_until > $2)`,
		blockKey, h.Now).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("read block: %w", err)
	}
	if blocked {
		return false, nil
	}

	expires := h.Now.Add(h.Window)
	windowStart := h.Now.Add(-h.Window)

	var tokenCount, fpCount int
	if err := tx.QueryRow(ctx, bumpCounter, hashKey(h.TokenKey), h.Now, expires, windowStart).Scan(&tokenCount); err != nil {
		return false, fmt.Errorf("bump token counter: %w", err)
	}
	if err := tx.QueryRow(ctx, bumpCounter, hashKey(h.FingerprintKey), h.Now, expires, windowStart).Scan(&fpCount); err != nil {
		return false, fmt.Errorf("bump fingerprint counter: %w", err)
	}

	allowed := tokenCount <= h.TokenMax && fpCount <= h.FingerprintMax
	if !allowed {
		const block = `INSERT INTO guest_throttle (counter_key, count, window_start, blocked_until, expires_at)
		VALUES ($1, 0, $2, $3, $3)
		ON CONFLICT (counter_key) DO UPDATE SET blocked_until = $3, expires_at = $3`
		if _, err := tx.Exec(ctx, block, blockKey, h.Now, expires); err != nil {
			return false, fmt.Errorf("write block: %w", err)
		}
	}
	return allowed, tx.Commit(ctx)
}

// CleanupExpired drops counters and blocks whose window has passed.
func (s *PostgresStore) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := s.pool.Exec(ctx, `DELETE FROM guest_throttle WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func hashKey(key string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
}
