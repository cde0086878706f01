package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venuehq/backoffice/internal/domain"
)

// ErrVersionConflict is returned when the settings row moved on since the caller read it.
var ErrVersionConflict = errors.New("settings were changed by someone else")

type SettingsRepository interface {
	Get(ctx context.Context) (*domain.OperationalSettings, error)
	Update(ctx context.Context, req domain.UpdateSettingsRequest, updatedBy string, now time.Time) (*domain.OperationalSettings, error)
}

type settingsRepository struct {
	pool *pgxpool.Pool
}

func NewSettingsRepository(pool *pgxpool.Pool) SettingsRepository {
	return &settingsRepository{pool: pool}
}

const settingsCols = `loyalty_enabled, sunday_preorder_enabled, waitlist_offers_enabled, version, updated_at, updated_by`

func scanSettings(row pgx.Row) (*domain.OperationalSettings, error) {
	var s domain.OperationalSettings
	err := row.Scan(&s.LoyaltyEnabled, &s.SundayPreorderEnabled, &s.WaitlistOffersEnabled, &s.Version, &s.UpdatedAt, &s.UpdatedBy)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *settingsRepository) Get(ctx context.Context) (*domain.OperationalSettings, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanSettings(r.pool.QueryRow(ctx, `SELECT `+settingsCols+` FROM operational_settings WHERE id=1`))
}

func (r *settingsRepository) Update(ctx context.Context, req domain.UpdateSettingsRequest, updatedBy string, now time.Time) (*domain.OperationalSettings, error) {
	const q = `UPDATE operational_settings SET
		loyalty_enabled = COALESCE($2, loyalty_enabled),
		sunday_preorder_enabled = COALESCE($3, sunday_preorder_enabled),
		waitlist_offers_enabled = COALESCE($4, waitlist_offers_enabled),
		version = version + 1,
		updated_at = $5,
		updated_by = $6
	WHERE id=1 AND version=$1
	RETURNING ` + settingsCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	s, err := scanSettings(r.pool.QueryRow(ctx, q, req.ExpectedVersion,
		req.LoyaltyEnabled, req.SundayPreorderEnabled, req.WaitlistOffersEnabled, now, updatedBy))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVersionConflict
	}
	return s, err
}
