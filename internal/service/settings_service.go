package service

import (
	"context"
	"time"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/internal/repository"
	"github.com/venuehq/backoffice/pkg/events"
	"github.com/venuehq/backoffice/pkg/logger"
)

type SettingsService interface {
	Get(ctx context.Context) (*domain.OperationalSettings, error)
	// Update fails with repository.ErrVersionConflict when ExpectedVersion is stale.
	Update(ctx context.Context, req domain.UpdateSettingsRequest, updatedBy string) (*domain.OperationalSettings, error)
}

type settingsService struct {
	repo     repository.SettingsRepository
	eventBus events.Publisher
	now      func() time.Time
}

func NewSettingsService(repo repository.SettingsRepository, eventBus events.Publisher) SettingsService {
	return &settingsService{repo: repo, eventBus: eventBus, now: time.Now}
}

func (s *settingsService) Get(ctx context.Context) (*domain.OperationalSettings, error) {
	return s.repo.Get(ctx)
}

func (s *settingsService) Update(ctx context.Context, req domain.UpdateSettingsRequest, updatedBy string) (*domain.OperationalSettings, error) {
	updated, err := s.repo.Update(ctx, req, updatedBy, s.now())
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Operational settings updated", "version", updated.Version, "updated_by", updatedBy)
	publish(ctx, s.eventBus, events.SettingsUpdated, events.SettingsUpdatedEvent{
		Version:   updated.Version,
		UpdatedBy: updatedBy,
		UpdatedAt: updated.UpdatedAt,
	})
	return updated, nil
}
