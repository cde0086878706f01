package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/internal/repository"
	"github.com/venuehq/backoffice/pkg/events"
	"github.com/venuehq/backoffice/pkg/logger"
)

type DigestStatus string

const (
	DigestSent        DigestStatus = "sent"
	DigestAlreadySent DigestStatus = "already_sent"
	DigestInProgress  DigestStatus = "in_progress"
)

type DigestRun struct {
	Status  DigestStatus          `json:"status"`
	Key     string                `json:"key"`
	Summary *domain.DigestSummary `json:"summary,omitempty"`
}

type DigestService interface {
	Run(ctx context.Context) (*DigestRun, error)
}

type digestService struct {
	idempotency  repository.IdempotencyRepository
	digest       repository.DigestRepository
	notifier     Notifier
	eventBus     events.Publisher
	managerEmail string
	location     *time.Location
	staleAfter   time.Duration
	now          func() time.Time
}

func NewDigestService(
	idempotency repository.IdempotencyRepository,
	digest repository.DigestRepository,
	notifier Notifier,
	eventBus events.Publisher,
	managerEmail string,
	location *time.Location,
	staleAfter time.Duration,
) DigestService {
	return &digestService{
		idempotency:  idempotency,
		digest:       digest,
		notifier:     notifier,
		eventBus:     eventBus,
		managerEmail: managerEmail,
		location:     location,
		staleAfter:   staleAfter,
		now:          time.Now,
	}
}

// Run sends today's digest at most once per venue-local day. A failed run
// releases its claim so the scheduler's next attempt can retry.
func (s *digestService) Run(ctx context.Context) (*DigestRun, error) {
	now := s.now()
	local := now.In(s.location)
	date := local.Format("2006-01-02")
	key := "daily-digest:" + date

	claim, err := s.idempotency.Claim(ctx, key, s.staleAfter, now)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", key, err)
	}
	if !claim.Claimed {
		if claim.State == domain.IdempotencyCompleted {
			run := &DigestRun{Status: DigestAlreadySent, Key: key}
			var previous DigestRun
			if err := json.Unmarshal(claim.Response, &previous); err == nil {
				run.Summary = previous.Summary
			}
			return run, nil
		}
		return &DigestRun{Status: DigestInProgress, Key: key}, nil
	}

	run, err := s.send(ctx, key, date, local, now)
	if err != nil {
		if relErr := s.idempotency.Release(ctx, key); relErr != nil {
			logger.ErrorContext(ctx, "Failed to release digest claim", "key", key, "error", relErr)
		}
		return nil, err
	}
	return run, nil
}

func (s *digestService) send(ctx context.Context, key, date string, local, now time.Time) (*DigestRun, error) {
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
	dayEnd := dayStart.AddDate(0, 0, 1)

	summary, err := s.digest.Summary(ctx, dayStart, dayEnd, now)
	if err != nil {
		return nil, fmt.Errorf("build digest: %w", err)
	}
	summary.Date = date

	if err := s.notifier.DailyDigest(ctx, s.managerEmail, summary); err != nil {
		return nil, fmt.Errorf("email digest: %w", err)
	}

	run := &DigestRun{Status: DigestSent, Key: key, Summary: summary}
	body, err := json.Marshal(run)
	if err != nil {
		return nil, err
	}
	if err := s.idempotency.Complete(ctx, key, body, now); err != nil {
		// The email is out; a stale takeover could resend it, so make this loud.
		logger.ErrorContext(ctx, "Failed to complete digest claim", "key", key, "error", err)
	}

	logger.InfoContext(ctx, "Daily digest sent", "date", date, "pending_charge_requests", summary.PendingChargeRequests)
	publish(ctx, s.eventBus, events.DigestSent, events.DigestSentEvent{Date: date, SentAt: now})
	return run, nil
}
