package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/internal/repository"
	"github.com/venuehq/backoffice/pkg/events"
	"github.com/venuehq/backoffice/pkg/logger"
	"github.com/venuehq/backoffice/pkg/token"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotApplied         = errors.New("decision was not applied")
)

// Notifier sends the emails that carry guest and manager links.
type Notifier interface {
	ChargeApprovalRequested(ctx context.Context, to string, cr *domain.ChargeRequest, link string) error
	GuestLink(ctx context.Context, to, toName string, scope domain.LinkScope, link string, expiresAt time.Time) error
	DailyDigest(ctx context.Context, to string, s *domain.DigestSummary) error
}

// resolveToken finds the stored token for a raw link token. Malformed input,
// unknown tokens and tokens minted for another scope all come back nil.
func resolveToken(ctx context.Context, tokens repository.TokenRepository, raw string, scope domain.LinkScope) (*domain.GuestToken, error) {
	if !token.WellFormed(raw) {
		return nil, nil
	}
	t, err := tokens.GetByHash(ctx, token.Hash(raw))
	if err != nil || t == nil {
		return nil, err
	}
	if t.Scope != scope || !token.Matches(raw, t.TokenHash) {
		return nil, nil
	}
	return t, nil
}

// usableReason applies the used/expired checks in the fixed order every resolver shares.
func usableReason(t *domain.GuestToken, now time.Time) domain.Reason {
	if t.Used() {
		return domain.ReasonTokenUsed
	}
	if t.Expired(now) {
		return domain.ReasonTokenExpired
	}
	return ""
}

// publish is best effort: events feed other consumers and never decide an outcome.
func publish(ctx context.Context, bus events.Publisher, subject string, data any) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, subject, data); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "subject", subject, "error", err)
	}
}

// linkURL builds the page address embedded in an outbound email.
func linkURL(baseURL string, scope domain.LinkScope, rawToken string) string {
	prefix := "/g/"
	if scope.ManagerFacing() {
		prefix = "/m/"
	}
	return strings.TrimRight(baseURL, "/") + prefix + rawToken + "/" + scope.PathSegment()
}

// CheckoutResult tells the handler where to send the guest after a checkout POST.
type CheckoutResult struct {
	State       domain.DecisionState
	Reason      domain.Reason
	RedirectURL string
}

func blockedCheckout(reason domain.Reason) *CheckoutResult {
	state := domain.DecisionBlocked
	if reason == domain.ReasonAlreadyDecided {
		state = domain.DecisionAlreadyDecided
	}
	return &CheckoutResult{State: state, Reason: reason}
}
