// Package throttle limits how often one client can hit a guest or manager link.
//
// Every check counts against (scope, token hash, fingerprint) and against the
// fingerprint's total for the scope. Going over either limit blocks the
// fingerprint for that scope until the window ages out, whatever token it
// presents next. Callers render the same rate_limited page either way.
package throttle

import (
	"context"
	"net/http"
	"time"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/pkg/logger"
	"github.com/venuehq/backoffice/pkg/token"
)

type Kind string

const (
	KindPreview Kind = "preview"
	KindAction  Kind = "action"
)

// fingerprintFactor sets the per-fingerprint ceiling relative to the per-token one,
// so guessing many different tokens trips the block as well.
const fingerprintFactor = 5

// Store counts attempts. Implementations must apply a hit atomically.
type Store interface {
	Hit(ctx context.Context, hit Hit) (bool, error)
}

// Hit is one counted attempt.
type Hit struct {
	TokenKey       string
	FingerprintKey string
	BlockKey       string
	TokenMax       int
	FingerprintMax int
	Window         time.Duration
	Now            time.Time
}

type Limits struct {
	Preview int
	Action  int
}

type Throttle struct {
	store  Store
	window time.Duration
	limits Limits
	now    func() time.Time
}

func New(store Store, window time.Duration, limits Limits) *Throttle {
	return &Throttle{store: store, window: window, limits: limits, now: time.Now}
}

type Request struct {
	Scope       domain.LinkScope
	Kind        Kind
	RawToken    string
	Fingerprint string
}

// Allow counts the attempt and reports whether it may proceed. Store failures
// are logged and let the request through.
func (t *Throttle) Allow(ctx context.Context, req Request) bool {
	limit := t.limits.Preview
	if req.Kind == KindAction {
		limit = t.limits.Action
	}
	if limit <= 0 {
		return true
	}

	scope := string(req.Scope)
	hit := Hit{
		TokenKey:       "gt:" + scope + ":" + string(req.Kind) + ":" + token.Hash(req.RawToken) + ":" + req.Fingerprint,
		FingerprintKey: "gt:" + scope + ":" + string(req.Kind) + ":" + req.Fingerprint,
		BlockKey:       "gt:block:" + scope + ":" + req.Fingerprint,
		TokenMax:       limit,
		FingerprintMax: limit * fingerprintFactor,
		Window:         t.window,
		Now:            t.now(),
	}

	allowed, err := t.store.Hit(ctx, hit)
	if err != nil {
		logger.WarnContext(ctx, "Throttle store failed, allowing request", "scope", scope, "error", err)
		return true
	}
	if !allowed {
		logger.InfoContext(ctx, "Link request throttled", "scope", scope, "kind", req.Kind, "token_prefix", token.Prefix(req.RawToken))
	}
	return allowed
}

// Check is Allow with the fingerprint taken from the request.
func (t *Throttle) Check(r *http.Request, scope domain.LinkScope, kind Kind, rawToken string) bool {
	return t.Allow(r.Context(), Request{
		Scope:       scope,
		Kind:        kind,
		RawToken:    rawToken,
		Fingerprint: Fingerprint(r),
	})
}
