package domain

import "time"

// LinkScope says which workflow a guest or manager link authorises.
type LinkScope string

const (
	ScopeTablePayment   LinkScope = "table_payment"
	ScopeCardCapture    LinkScope = "card_capture"
	ScopeWaitlistOffer  LinkScope = "waitlist_offer"
	ScopeChargeApproval LinkScope = "charge_approval"
	ScopeSundayPreorder LinkScope = "sunday_preorder"
)

func ParseLinkScope(s string) (LinkScope, bool) {
	switch LinkScope(s) {
	case ScopeTablePayment, ScopeCardCapture, ScopeWaitlistOffer, ScopeChargeApproval, ScopeSundayPreorder:
		return LinkScope(s), true
	default:
		return "", false
	}
}

// PathSegment is the URL segment used for the scope's page.
func (s LinkScope) PathSegment() string {
	switch s {
	case ScopeTablePayment:
		return "table-payment"
	case ScopeCardCapture:
		return "card-capture"
	case ScopeWaitlistOffer:
		return "waitlist-offer"
	case ScopeChargeApproval:
		return "charge-approval"
	case ScopeSundayPreorder:
		return "sunday-preorder"
	}
	return string(s)
}

// ManagerFacing links live under /m/, everything else under /g/.
func (s LinkScope) ManagerFacing() bool {
	return s == ScopeChargeApproval
}

// GuestToken is the stored side of a link. Only the hash of the raw token is kept.
type GuestToken struct {
	ID         string
	TokenHash  string
	Scope      LinkScope
	SubjectID  string
	CustomerID *string
	ExpiresAt  time.Time
	UsedAt     *time.Time
	CreatedAt  time.Time
}

func (t *GuestToken) Used() bool {
	return t.UsedAt != nil
}

func (t *GuestToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Usable is true while the token may still authorise its transition.
func (t *GuestToken) Usable(now time.Time) bool {
	return !t.Used() && !t.Expired(now)
}
