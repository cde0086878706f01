package domain

import "time"

// OperationalSettings is the single persisted settings row. It is read at the
// start of each operation that depends on it; Version guards concurrent edits.
type OperationalSettings struct {
	LoyaltyEnabled        bool      `json:"loyalty_enabled"`
	SundayPreorderEnabled bool      `json:"sunday_preorder_enabled"`
	WaitlistOffersEnabled bool      `json:"waitlist_offers_enabled"`
	Version               int64     `json:"version"`
	UpdatedAt             time.Time `json:"updated_at"`
	UpdatedBy             string    `json:"updated_by"`
}

type UpdateSettingsRequest struct {
	ExpectedVersion       int64 `json:"expected_version"`
	LoyaltyEnabled        *bool `json:"loyalty_enabled,omitempty"`
	SundayPreorderEnabled *bool `json:"sunday_preorder_enabled,omitempty"`
	WaitlistOffersEnabled *bool `json:"waitlist_offers_enabled,omitempty"`
}
