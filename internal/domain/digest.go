package domain

// DigestSummary is the daily manager email.
type DigestSummary struct {
	Date                  string `json:"date"`
	PendingChargeRequests int    `json:"pending_charge_requests"`
	ApprovedUnpaid        int    `json:"approved_unpaid"`
	BookingsToday         int    `json:"bookings_today"`
	CoversToday           int    `json:"covers_today"`
	AwaitingPayment       int    `json:"awaiting_payment"`
	OpenWaitlistOffers    int    `json:"open_waitlist_offers"`
}

type IdempotencyState string

const (
	IdempotencyClaimed   IdempotencyState = "claimed"
	IdempotencyCompleted IdempotencyState = "completed"
)

// ClaimResult tells the caller whether it owns the work for a key.
type ClaimResult struct {
	Claimed  bool
	State    IdempotencyState
	Response []byte
}
