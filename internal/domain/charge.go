package domain

import "time"

type ChargeType string

const (
	ChargeNoShow    ChargeType = "no_show"
	ChargeWalkout   ChargeType = "walkout"
	ChargeReduction ChargeType = "reduction"
)

func ParseChargeType(s string) (ChargeType, bool) {
	switch ChargeType(s) {
	case ChargeNoShow, ChargeWalkout, ChargeReduction:
		return ChargeType(s), true
	default:
		return "", false
	}
}

type ChargeStatus string

const (
	ChargePending  ChargeStatus = "pending"
	ChargeApproved ChargeStatus = "approved"
	ChargeWaived   ChargeStatus = "waived"
	ChargeFailed   ChargeStatus = "failed"
)

type ManagerDecision string

const (
	DecisionApprove ManagerDecision = "approved"
	DecisionWaive   ManagerDecision = "waived"
)

func ParseManagerDecision(s string) (ManagerDecision, bool) {
	switch ManagerDecision(s) {
	case DecisionApprove, DecisionWaive:
		return ManagerDecision(s), true
	default:
		return "", false
	}
}

// ChargeAttemptStatus records what happened when we tried to take an approved charge.
type ChargeAttemptStatus string

const (
	ChargeNotAttempted     ChargeAttemptStatus = "not_attempted"
	ChargeAttemptSucceeded ChargeAttemptStatus = "succeeded"
	ChargeAttemptPending   ChargeAttemptStatus = "pending"
	ChargeAttemptFailed    ChargeAttemptStatus = "failed"
)

type ChargeRequest struct {
	ID             string
	TableBookingID string
	CustomerID     string
	Type           ChargeType
	Amount         Money
	Currency       string
	Notes          string
	Status         ChargeStatus

	ManagerDecision *ManagerDecision
	ManagerNotes    string
	ApprovedAmount  *Money
	DecidedAt       *time.Time

	ChargeStatus      ChargeAttemptStatus
	PaymentIntentID   string
	ChargeError       string
	ChargeAttemptedAt *time.Time

	CreatedAt time.Time

	// Loaded from the booking and customer for display.
	PartySize      int
	CustomerName   string
	BookingRef     string
	BookingStartAt time.Time
}

// Business rules for manager approval of a charge.
const (
	WarningTotalThreshold   Money = 20000 // £200.00
	WarningPerHeadThreshold Money = 5000  // £50.00
)

type ChargeWarnings struct {
	Over200       bool
	Over50PerHead bool
}

func (w ChargeWarnings) Any() bool {
	return w.Over200 || w.Over50PerHead
}

// EvaluateChargeWarnings flags amounts a manager should look at twice.
// The per-head rule compares amount > threshold*party to stay in integer pence.
func EvaluateChargeWarnings(amount Money, partySize int) ChargeWarnings {
	w := ChargeWarnings{Over200: amount > WarningTotalThreshold}
	if partySize > 0 {
		w.Over50PerHead = int64(amount) > int64(WarningPerHeadThreshold)*int64(partySize)
	}
	return w
}

// RequiresAmountReentry is true for amounts large enough that a fat-fingered approval would hurt.
func (w ChargeWarnings) RequiresAmountReentry() bool {
	return w.Over200
}

func (c *ChargeRequest) Warnings() ChargeWarnings {
	return EvaluateChargeWarnings(c.Amount, c.PartySize)
}

func (c *ChargeRequest) IsPending() bool {
	return c.Status == ChargePending
}

// ChargeDecisionInput is what a manager submits from the approval page.
type ChargeDecisionInput struct {
	Decision            string
	ApprovedAmount      *Money
	ConfirmAmount       *Money
	WarningAcknowledged bool
	Notes               string
}

// ChargeDecisionWrite is the validated transition handed to the guarded write.
type ChargeDecisionWrite struct {
	Decision       ManagerDecision
	ApprovedAmount *Money
	Notes          string
	DecidedAt      time.Time
}

type CreateChargeRequest struct {
	TableBookingID string `json:"table_booking_id"`
	Type           string `json:"type"`
	Amount         string `json:"amount"`
	Notes          string `json:"notes"`
}

// ChargeAttempt is the recorded outcome of one off-session charge.
type ChargeAttempt struct {
	Status          ChargeAttemptStatus
	PaymentIntentID string
	Error           string
	AttemptedAt     time.Time
}
