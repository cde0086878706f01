package domain

import "time"

type PaymentMode string

const (
	PaymentPrepaid PaymentMode = "prepaid"
	PaymentFree    PaymentMode = "free"
)

func ParsePaymentMode(s string) (PaymentMode, bool) {
	switch PaymentMode(s) {
	case PaymentPrepaid, PaymentFree:
		return PaymentMode(s), true
	default:
		return "", false
	}
}

type WaitlistOfferStatus string

const (
	OfferPending   WaitlistOfferStatus = "pending"
	OfferAccepted  WaitlistOfferStatus = "accepted"
	OfferExpired   WaitlistOfferStatus = "expired"
	OfferCancelled WaitlistOfferStatus = "cancelled"
)

type Event struct {
	ID           string
	Name         string
	StartsAt     time.Time
	Capacity     int
	BookingOpen  bool
	PricePerSeat Money
	Currency     string
}

func (e *Event) Started(now time.Time) bool {
	return !now.Before(e.StartsAt)
}

type WaitlistOffer struct {
	ID             string
	EventID        string
	CustomerID     string
	RequestedSeats int
	ExpiresAt      time.Time
	PaymentMode    PaymentMode
	Status         WaitlistOfferStatus
	AcceptedAt     *time.Time
	EventBookingID *string
	CreatedAt      time.Time
}

// WaitlistOfferView is an offer joined with what the guest needs to see and what
// the capacity rule needs to check. SeatsTaken is computed at read time.
type WaitlistOfferView struct {
	Offer         WaitlistOffer
	Event         Event
	SeatsTaken    int
	CustomerName  string
	CustomerEmail string
}

func (v *WaitlistOfferView) CapacityAvailable() int {
	left := v.Event.Capacity - v.SeatsTaken
	if left < 0 {
		return 0
	}
	return left
}

func (v *WaitlistOfferView) Total() Money {
	if v.Offer.PaymentMode != PaymentPrepaid {
		return 0
	}
	return v.Event.PricePerSeat * Money(v.Offer.RequestedSeats)
}

type EventBookingStatus string

const (
	EventBookingConfirmed      EventBookingStatus = "confirmed"
	EventBookingPendingPayment EventBookingStatus = "pending_payment"
	EventBookingCancelled      EventBookingStatus = "cancelled"
)

type EventBooking struct {
	ID                string
	EventID           string
	CustomerID        string
	Seats             int
	Status            EventBookingStatus
	HoldExpiresAt     *time.Time
	Amount            Money
	Currency          string
	CheckoutSessionID string
	CreatedAt         time.Time
}

type CreateWaitlistOffer struct {
	CustomerID     string `json:"customer_id"`
	RequestedSeats int    `json:"requested_seats"`
	PaymentMode    string `json:"payment_mode"`
	TTLMinutes     int    `json:"ttl_minutes,omitempty"`
}

// WaitlistConfirmation carries what the confirm transaction needs besides the ids.
type WaitlistConfirmation struct {
	Now         time.Time
	PrepaidHold time.Duration
}
