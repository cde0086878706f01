package domain

import "time"

type TableBookingStatus string

const (
	TableBookingPendingPayment TableBookingStatus = "pending_payment"
	TableBookingConfirmed      TableBookingStatus = "confirmed"
	TableBookingCancelled      TableBookingStatus = "cancelled"
	TableBookingNoShow         TableBookingStatus = "no_show"
	TableBookingCompleted      TableBookingStatus = "completed"
)

type BookingType string

const (
	BookingRegular     BookingType = "regular"
	BookingSundayLunch BookingType = "sunday_lunch"
)

type CardCaptureStatus string

const (
	CardCaptureNotRequired CardCaptureStatus = "not_required"
	CardCapturePending     CardCaptureStatus = "pending"
	CardCaptureCaptured    CardCaptureStatus = "captured"
)

type TableBooking struct {
	ID                string
	Reference         string
	CustomerID        string
	PartySize         int
	StartAt           time.Time
	BookingType       BookingType
	Status            TableBookingStatus
	HoldExpiresAt     *time.Time
	TotalAmount       Money
	Currency          string
	CardCaptureStatus CardCaptureStatus
	CheckoutSessionID string
	PaidAt            *time.Time
	PreorderUpdatedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// Loaded from customers for display and notifications.
	CustomerName  string
	CustomerEmail string
}

// HoldActive is true while the guest may still pay online for a pending booking.
func (b *TableBooking) HoldActive(now time.Time) bool {
	return b.HoldExpiresAt != nil && now.Before(*b.HoldExpiresAt)
}

// Closed bookings can no longer take a card or a pre-order.
func (b *TableBooking) Closed() bool {
	switch b.Status {
	case TableBookingCancelled, TableBookingNoShow, TableBookingCompleted:
		return true
	}
	return false
}

// PreorderCutoff is the last moment a Sunday lunch pre-order can be changed.
func (b *TableBooking) PreorderCutoff(before time.Duration) time.Time {
	return b.StartAt.Add(-before)
}
