package domain

import "time"

// PaymentSettlement is what a paid checkout session did to its booking.
type PaymentSettlement string

const (
	PaymentConfirmed      PaymentSettlement = "confirmed"
	PaymentAlreadySettled PaymentSettlement = "already_settled"
	// PaymentNeedsRefund means money was taken for a session the booking no
	// longer accepts: a replaced session, a lapsed hold or a closed booking.
	PaymentNeedsRefund PaymentSettlement = "needs_refund"
)

// settleCheckout only lets the attached session confirm, and only while the hold
// is still running at paidAt.
func settleCheckout(pending, settled bool, attached string, hold *time.Time, sessionID string, paidAt time.Time) PaymentSettlement {
	switch {
	case sessionID == "" || sessionID != attached:
		return PaymentNeedsRefund
	case settled:
		return PaymentAlreadySettled
	case !pending, hold == nil, !paidAt.Before(*hold):
		return PaymentNeedsRefund
	}
	return PaymentConfirmed
}

// Settle classifies a paid session against the booking as locked for the write.
func (b *TableBooking) Settle(sessionID string, paidAt time.Time) PaymentSettlement {
	settled := b.Status == TableBookingConfirmed && b.PaidAt != nil
	return settleCheckout(b.Status == TableBookingPendingPayment, settled, b.CheckoutSessionID, b.HoldExpiresAt, sessionID, paidAt)
}

// Settle classifies a paid session against a prepaid event booking. A lapsed hold
// has already given its seats back to capacity, so it cannot confirm.
func (b *EventBooking) Settle(sessionID string, paidAt time.Time) PaymentSettlement {
	settled := b.Status == EventBookingConfirmed
	return settleCheckout(b.Status == EventBookingPendingPayment, settled, b.CheckoutSessionID, b.HoldExpiresAt, sessionID, paidAt)
}
