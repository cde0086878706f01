package domain

import (
	"testing"
	"time"
)

func TestTableBookingSettle(t *testing.T) {
	paidAt := time.Date(2026, 3, 6, 22, 0, 0, 0, time.UTC)
	live := paidAt.Add(time.Minute)
	lapsed := paidAt.Add(-time.Second)

	tests := []struct {
		name    string
		booking TableBooking
		session string
		want    PaymentSettlement
	}{
		{"attached session in hold", TableBooking{Status: TableBookingPendingPayment, CheckoutSessionID: "cs_1", HoldExpiresAt: &live}, "cs_1", PaymentConfirmed},
		{"other session", TableBooking{Status: TableBookingPendingPayment, CheckoutSessionID: "cs_1", HoldExpiresAt: &live}, "cs_2", PaymentNeedsRefund},
		{"no session attached", TableBooking{Status: TableBookingPendingPayment, HoldExpiresAt: &live}, "cs_1", PaymentNeedsRefund},
		{"hold lapsed", TableBooking{Status: TableBookingPendingPayment, CheckoutSessionID: "cs_1", HoldExpiresAt: &lapsed}, "cs_1", PaymentNeedsRefund},
		{"hold ends at payment", TableBooking{Status: TableBookingPendingPayment, CheckoutSessionID: "cs_1", HoldExpiresAt: &paidAt}, "cs_1", PaymentNeedsRefund},
		{"replay of settled session", TableBooking{Status: TableBookingConfirmed, CheckoutSessionID: "cs_1", PaidAt: &paidAt}, "cs_1", PaymentAlreadySettled},
		{"second session after settlement", TableBooking{Status: TableBookingConfirmed, CheckoutSessionID: "cs_1", PaidAt: &paidAt}, "cs_2", PaymentNeedsRefund},
		{"cancelled while paying", TableBooking{Status: TableBookingCancelled, CheckoutSessionID: "cs_1", HoldExpiresAt: &live}, "cs_1", PaymentNeedsRefund},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.booking.Settle(tt.session, paidAt); got != tt.want {
				t.Errorf("Settle() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEventBookingSettle(t *testing.T) {
	paidAt := time.Date(2026, 3, 6, 22, 0, 0, 0, time.UTC)
	hold := paidAt.Add(30 * time.Minute)

	eb := EventBooking{Status: EventBookingPendingPayment, CheckoutSessionID: "cs_1", HoldExpiresAt: &hold}
	if got := eb.Settle("cs_1", paidAt); got != PaymentConfirmed {
		t.Errorf("in hold = %s", got)
	}
	if got := eb.Settle("cs_1", hold.Add(time.Minute)); got != PaymentNeedsRefund {
		t.Errorf("after hold = %s", got)
	}

	eb.Status, eb.HoldExpiresAt = EventBookingConfirmed, nil
	if got := eb.Settle("cs_1", paidAt); got != PaymentAlreadySettled {
		t.Errorf("replay = %s", got)
	}
}
