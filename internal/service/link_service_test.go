package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/pkg/config"
)

type linkFixture struct {
	db       *memDB
	notifier *fakeNotifier
	svc      *linkService
}

func newLinkFixture(t *testing.T) *linkFixture {
	t.Helper()
	f := &linkFixture{db: newMemDB(), notifier: &fakeNotifier{}}
	app := config.AppConfig{BaseURL: "https://venue.test/", ManagerEmail: "manager@venue.test"}
	guest := config.GuestConfig{
		ChargeApprovalTTL:    7 * 24 * time.Hour,
		TablePaymentHold:     24 * time.Hour,
		CardCaptureTTL:       72 * time.Hour,
		WaitlistOfferTTL:     24 * time.Hour,
		SundayPreorderCutoff: 24 * time.Hour,
	}
	svc := NewLinkService(fakeTokens{f.db}, fakeCharges{f.db}, fakeBookings{f.db}, fakeWaitlist{f.db}, fakeCustomers{f.db},
		f.notifier, &fakeBus{}, app, guest).(*linkService)
	svc.now = func() time.Time { return testNow }
	f.svc = svc

	f.db.customers["cust-1"] = &domain.Customer{ID: "cust-1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"}
	f.db.bookings["tb-1"] = &domain.TableBooking{
		ID: "tb-1", Reference: "TB-1001", CustomerID: "cust-1", PartySize: 2,
		StartAt: testNow.Add(-2 * time.Hour), Status: domain.TableBookingNoShow, Currency: "gbp",
		CustomerName: "Ada Lovelace", CustomerEmail: "ada@example.com",
	}
	return f
}

// rawFromLink pulls the raw token back out of an emailed link.
func rawFromLink(t *testing.T, link string) string {
	t.Helper()
	parts := strings.Split(link, "/")
	if len(parts) < 2 {
		t.Fatalf("unexpected link %q", link)
	}
	return parts[len(parts)-2]
}

func TestCreateChargeRequestEmailsManager(t *testing.T) {
	f := newLinkFixture(t)

	cr, link, err := f.svc.CreateChargeRequest(context.Background(), domain.CreateChargeRequest{
		TableBookingID: "tb-1",
		Type:           "no_show",
		Amount:         "220.00",
		Notes:          "  no call  ",
	}, "staff-1")
	if err != nil {
		t.Fatalf("CreateChargeRequest() error = %v", err)
	}
	if cr.Amount != 22000 || cr.Status != domain.ChargePending || cr.Notes != "no call" {
		t.Errorf("charge request = %+v", cr)
	}
	if link.SentTo != "manager@venue.test" || !link.ExpiresAt.Equal(testNow.Add(7*24*time.Hour)) {
		t.Errorf("issued link = %+v", link)
	}

	if len(f.notifier.links) != 1 {
		t.Fatalf("emails = %d, want 1", len(f.notifier.links))
	}
	sent := f.notifier.links[0]
	if !strings.HasPrefix(sent.link, "https://venue.test/m/") || !strings.HasSuffix(sent.link, "/charge-approval") {
		t.Errorf("link = %s", sent.link)
	}

	raw := rawFromLink(t, sent.link)
	tok := f.db.tokenFor(raw)
	if tok == nil || tok.SubjectID != cr.ID || tok.Scope != domain.ScopeChargeApproval {
		t.Fatalf("stored token = %+v", tok)
	}
	if tok.TokenHash == raw {
		t.Error("raw token must not be stored")
	}
}

func TestCreateChargeRequestValidation(t *testing.T) {
	tests := []domain.CreateChargeRequest{
		{TableBookingID: "tb-1", Type: "tip", Amount: "10"},
		{TableBookingID: "tb-1", Type: "no_show", Amount: "0"},
		{TableBookingID: "tb-1", Type: "no_show", Amount: "ten pounds"},
	}
	for _, req := range tests {
		f := newLinkFixture(t)
		_, _, err := f.svc.CreateChargeRequest(context.Background(), req, "staff-1")
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%+v: err = %v, want ErrValidation", req, err)
		}
	}

	f := newLinkFixture(t)
	_, _, err := f.svc.CreateChargeRequest(context.Background(), domain.CreateChargeRequest{TableBookingID: "nope", Type: "walkout", Amount: "5"}, "staff-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown booking: err = %v, want ErrNotFound", err)
	}
}

func TestIssueTablePaymentLinkOpensHold(t *testing.T) {
	f := newLinkFixture(t)
	b := f.db.bookings["tb-1"]
	b.Status = domain.TableBookingPendingPayment
	b.StartAt = testNow.Add(5 * 24 * time.Hour)

	link, err := f.svc.IssueBookingLink(context.Background(), "tb-1", domain.ScopeTablePayment)
	if err != nil {
		t.Fatalf("IssueBookingLink() error = %v", err)
	}
	if b.HoldExpiresAt == nil || !b.HoldExpiresAt.Equal(link.ExpiresAt) {
		t.Errorf("hold = %v, link expiry = %v", b.HoldExpiresAt, link.ExpiresAt)
	}
	if got := f.notifier.links[0]; got.scope != domain.ScopeTablePayment || !strings.Contains(got.link, "/g/") {
		t.Errorf("sent = %+v", got)
	}
}

func TestIssueBookingLinkRejections(t *testing.T) {
	tests := []struct {
		name  string
		scope domain.LinkScope
		setup func(b *domain.TableBooking)
	}{
		{"payment for a confirmed booking", domain.ScopeTablePayment, func(b *domain.TableBooking) { b.Status = domain.TableBookingConfirmed }},
		{"card for a closed booking", domain.ScopeCardCapture, func(*domain.TableBooking) {}},
		{"preorder for a regular booking", domain.ScopeSundayPreorder, func(b *domain.TableBooking) { b.Status = domain.TableBookingConfirmed }},
		{"manager scope", domain.ScopeChargeApproval, func(*domain.TableBooking) {}},
		{"no email", domain.ScopeCardCapture, func(b *domain.TableBooking) { b.CustomerEmail = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLinkFixture(t)
			tt.setup(f.db.bookings["tb-1"])
			if _, err := f.svc.IssueBookingLink(context.Background(), "tb-1", tt.scope); !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
			if len(f.notifier.links) != 0 {
				t.Error("nothing should be sent")
			}
		})
	}
}

func TestIssuePreorderLinkExpiresAtCutoff(t *testing.T) {
	f := newLinkFixture(t)
	b := f.db.bookings["tb-1"]
	b.Status = domain.TableBookingConfirmed
	b.BookingType = domain.BookingSundayLunch
	b.StartAt = testNow.Add(4 * 24 * time.Hour)

	link, err := f.svc.IssueBookingLink(context.Background(), "tb-1", domain.ScopeSundayPreorder)
	if err != nil {
		t.Fatalf("IssueBookingLink() error = %v", err)
	}
	if !link.ExpiresAt.Equal(b.StartAt.Add(-24 * time.Hour)) {
		t.Errorf("expires = %v", link.ExpiresAt)
	}
}

func TestCreateWaitlistOfferCapsExpiryAtEventStart(t *testing.T) {
	f := newLinkFixture(t)
	f.db.events["ev-1"] = &domain.Event{ID: "ev-1", Name: "Jazz Night", StartsAt: testNow.Add(3 * time.Hour), Capacity: 40, BookingOpen: true}

	offer, link, err := f.svc.CreateWaitlistOffer(context.Background(), "ev-1", domain.CreateWaitlistOffer{
		CustomerID: "cust-1", RequestedSeats: 2, PaymentMode: "free",
	})
	if err != nil {
		t.Fatalf("CreateWaitlistOffer() error = %v", err)
	}
	if !offer.ExpiresAt.Equal(testNow.Add(3*time.Hour)) || !link.ExpiresAt.Equal(offer.ExpiresAt) {
		t.Errorf("offer expiry = %v, link expiry = %v", offer.ExpiresAt, link.ExpiresAt)
	}

	raw := rawFromLink(t, f.notifier.links[0].link)
	if tok := f.db.tokenFor(raw); tok == nil || tok.SubjectID != offer.ID {
		t.Errorf("token = %+v", tok)
	}

	_, _, err = f.svc.CreateWaitlistOffer(context.Background(), "ev-1", domain.CreateWaitlistOffer{
		CustomerID: "cust-1", RequestedSeats: 2, PaymentMode: "later",
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("bad payment mode: err = %v", err)
	}
}
