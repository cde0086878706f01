package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/internal/payments"
	"github.com/venuehq/backoffice/pkg/events"
)

var testNow = time.Date(2026, 3, 6, 22, 0, 0, 0, time.UTC)

type chargeFixture struct {
	db      *memDB
	gateway *fakeGateway
	bus     *fakeBus
	svc     *chargeApprovalService
	now     time.Time
}

func newChargeFixture(t *testing.T) *chargeFixture {
	t.Helper()
	f := &chargeFixture{db: newMemDB(), gateway: &fakeGateway{}, bus: &fakeBus{}, now: testNow}
	svc := NewChargeApprovalService(fakeTokens{f.db}, fakeCharges{f.db}, fakeCustomers{f.db}, f.gateway, f.bus).(*chargeApprovalService)
	svc.now = func() time.Time { return f.now }
	f.svc = svc
	return f
}

// addCharge seeds a pending charge request for a party and returns its manager token.
func (f *chargeFixture) addCharge(amount domain.Money, party int) (string, *domain.ChargeRequest) {
	f.db.customers["cust-1"] = &domain.Customer{ID: "cust-1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"}
	f.db.bookings["tb-1"] = &domain.TableBooking{
		ID: "tb-1", Reference: "TB-1001", CustomerID: "cust-1", PartySize: party,
		StartAt: testNow.Add(-3 * time.Hour), Status: domain.TableBookingNoShow, Currency: "gbp",
	}
	cr, _ := fakeCharges{f.db}.Create(context.Background(), &domain.ChargeRequest{
		TableBookingID: "tb-1", CustomerID: "cust-1", Type: domain.ChargeNoShow, Amount: amount, Currency: "gbp",
	})
	raw := f.db.addToken(domain.ScopeChargeApproval, cr.ID, testNow.Add(7*24*time.Hour))
	return raw, cr
}

func (f *chargeFixture) addCard() {
	f.db.cards["cust-1"] = &domain.CardCapture{CustomerID: "cust-1", StripeCustomerID: "cus_1", PaymentMethodID: "pm_1", CapturedAt: testNow.Add(-48 * time.Hour)}
}

func money(m domain.Money) *domain.Money { return &m }

func TestChargePreviewWarningsForLargeCharge(t *testing.T) {
	f := newChargeFixture(t)
	raw, _ := f.addCharge(22000, 2)

	p, err := f.svc.Preview(context.Background(), raw)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if p.State != domain.PreviewReady {
		t.Fatalf("state = %s, want ready (reason %s)", p.State, p.Reason)
	}
	if !p.Warnings.Over200 || !p.Warnings.Over50PerHead {
		t.Errorf("warnings = %+v, want both set", p.Warnings)
	}
	if !p.RequiresAmountReentry {
		t.Error("expected amount re-entry for a charge over £200")
	}
}

func TestChargePreviewPerHeadWarningOnly(t *testing.T) {
	f := newChargeFixture(t)
	raw, _ := f.addCharge(12000, 2)

	p, _ := f.svc.Preview(context.Background(), raw)
	if p.Warnings.Over200 || !p.Warnings.Over50PerHead {
		t.Errorf("warnings = %+v, want only the per-head warning", p.Warnings)
	}
	if p.RequiresAmountReentry {
		t.Error("re-entry should only be asked for over £200")
	}
}

func TestChargePreviewDoesNotConsume(t *testing.T) {
	f := newChargeFixture(t)
	raw, _ := f.addCharge(4000, 4)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := f.svc.Preview(ctx, raw)
		if err != nil || p.State != domain.PreviewReady {
			t.Fatalf("preview %d = %+v, %v", i+1, p, err)
		}
	}
	if tok := f.db.tokenFor(raw); tok.Used() {
		t.Error("preview must not consume the token")
	}
}

func TestChargePreviewBlocked(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *chargeFixture, raw string)
		raw    func(raw string) string
		reason domain.Reason
	}{
		{
			name:   "malformed token",
			raw:    func(string) string { return "short" },
			reason: domain.ReasonInvalidToken,
		},
		{
			name: "expired",
			setup: func(f *chargeFixture, _ string) {
				f.now = testNow.Add(8 * 24 * time.Hour)
			},
			reason: domain.ReasonTokenExpired,
		},
		{
			name: "used token on a still pending request",
			setup: func(f *chargeFixture, raw string) {
				id := f.db.tokenFor(raw).ID
				f.db.consume(id, testNow)
			},
			reason: domain.ReasonTokenUsed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newChargeFixture(t)
			raw, _ := f.addCharge(4000, 4)
			if tt.setup != nil {
				tt.setup(f, raw)
			}
			if tt.raw != nil {
				raw = tt.raw(raw)
			}
			p, err := f.svc.Preview(context.Background(), raw)
			if err != nil {
				t.Fatalf("Preview() error = %v", err)
			}
			if p.State != domain.PreviewBlocked || p.Reason != tt.reason {
				t.Errorf("got %s/%s, want blocked/%s", p.State, p.Reason, tt.reason)
			}
		})
	}
}

func TestChargePreviewAlreadyDecidedWinsOverExpiry(t *testing.T) {
	f := newChargeFixture(t)
	raw, _ := f.addCharge(4000, 4)
	ctx := context.Background()

	d, err := f.svc.Decide(ctx, raw, domain.ChargeDecisionInput{Decision: "waived"})
	if err != nil || d.State != domain.DecisionApplied {
		t.Fatalf("Decide() = %+v, %v", d, err)
	}

	f.now = testNow.Add(30 * 24 * time.Hour)
	p, _ := f.svc.Preview(ctx, raw)
	if p.State != domain.PreviewAlreadyDecided {
		t.Errorf("state = %s, want already_decided", p.State)
	}
	if p.Request == nil || p.Request.Status != domain.ChargeWaived {
		t.Errorf("prior decision not shown: %+v", p.Request)
	}
}

func TestDecideValidation(t *testing.T) {
	tests := []struct {
		name   string
		amount domain.Money
		party  int
		in     domain.ChargeDecisionInput
		reason domain.Reason
	}{
		{
			name:   "unknown decision",
			amount: 4000, party: 4,
			in:     domain.ChargeDecisionInput{Decision: "maybe"},
			reason: domain.ReasonInvalidDecision,
		},
		{
			name:   "approved above requested",
			amount: 4000, party: 4,
			in:     domain.ChargeDecisionInput{Decision: "approved", ApprovedAmount: money(4001)},
			reason: domain.ReasonInvalidAmount,
		},
		{
			name:   "approved zero",
			amount: 4000, party: 4,
			in:     domain.ChargeDecisionInput{Decision: "approved", ApprovedAmount: money(0)},
			reason: domain.ReasonInvalidAmount,
		},
		{
			name:   "missing re-entry over £200",
			amount: 22000, party: 2,
			in:     domain.ChargeDecisionInput{Decision: "approved", WarningAcknowledged: true},
			reason: domain.ReasonAmountMismatch,
		},
		{
			name:   "re-entry differs",
			amount: 22000, party: 2,
			in:     domain.ChargeDecisionInput{Decision: "approved", ConfirmAmount: money(2200), WarningAcknowledged: true},
			reason: domain.ReasonAmountMismatch,
		},
		{
			name:   "warning not acknowledged",
			amount: 22000, party: 2,
			in:     domain.ChargeDecisionInput{Decision: "approved", ConfirmAmount: money(22000)},
			reason: domain.ReasonWarningNotAcknowledged,
		},
		{
			name:   "per-head warning not acknowledged",
			amount: 12000, party: 2,
			in:     domain.ChargeDecisionInput{Decision: "approved"},
			reason: domain.ReasonWarningNotAcknowledged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newChargeFixture(t)
			raw, cr := f.addCharge(tt.amount, tt.party)

			d, err := f.svc.Decide(context.Background(), raw, tt.in)
			if err != nil {
				t.Fatalf("Decide() error = %v", err)
			}
			if d.State != domain.DecisionBlocked || d.Reason != tt.reason {
				t.Errorf("got %s/%s, want blocked/%s", d.State, d.Reason, tt.reason)
			}
			if f.db.charges[cr.ID].Status != domain.ChargePending {
				t.Error("a rejected decision must leave the request pending")
			}
			if f.db.tokenFor(raw).Used() {
				t.Error("a rejected decision must not consume the token")
			}
		})
	}
}

func TestDecideApproveLargeCharge(t *testing.T) {
	f := newChargeFixture(t)
	raw, cr := f.addCharge(22000, 2)

	d, err := f.svc.Decide(context.Background(), raw, domain.ChargeDecisionInput{
		Decision:            "approved",
		ApprovedAmount:      money(21000),
		ConfirmAmount:       money(21000),
		WarningAcknowledged: true,
		Notes:               "broke a glass",
	})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if d.State != domain.DecisionApplied || d.ApprovedAmount != 21000 {
		t.Fatalf("got %+v", d)
	}
	got := f.db.charges[cr.ID]
	if got.Status != domain.ChargeApproved || got.ApprovedAmount == nil || *got.ApprovedAmount != 21000 {
		t.Errorf("stored request = %+v", got)
	}
	if !f.db.tokenFor(raw).Used() {
		t.Error("an applied decision consumes the token")
	}
	if f.bus.published(events.ChargeRequestDecided) != 1 {
		t.Errorf("published = %v", f.bus.subjects)
	}
}

func TestDecideWaiveSkipsWarnings(t *testing.T) {
	f := newChargeFixture(t)
	raw, _ := f.addCharge(22000, 2)

	d, err := f.svc.Decide(context.Background(), raw, domain.ChargeDecisionInput{Decision: "waived"})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if d.State != domain.DecisionApplied || d.Decision != domain.DecisionWaive {
		t.Errorf("got %+v", d)
	}
}

func TestDecideTwiceIsAlreadyDecided(t *testing.T) {
	f := newChargeFixture(t)
	raw, _ := f.addCharge(4000, 4)
	ctx := context.Background()

	if d, _ := f.svc.Decide(ctx, raw, domain.ChargeDecisionInput{Decision: "approved"}); d.State != domain.DecisionApplied {
		t.Fatalf("first decision = %+v", d)
	}
	d, err := f.svc.Decide(ctx, raw, domain.ChargeDecisionInput{Decision: "waived"})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if d.State != domain.DecisionAlreadyDecided || d.Prior == nil || d.Prior.Status != domain.ChargeApproved {
		t.Errorf("second decision = %+v", d)
	}
}

func TestDecideConcurrentWaiveAppliesOnce(t *testing.T) {
	f := newChargeFixture(t)
	raw, _ := f.addCharge(4000, 4)

	const n = 8
	results := make([]*ChargeDecision, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := f.svc.Decide(context.Background(), raw, domain.ChargeDecisionInput{Decision: "waived"})
			if err != nil {
				t.Errorf("Decide() error = %v", err)
				return
			}
			results[i] = d
		}(i)
	}
	wg.Wait()

	applied, decided := 0, 0
	for _, d := range results {
		if d == nil {
			continue
		}
		switch d.State {
		case domain.DecisionApplied:
			applied++
		case domain.DecisionAlreadyDecided:
			decided++
		default:
			t.Errorf("unexpected outcome %s/%s", d.State, d.Reason)
		}
	}
	if applied != 1 || decided != n-1 {
		t.Errorf("applied=%d already_decided=%d, want 1 and %d", applied, decided, n-1)
	}
}

func TestAttemptApprovedChargeSucceeds(t *testing.T) {
	f := newChargeFixture(t)
	f.addCard()
	raw, cr := f.addCharge(4000, 4)
	ctx := context.Background()

	d, _ := f.svc.Decide(ctx, raw, domain.ChargeDecisionInput{Decision: "approved", ApprovedAmount: money(3500)})
	out, err := f.svc.AttemptApprovedCharge(ctx, d)
	if err != nil {
		t.Fatalf("AttemptApprovedCharge() error = %v", err)
	}
	if out.Status != domain.ChargeAttemptSucceeded {
		t.Errorf("status = %s", out.Status)
	}
	if len(f.gateway.charges) != 1 {
		t.Fatalf("charges = %d, want 1", len(f.gateway.charges))
	}
	req := f.gateway.charges[0]
	if req.Amount != 3500 || req.PaymentMethodID != "pm_1" || req.IdempotencyKey != "charge-request-"+cr.ID {
		t.Errorf("charge request = %+v", req)
	}
	if got := f.db.charges[cr.ID].ChargeStatus; got != domain.ChargeAttemptSucceeded {
		t.Errorf("recorded charge status = %s", got)
	}
}

func TestAttemptApprovedChargeWithoutCard(t *testing.T) {
	f := newChargeFixture(t)
	raw, cr := f.addCharge(4000, 4)
	ctx := context.Background()

	d, _ := f.svc.Decide(ctx, raw, domain.ChargeDecisionInput{Decision: "approved"})
	out, err := f.svc.AttemptApprovedCharge(ctx, d)
	if err != nil {
		t.Fatalf("AttemptApprovedCharge() error = %v", err)
	}
	if out.Status != domain.ChargeAttemptFailed || out.Error != failureNoCardOnFile {
		t.Errorf("outcome = %+v", out)
	}
	if len(f.gateway.charges) != 0 {
		t.Error("no processor call without a card")
	}
	got := f.db.charges[cr.ID]
	if got.Status != domain.ChargeApproved {
		t.Errorf("decision status = %s, want approved to stand", got.Status)
	}
	if got.ChargeStatus != domain.ChargeAttemptFailed {
		t.Errorf("charge status = %s, want failed", got.ChargeStatus)
	}
}

func TestAttemptApprovedChargeDeclined(t *testing.T) {
	f := newChargeFixture(t)
	f.addCard()
	f.gateway.chargeRes = &payments.ChargeResult{PaymentIntentID: "pi_9", Status: domain.ChargeAttemptFailed, FailureMessage: "card_declined"}
	raw, cr := f.addCharge(4000, 4)
	ctx := context.Background()

	d, _ := f.svc.Decide(ctx, raw, domain.ChargeDecisionInput{Decision: "approved"})
	out, _ := f.svc.AttemptApprovedCharge(ctx, d)
	if out.Status != domain.ChargeAttemptFailed || out.PaymentIntentID != "pi_9" {
		t.Errorf("outcome = %+v", out)
	}
	if f.db.charges[cr.ID].Status != domain.ChargeApproved {
		t.Error("decline must not roll back the approval")
	}
}

func TestAttemptApprovedChargeRejectsWaive(t *testing.T) {
	f := newChargeFixture(t)
	raw, _ := f.addCharge(4000, 4)
	ctx := context.Background()

	d, _ := f.svc.Decide(ctx, raw, domain.ChargeDecisionInput{Decision: "waived"})
	if _, err := f.svc.AttemptApprovedCharge(ctx, d); err != ErrNotApplied {
		t.Errorf("err = %v, want ErrNotApplied", err)
	}
}
