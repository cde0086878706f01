package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/internal/payments"
	"github.com/venuehq/backoffice/internal/repository"
	"github.com/venuehq/backoffice/pkg/token"
)

// memDB stands in for Postgres. Its mutex plays the part of the row locks the
// real repositories take, so guarded writes behave the same under concurrency.
type memDB struct {
	mu        sync.Mutex
	tokens    map[string]*domain.GuestToken
	charges   map[string]*domain.ChargeRequest
	attempts  map[string]domain.ChargeAttempt
	bookings  map[string]*domain.TableBooking
	customers map[string]*domain.Customer
	cards     map[string]*domain.CardCapture
	events    map[string]*domain.Event
	offers    map[string]*domain.WaitlistOffer
	eventBkgs map[string]*domain.EventBooking
	menu      []domain.MenuItem
	preorders map[string][]domain.PreorderLine
	settings  domain.OperationalSettings
}

func newMemDB() *memDB {
	return &memDB{
		tokens:    map[string]*domain.GuestToken{},
		charges:   map[string]*domain.ChargeRequest{},
		attempts:  map[string]domain.ChargeAttempt{},
		bookings:  map[string]*domain.TableBooking{},
		customers: map[string]*domain.Customer{},
		cards:     map[string]*domain.CardCapture{},
		events:    map[string]*domain.Event{},
		offers:    map[string]*domain.WaitlistOffer{},
		eventBkgs: map[string]*domain.EventBooking{},
		preorders: map[string][]domain.PreorderLine{},
		settings: domain.OperationalSettings{
			SundayPreorderEnabled: true,
			WaitlistOffersEnabled: true,
			Version:               1,
		},
	}
}

// addToken stores a token for subject and returns the raw value.
func (db *memDB) addToken(scope domain.LinkScope, subjectID string, expiresAt time.Time) string {
	raw, err := token.Generate()
	if err != nil {
		panic(err)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	id := uuid.NewString()
	db.tokens[id] = &domain.GuestToken{
		ID:        id,
		TokenHash: token.Hash(raw),
		Scope:     scope,
		SubjectID: subjectID,
		ExpiresAt: expiresAt,
	}
	return raw
}

func (db *memDB) tokenFor(raw string) *domain.GuestToken {
	db.mu.Lock()
	defer db.mu.Unlock()
	h := token.Hash(raw)
	for _, t := range db.tokens {
		if t.TokenHash == h {
			cp := *t
			return &cp
		}
	}
	return nil
}

func (db *memDB) consume(id string, now time.Time) {
	if t := db.tokens[id]; t != nil && t.UsedAt == nil {
		t.UsedAt = &now
	}
}

func lockedTokenReason(t *domain.GuestToken, scope domain.LinkScope, subjectID string) domain.Reason {
	if t == nil || t.Scope != scope || t.SubjectID != subjectID {
		return domain.ReasonInvalidToken
	}
	return ""
}

// tokens

type fakeTokens struct{ db *memDB }

func (f fakeTokens) Create(_ context.Context, t *domain.GuestToken) (*domain.GuestToken, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	cp := *t
	cp.ID = uuid.NewString()
	f.db.tokens[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f fakeTokens) GetByHash(_ context.Context, hash string) (*domain.GuestToken, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, t := range f.db.tokens {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

// charge requests

type fakeCharges struct{ db *memDB }

func (f fakeCharges) Create(_ context.Context, cr *domain.ChargeRequest) (*domain.ChargeRequest, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	cp := *cr
	cp.ID = uuid.NewString()
	cp.Status = domain.ChargePending
	cp.ChargeStatus = domain.ChargeNotAttempted
	if b := f.db.bookings[cp.TableBookingID]; b != nil {
		cp.PartySize = b.PartySize
		cp.BookingRef = b.Reference
		cp.BookingStartAt = b.StartAt
	}
	f.db.charges[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f fakeCharges) GetByID(_ context.Context, id string) (*domain.ChargeRequest, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	cr := f.db.charges[id]
	if cr == nil {
		return nil, nil
	}
	cp := *cr
	return &cp, nil
}

func (f fakeCharges) Decide(_ context.Context, tokenID, id string, w domain.ChargeDecisionWrite) (domain.Reason, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	tok := f.db.tokens[tokenID]
	if r := lockedTokenReason(tok, domain.ScopeChargeApproval, id); r != "" {
		return r, nil
	}
	cr := f.db.charges[id]
	if cr == nil {
		return domain.ReasonInvalidToken, nil
	}
	if cr.Status != domain.ChargePending {
		return domain.ReasonAlreadyDecided, nil
	}
	if r := usableReason(tok, w.DecidedAt); r != "" {
		return r, nil
	}
	cr.Status = domain.ChargeStatus(w.Decision)
	d := w.Decision
	cr.ManagerDecision = &d
	cr.ApprovedAmount = w.ApprovedAmount
	cr.ManagerNotes = w.Notes
	at := w.DecidedAt
	cr.DecidedAt = &at
	f.db.consume(tokenID, w.DecidedAt)
	return "", nil
}

func (f fakeCharges) RecordAttempt(_ context.Context, id string, a domain.ChargeAttempt) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.attempts[id] = a
	if cr := f.db.charges[id]; cr != nil {
		cr.ChargeStatus = a.Status
		cr.PaymentIntentID = a.PaymentIntentID
		cr.ChargeError = a.Error
	}
	return nil
}

// customers

type fakeCustomers struct{ db *memDB }

func (f fakeCustomers) GetByID(_ context.Context, id string) (*domain.Customer, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c := f.db.customers[id]
	if c == nil {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f fakeCustomers) SetStripeCustomerID(_ context.Context, id, stripeID string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if c := f.db.customers[id]; c != nil {
		c.StripeCustomerID = stripeID
	}
	return nil
}

func (f fakeCustomers) GetCardCapture(_ context.Context, customerID string) (*domain.CardCapture, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	cc := f.db.cards[customerID]
	if cc == nil {
		return nil, nil
	}
	cp := *cc
	return &cp, nil
}

// table bookings

type fakeBookings struct{ db *memDB }

func (f fakeBookings) GetByID(_ context.Context, id string) (*domain.TableBooking, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	b := f.db.bookings[id]
	if b == nil {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (f fakeBookings) OpenPaymentHold(_ context.Context, id string, until time.Time) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	b := f.db.bookings[id]
	if b == nil || b.Status != domain.TableBookingPendingPayment {
		return false, nil
	}
	b.HoldExpiresAt = &until
	return true, nil
}

func (f fakeBookings) RequestCardCapture(_ context.Context, id string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	b := f.db.bookings[id]
	if b == nil || b.Closed() || b.CardCaptureStatus == domain.CardCaptureCaptured {
		return false, nil
	}
	b.CardCaptureStatus = domain.CardCapturePending
	return true, nil
}

func (f fakeBookings) AttachCheckoutSession(_ context.Context, id, sessionID string, now time.Time) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	b := f.db.bookings[id]
	if b == nil || b.Status != domain.TableBookingPendingPayment || !b.HoldActive(now) {
		return false, nil
	}
	b.CheckoutSessionID = sessionID
	return true, nil
}

func (f fakeBookings) ConfirmPayment(_ context.Context, tokenID, id, sessionID string, paidAt time.Time) (domain.PaymentSettlement, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	b := f.db.bookings[id]
	if b == nil {
		return domain.PaymentNeedsRefund, nil
	}
	if settlement := b.Settle(sessionID, paidAt); settlement != domain.PaymentConfirmed {
		return settlement, nil
	}
	b.Status = domain.TableBookingConfirmed
	b.PaidAt = &paidAt
	b.HoldExpiresAt = nil
	f.db.consume(tokenID, paidAt)
	return domain.PaymentConfirmed, nil
}

func (f fakeBookings) CompleteCardCapture(_ context.Context, tokenID, id string, cc domain.CardCapture) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	b := f.db.bookings[id]
	if b == nil || b.CardCaptureStatus != domain.CardCapturePending {
		return false, nil
	}
	b.CardCaptureStatus = domain.CardCaptureCaptured
	f.db.cards[cc.CustomerID] = &cc
	f.db.consume(tokenID, cc.CapturedAt)
	return true, nil
}

// waitlist

type fakeWaitlist struct{ db *memDB }

func (f fakeWaitlist) seatsTaken(eventID string, now time.Time) int {
	taken := 0
	for _, eb := range f.db.eventBkgs {
		if eb.EventID != eventID {
			continue
		}
		if eb.Status == domain.EventBookingConfirmed ||
			(eb.Status == domain.EventBookingPendingPayment && eb.HoldExpiresAt != nil && now.Before(*eb.HoldExpiresAt)) {
			taken += eb.Seats
		}
	}
	return taken
}

func (f fakeWaitlist) GetEvent(_ context.Context, id string) (*domain.Event, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	e := f.db.events[id]
	if e == nil {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (f fakeWaitlist) CreateOffer(_ context.Context, o *domain.WaitlistOffer) (*domain.WaitlistOffer, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	cp := *o
	cp.ID = uuid.NewString()
	cp.Status = domain.OfferPending
	f.db.offers[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f fakeWaitlist) GetOfferView(_ context.Context, id string, now time.Time) (*domain.WaitlistOfferView, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	o := f.db.offers[id]
	if o == nil {
		return nil, nil
	}
	e := f.db.events[o.EventID]
	if e == nil {
		return nil, fmt.Errorf("missing event %s", o.EventID)
	}
	view := &domain.WaitlistOfferView{Offer: *o, Event: *e, SeatsTaken: f.seatsTaken(e.ID, now)}
	if c := f.db.customers[o.CustomerID]; c != nil {
		view.CustomerName, view.CustomerEmail = c.FullName(), c.Email
	}
	return view, nil
}

func (f fakeWaitlist) Confirm(_ context.Context, tokenID, offerID string, in domain.WaitlistConfirmation) (*domain.EventBooking, domain.Reason, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	tok := f.db.tokens[tokenID]
	if r := lockedTokenReason(tok, domain.ScopeWaitlistOffer, offerID); r != "" {
		return nil, r, nil
	}
	o := f.db.offers[offerID]
	if o == nil {
		return nil, domain.ReasonInvalidToken, nil
	}
	switch {
	case o.Status == domain.OfferAccepted:
		return nil, domain.ReasonAlreadyDecided, nil
	case o.Status != domain.OfferPending, !in.Now.Before(o.ExpiresAt):
		return nil, domain.ReasonOfferExpired, nil
	}
	if r := usableReason(tok, in.Now); r != "" {
		return nil, r, nil
	}
	e := f.db.events[o.EventID]
	if e == nil || !f.db.settings.WaitlistOffersEnabled || !e.BookingOpen {
		return nil, domain.ReasonBookingClosed, nil
	}
	if e.Started(in.Now) {
		return nil, domain.ReasonEventStarted, nil
	}
	if e.Capacity-f.seatsTaken(e.ID, in.Now) < o.RequestedSeats {
		return nil, domain.ReasonCapacityUnavailable, nil
	}

	eb := &domain.EventBooking{
		ID:         uuid.NewString(),
		EventID:    e.ID,
		CustomerID: o.CustomerID,
		Seats:      o.RequestedSeats,
		Status:     domain.EventBookingConfirmed,
		Currency:   e.Currency,
		CreatedAt:  in.Now,
	}
	if o.PaymentMode == domain.PaymentPrepaid {
		hold := in.Now.Add(in.PrepaidHold)
		eb.Status = domain.EventBookingPendingPayment
		eb.HoldExpiresAt = &hold
		eb.Amount = e.PricePerSeat * domain.Money(o.RequestedSeats)
	}
	f.db.eventBkgs[eb.ID] = eb
	o.Status = domain.OfferAccepted
	o.AcceptedAt = &in.Now
	o.EventBookingID = &eb.ID
	f.db.consume(tokenID, in.Now)
	out := *eb
	return &out, "", nil
}

func (f fakeWaitlist) AttachCheckoutSession(_ context.Context, id, sessionID string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if eb := f.db.eventBkgs[id]; eb != nil && eb.Status == domain.EventBookingPendingPayment {
		eb.CheckoutSessionID = sessionID
	}
	return nil
}

func (f fakeWaitlist) ConfirmPayment(_ context.Context, id, sessionID string, paidAt time.Time) (domain.PaymentSettlement, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	eb := f.db.eventBkgs[id]
	if eb == nil {
		return domain.PaymentNeedsRefund, nil
	}
	if settlement := eb.Settle(sessionID, paidAt); settlement != domain.PaymentConfirmed {
		return settlement, nil
	}
	eb.Status = domain.EventBookingConfirmed
	eb.HoldExpiresAt = nil
	return domain.PaymentConfirmed, nil
}

// settings

type fakeSettings struct{ db *memDB }

func (f fakeSettings) Get(context.Context) (*domain.OperationalSettings, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	s := f.db.settings
	return &s, nil
}

func (f fakeSettings) Update(_ context.Context, req domain.UpdateSettingsRequest, by string, now time.Time) (*domain.OperationalSettings, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if req.ExpectedVersion != f.db.settings.Version {
		return nil, repository.ErrVersionConflict
	}
	if req.LoyaltyEnabled != nil {
		f.db.settings.LoyaltyEnabled = *req.LoyaltyEnabled
	}
	if req.SundayPreorderEnabled != nil {
		f.db.settings.SundayPreorderEnabled = *req.SundayPreorderEnabled
	}
	if req.WaitlistOffersEnabled != nil {
		f.db.settings.WaitlistOffersEnabled = *req.WaitlistOffersEnabled
	}
	f.db.settings.Version++
	f.db.settings.UpdatedAt = now
	f.db.settings.UpdatedBy = by
	s := f.db.settings
	return &s, nil
}

// preorders

type fakePreorder struct{ db *memDB }

func (f fakePreorder) ListActiveMenu(context.Context) ([]domain.MenuItem, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return append([]domain.MenuItem(nil), f.db.menu...), nil
}

func (f fakePreorder) Get(_ context.Context, bookingID string) (*domain.SundayPreorder, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	b := f.db.bookings[bookingID]
	if b == nil {
		return nil, nil
	}
	return &domain.SundayPreorder{TableBookingID: bookingID, Lines: f.db.preorders[bookingID], UpdatedAt: b.PreorderUpdatedAt}, nil
}

func (f fakePreorder) Save(_ context.Context, tokenID, bookingID string, lines []domain.PreorderLine, cutoff time.Duration, now time.Time) (domain.Reason, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	tok := f.db.tokens[tokenID]
	if r := lockedTokenReason(tok, domain.ScopeSundayPreorder, bookingID); r != "" {
		return r, nil
	}
	b := f.db.bookings[bookingID]
	if b == nil {
		return domain.ReasonInvalidToken, nil
	}
	if !f.db.settings.SundayPreorderEnabled || b.BookingType != domain.BookingSundayLunch || b.Status != domain.TableBookingConfirmed {
		return domain.ReasonBookingClosed, nil
	}
	if tok.Expired(now) {
		return domain.ReasonTokenExpired, nil
	}
	if !now.Before(b.PreorderCutoff(cutoff)) {
		return domain.ReasonPreorderCutoff, nil
	}
	f.db.preorders[bookingID] = append([]domain.PreorderLine(nil), lines...)
	b.PreorderUpdatedAt = &now
	return "", nil
}

// gateway

type fakeGateway struct {
	mu          sync.Mutex
	chargeRes   *payments.ChargeResult
	chargeErr   error
	checkoutErr error
	charges     []payments.OffSessionCharge
	checkouts   []payments.CheckoutRequest
	sessions    map[string]*payments.CheckoutSession
	customers   int
	webhook     *payments.WebhookEvent
	webhookErr  error
}

func (g *fakeGateway) EnsureCustomer(_ context.Context, c *domain.Customer) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customers++
	return "cus_" + c.ID, nil
}

func (g *fakeGateway) ChargeOffSession(_ context.Context, req payments.OffSessionCharge) (*payments.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, req)
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	if g.chargeRes != nil {
		return g.chargeRes, nil
	}
	return &payments.ChargeResult{PaymentIntentID: "pi_1", Status: domain.ChargeAttemptSucceeded}, nil
}

// CreateCheckoutSession replays the first session for a repeated idempotency key,
// as Stripe does.
func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req payments.CheckoutRequest) (*payments.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkouts = append(g.checkouts, req)
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	if s, ok := g.sessions[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return s, nil
	}
	n := len(g.checkouts)
	s := &payments.CheckoutSession{ID: fmt.Sprintf("cs_%d", n), URL: fmt.Sprintf("https://checkout.stripe.test/cs_%d", n)}
	if req.IdempotencyKey != "" {
		if g.sessions == nil {
			g.sessions = map[string]*payments.CheckoutSession{}
		}
		g.sessions[req.IdempotencyKey] = s
	}
	return s, nil
}

func (g *fakeGateway) SetupPaymentMethod(_ context.Context, setupIntentID string) (string, error) {
	return "pm_" + setupIntentID, nil
}

func (g *fakeGateway) ParseWebhook([]byte, string) (*payments.WebhookEvent, error) {
	return g.webhook, g.webhookErr
}

// idempotency

type fakeIdempotency struct {
	mu       sync.Mutex
	rows     map[string]*idemRow
	released int
}

type idemRow struct {
	state     domain.IdempotencyState
	claimedAt time.Time
	response  []byte
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{rows: map[string]*idemRow{}}
}

func (f *fakeIdempotency) Claim(_ context.Context, key string, staleAfter time.Duration, now time.Time) (domain.ClaimResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[key]
	if row == nil || (row.state == domain.IdempotencyClaimed && row.claimedAt.Before(now.Add(-staleAfter))) {
		f.rows[key] = &idemRow{state: domain.IdempotencyClaimed, claimedAt: now}
		return domain.ClaimResult{Claimed: true, State: domain.IdempotencyClaimed}, nil
	}
	return domain.ClaimResult{State: row.state, Response: row.response}, nil
}

func (f *fakeIdempotency) Complete(_ context.Context, key string, response []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[key]
	if row == nil || row.state != domain.IdempotencyClaimed {
		return errors.New("not claimed")
	}
	row.state = domain.IdempotencyCompleted
	row.response = response
	return nil
}

func (f *fakeIdempotency) Release(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row := f.rows[key]; row != nil && row.state == domain.IdempotencyClaimed {
		delete(f.rows, key)
		f.released++
	}
	return nil
}

func (f *fakeIdempotency) CleanupExpired(context.Context) (int64, error) { return 0, nil }

type fakeDigest struct {
	summary domain.DigestSummary
	err     error
	calls   int
}

func (f *fakeDigest) Summary(context.Context, time.Time, time.Time, time.Time) (*domain.DigestSummary, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	s := f.summary
	return &s, nil
}

// notifier and event bus

type sentLink struct {
	to    string
	scope domain.LinkScope
	link  string
}

type fakeNotifier struct {
	mu      sync.Mutex
	links   []sentLink
	digests []domain.DigestSummary
	err     error
}

func (n *fakeNotifier) ChargeApprovalRequested(_ context.Context, to string, _ *domain.ChargeRequest, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links = append(n.links, sentLink{to: to, scope: domain.ScopeChargeApproval, link: link})
	return n.err
}

func (n *fakeNotifier) GuestLink(_ context.Context, to, _ string, scope domain.LinkScope, link string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links = append(n.links, sentLink{to: to, scope: scope, link: link})
	return n.err
}

func (n *fakeNotifier) DailyDigest(_ context.Context, _ string, s *domain.DigestSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.digests = append(n.digests, *s)
	return nil
}

type fakeBus struct {
	mu       sync.Mutex
	subjects []string
}

func (b *fakeBus) Publish(_ context.Context, subject string, _ interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subjects = append(b.subjects, subject)
	return nil
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) published(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.subjects {
		if s == subject {
			n++
		}
	}
	return n
}
