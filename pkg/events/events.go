package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/venuehq/backoffice/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url, nats.Name("venue-backoffice"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "bytes", len(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}

// LogPublisher writes events to the log. main falls back to it when NATS
// is not reachable.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher { return &LogPublisher{} }

func (LogPublisher) Publish(ctx context.Context, subject string, data interface{}) error {
	logger.InfoContext(ctx, "Event", "subject", subject, "data", data)
	return nil
}

func (LogPublisher) Close() error { return nil }

// Event subjects
const (
	ChargeRequestCreated         = "charge_request.created"
	ChargeRequestDecided         = "charge_request.decided"
	ChargeRequestChargeAttempted = "charge_request.charge_attempted"

	TablePaymentCheckoutStarted = "table_payment.checkout_started"
	TablePaymentCompleted       = "table_payment.completed"
	CardCaptureCompleted        = "card_capture.completed"

	WaitlistOfferCreated   = "waitlist_offer.created"
	WaitlistOfferConfirmed = "waitlist_offer.confirmed"
	EventPaymentCompleted  = "event_payment.completed"

	// PaymentNeedsRefund is raised for money taken against a session the booking no longer accepts.
	PaymentNeedsRefund = "payment.needs_refund"

	SundayPreorderSaved = "sunday_preorder.saved"

	GuestLinkIssued = "guest_link.issued"
	DigestSent      = "digest.sent"
	SettingsUpdated = "settings.updated"
)

// Event payloads
type ChargeRequestCreatedEvent struct {
	ChargeRequestID string    `json:"charge_request_id"`
	TableBookingID  string    `json:"table_booking_id"`
	Type            string    `json:"type"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	CreatedAt       time.Time `json:"created_at"`
}

type ChargeRequestDecidedEvent struct {
	ChargeRequestID string    `json:"charge_request_id"`
	Decision        string    `json:"decision"`
	ApprovedAmount  int64     `json:"approved_amount,omitempty"`
	DecidedAt       time.Time `json:"decided_at"`
}

type ChargeAttemptedEvent struct {
	ChargeRequestID string    `json:"charge_request_id"`
	Status          string    `json:"status"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	AttemptedAt     time.Time `json:"attempted_at"`
}

type CheckoutEvent struct {
	TableBookingID    string    `json:"table_booking_id,omitempty"`
	EventBookingID    string    `json:"event_booking_id,omitempty"`
	CheckoutSessionID string    `json:"checkout_session_id"`
	At                time.Time `json:"at"`
}

type WaitlistOfferEvent struct {
	OfferID        string    `json:"offer_id"`
	EventID        string    `json:"event_id"`
	EventBookingID string    `json:"event_booking_id,omitempty"`
	Seats          int       `json:"seats"`
	PaymentMode    string    `json:"payment_mode"`
	At             time.Time `json:"at"`
}

type PreorderSavedEvent struct {
	TableBookingID string    `json:"table_booking_id"`
	Items          int       `json:"items"`
	SavedAt        time.Time `json:"saved_at"`
}

type GuestLinkIssuedEvent struct {
	Scope     string    `json:"scope"`
	SubjectID string    `json:"subject_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type DigestSentEvent struct {
	Date   string    `json:"date"`
	SentAt time.Time `json:"sent_at"`
}

type SettingsUpdatedEvent struct {
	Version   int64     `json:"version"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}
