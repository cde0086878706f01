package mailer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/venuehq/backoffice/internal/domain"
)

type captureSender struct {
	sent []Message
}

func (c *captureSender) Send(_ context.Context, msg Message) error {
	c.sent = append(c.sent, msg)
	return nil
}

func TestGuestLinkEscapesName(t *testing.T) {
	sender := &captureSender{}
	n := NewNotifier(sender, "The Anchor", "01234 567890")

	err := n.GuestLink(context.Background(), "guest@example.com", "<b>Sam</b>", domain.ScopeCardCapture,
		"https://venue.example/g/abc/card-capture", time.Now().Add(72*time.Hour))
	if err != nil {
		t.Fatalf("GuestLink: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}

	msg := sender.sent[0]
	if strings.Contains(msg.HTML, "<b>Sam</b>") {
		t.Error("name should be escaped in HTML body")
	}
	if !strings.Contains(msg.Text, "https://venue.example/g/abc/card-capture") {
		t.Error("text body should carry the link")
	}
	if !strings.Contains(msg.Subject, "The Anchor") {
		t.Errorf("subject %q should name the venue", msg.Subject)
	}
}

func TestGuestLinkRejectsManagerScope(t *testing.T) {
	n := NewNotifier(&captureSender{}, "The Anchor", "")
	err := n.GuestLink(context.Background(), "x@example.com", "", domain.ScopeChargeApproval, "https://x", time.Now())
	if err == nil {
		t.Error("expected an error for a manager-only scope")
	}
}

func TestDailyDigest(t *testing.T) {
	sender := &captureSender{}
	n := NewNotifier(sender, "The Anchor", "")

	err := n.DailyDigest(context.Background(), "manager@example.com", &domain.DigestSummary{
		Date: "2026-03-01", PendingChargeRequests: 2, BookingsToday: 14, CoversToday: 52,
	})
	if err != nil {
		t.Fatalf("DailyDigest: %v", err)
	}
	if !strings.Contains(sender.sent[0].Text, "Bookings today: 14 (52 covers).") {
		t.Errorf("unexpected text body:\n%s", sender.sent[0].Text)
	}
}
