package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/venuehq/backoffice/internal/domain"
)

// Notifier renders the back office's outbound emails and hands them to a Sender.
type Notifier struct {
	sender Sender
	venue  string
	phone  string
}

func NewNotifier(sender Sender, venueName, contactPhone string) *Notifier {
	return &Notifier{sender: sender, venue: venueName, phone: contactPhone}
}

var emailLayout = template.Must(template.New("email").Parse(`
<div style="font-family: Georgia, serif; max-width: 560px;">
  <h2>{{.Heading}}</h2>
  {{range .Paragraphs}}<p>{{.}}</p>{{end}}
  {{if .Link}}<p><a href="{{.Link}}" style="background-color: #1f3a2e; color: white; padding: 10px 20px; text-decoration: none; border-radius: 4px;">{{.LinkLabel}}</a></p>{{end}}
  {{if .Footer}}<p style="color: #666; font-size: 13px;">{{.Footer}}</p>{{end}}
</div>`))

type emailView struct {
	Heading    string
	Paragraphs []string
	Link       string
	LinkLabel  string
	Footer     string
}

func (n *Notifier) send(ctx context.Context, to, toName, subject string, v emailView) error {
	var html bytes.Buffer
	if err := emailLayout.Execute(&html, v); err != nil {
		return fmt.Errorf("render email: %w", err)
	}

	var text strings.Builder
	text.WriteString(v.Heading + "\n\n")
	for _, p := range v.Paragraphs {
		text.WriteString(p + "\n\n")
	}
	if v.Link != "" {
		fmt.Fprintf(&text, "%s: %s\n\n", v.LinkLabel, v.Link)
	}
	if v.Footer != "" {
		text.WriteString(v.Footer + "\n")
	}

	return n.sender.Send(ctx, Message{
		To:      to,
		ToName:  toName,
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
	})
}

func (n *Notifier) footer() string {
	if n.phone == "" {
		return n.venue
	}
	return fmt.Sprintf("Questions? Call %s on %s.", n.venue, n.phone)
}

func (n *Notifier) ChargeApprovalRequested(ctx context.Context, to string, cr *domain.ChargeRequest, link string) error {
	subject := fmt.Sprintf("Approve %s charge of %s", strings.ReplaceAll(string(cr.Type), "_", "-"), cr.Amount.Format(cr.Currency))
	return n.send(ctx, to, "", subject, emailView{
		Heading: "Charge request awaiting your decision",
		Paragraphs: []string{
			fmt.Sprintf("%s, booking %s for %d on %s.", cr.CustomerName, cr.BookingRef, cr.PartySize, cr.BookingStartAt.Format("Mon 2 Jan 15:04")),
			fmt.Sprintf("Requested: %s (%s).", cr.Amount.Format(cr.Currency), cr.Type),
			cr.Notes,
		},
		Link:      link,
		LinkLabel: "Review charge",
		Footer:    "This link works once and expires in 7 days.",
	})
}

func (n *Notifier) GuestLink(ctx context.Context, to, toName string, scope domain.LinkScope, link string, expiresAt time.Time) error {
	var subject, heading, label, body string
	switch scope {
	case domain.ScopeTablePayment:
		subject, heading, label = "Complete your booking payment", "Secure your table", "Pay now"
		body = "Your table is held for you until " + expiresAt.Format("Mon 2 Jan 15:04") + ". Pay online to confirm it."
	case domain.ScopeCardCapture:
		subject, heading, label = "Add a card to your booking", "Card details needed", "Add card"
		body = "We ask for a card to hold your booking. Nothing is charged now."
	case domain.ScopeWaitlistOffer:
		subject, heading, label = "Seats are available for you", "Good news from the waitlist", "Claim your seats"
		body = "Seats have opened up. This offer is yours until " + expiresAt.Format("Mon 2 Jan 15:04") + "."
	case domain.ScopeSundayPreorder:
		subject, heading, label = "Choose your Sunday lunch", "Pre-order your Sunday lunch", "Choose dishes"
		body = "Let us know what everyone would like so the kitchen can prepare."
	default:
		return fmt.Errorf("no guest email for scope %q", scope)
	}

	greeting := "Hello,"
	if toName != "" {
		greeting = "Hello " + toName + ","
	}
	return n.send(ctx, to, toName, subject+" at "+n.venue, emailView{
		Heading:    heading,
		Paragraphs: []string{greeting, body},
		Link:       link,
		LinkLabel:  label,
		Footer:     n.footer(),
	})
}

func (n *Notifier) DailyDigest(ctx context.Context, to string, s *domain.DigestSummary) error {
	return n.send(ctx, to, "", fmt.Sprintf("%s daily digest for %s", n.venue, s.Date), emailView{
		Heading: "Daily digest " + s.Date,
		Paragraphs: []string{
			fmt.Sprintf("Bookings today: %d (%d covers).", s.BookingsToday, s.CoversToday),
			fmt.Sprintf("Charge requests awaiting a decision: %d.", s.PendingChargeRequests),
			fmt.Sprintf("Approved charges not yet collected: %d.", s.ApprovedUnpaid),
			fmt.Sprintf("Bookings awaiting payment: %d.", s.AwaitingPayment),
			fmt.Sprintf("Open waitlist offers: %d.", s.OpenWaitlistOffers),
		},
	})
}
