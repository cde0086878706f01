package service

import (
	"context"

	"github.com/venuehq/backoffice/internal/payments"
	"github.com/venuehq/backoffice/pkg/logger"
)

// WebhookService applies verified processor events to the booking workflows.
type WebhookService interface {
	HandleStripe(ctx context.Context, payload []byte, signature string) error
}

type webhookService struct {
	gateway      payments.Gateway
	tablePayment TablePaymentService
	cardCapture  CardCaptureService
	waitlist     WaitlistService
}

func NewWebhookService(gateway payments.Gateway, tablePayment TablePaymentService, cardCapture CardCaptureService, waitlist WaitlistService) WebhookService {
	return &webhookService{
		gateway:      gateway,
		tablePayment: tablePayment,
		cardCapture:  cardCapture,
		waitlist:     waitlist,
	}
}

func (s *webhookService) HandleStripe(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	if ev.Type != payments.EventCheckoutSessionCompleted {
		logger.DebugContext(ctx, "Ignoring Stripe event", "event_id", ev.ID, "type", ev.Type)
		return nil
	}

	md := ev.Metadata
	switch md["flow"] {
	case payments.FlowTablePayment:
		if ev.PaymentStatus != "paid" {
			logger.InfoContext(ctx, "Table payment session completed unpaid", "checkout_session_id", ev.SessionID)
			return nil
		}
		return s.tablePayment.Complete(ctx, md["table_booking_id"], md["token_id"], ev.SessionID)
	case payments.FlowCardCapture:
		return s.cardCapture.Complete(ctx, md["table_booking_id"], md["token_id"], md["customer_id"], ev.SetupIntentID)
	case payments.FlowEventPayment:
		if ev.PaymentStatus != "paid" {
			return nil
		}
		return s.waitlist.CompletePayment(ctx, md["event_booking_id"], ev.SessionID)
	default:
		logger.WarnContext(ctx, "Checkout session without a known flow", "event_id", ev.ID, "checkout_session_id", ev.SessionID)
		return nil
	}
}
