package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/venuehq/backoffice/internal/http/response"
	"github.com/venuehq/backoffice/internal/payments"
	"github.com/venuehq/backoffice/internal/service"
	"github.com/venuehq/backoffice/pkg/logger"
)

const maxWebhookBody = 64 << 10

type WebhookHandler struct {
	webhooks service.WebhookService
}

func NewWebhookHandler(webhooks service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// Routes is mounted at /webhooks.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/stripe", h.Stripe)
	return r
}

func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "unreadable body")
		return
	}

	err = h.webhooks.HandleStripe(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, payments.ErrInvalidWebhook):
		logger.WarnContext(r.Context(), "Rejected webhook", "error", err)
		response.WriteError(w, http.StatusBadRequest, "invalid webhook", response.CodeInvalidWebhook)
	default:
		// Non-2xx makes the processor retry; completion is idempotent.
		logger.ErrorContext(r.Context(), "Webhook handling failed", "error", err)
		response.InternalError(w, "webhook handling failed")
	}
}
