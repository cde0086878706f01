package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/venuehq/backoffice/internal/http/response"
	"github.com/venuehq/backoffice/internal/service"
	"github.com/venuehq/backoffice/pkg/logger"
	mw "github.com/venuehq/backoffice/pkg/middleware"
)

// CronHandler exposes scheduled jobs to the platform scheduler.
type CronHandler struct {
	digest service.DigestService
	secret string
}

func NewCronHandler(digest service.DigestService, secret string) *CronHandler {
	return &CronHandler{digest: digest, secret: secret}
}

// Routes is mounted at /cron. Every route needs the bearer secret.
func (h *CronHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(mw.RequireBearerSecret(h.secret))
	r.Post("/daily-digest", h.DailyDigest)
	return r
}

// DailyDigest answers 200 for sent and already_sent, 409 while another run holds the claim.
func (h *CronHandler) DailyDigest(w http.ResponseWriter, r *http.Request) {
	run, err := h.digest.Run(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "Daily digest failed", "error", err)
		response.InternalError(w, "daily digest failed")
		return
	}
	if run.Status == service.DigestInProgress {
		response.WriteErrorWithDetails(w, http.StatusConflict, "daily digest already running", response.CodeInProgress, run.Key)
		return
	}
	response.WriteJSON(w, http.StatusOK, run)
}
