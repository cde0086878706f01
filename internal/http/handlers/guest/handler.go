package guest

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/internal/service"
	"github.com/venuehq/backoffice/internal/throttle"
	"github.com/venuehq/backoffice/pkg/logger"
	mw "github.com/venuehq/backoffice/pkg/middleware"
	"github.com/venuehq/backoffice/pkg/token"
)

//go:embed templates/*.html
var templateFS embed.FS

// Throttler is satisfied by *throttle.Throttle.
type Throttler interface {
	Check(r *http.Request, scope domain.LinkScope, kind throttle.Kind, rawToken string) bool
}

// Handler serves the tokenised guest (/g) and manager (/m) pages.
type Handler struct {
	charges      service.ChargeApprovalService
	tablePayment service.TablePaymentService
	cardCapture  service.CardCaptureService
	waitlist     service.WaitlistService
	preorders    service.PreorderService
	throttle     Throttler
	venue        string
	pages        map[domain.LinkScope]*template.Template
}

func NewHandler(
	charges service.ChargeApprovalService,
	tablePayment service.TablePaymentService,
	cardCapture service.CardCaptureService,
	waitlist service.WaitlistService,
	preorders service.PreorderService,
	throttle Throttler,
	venue string,
	loc *time.Location,
) *Handler {
	return &Handler{
		charges:      charges,
		tablePayment: tablePayment,
		cardCapture:  cardCapture,
		waitlist:     waitlist,
		preorders:    preorders,
		throttle:     throttle,
		venue:        venue,
		pages:        parsePages(loc),
	}
}

func parsePages(loc *time.Location) map[domain.LinkScope]*template.Template {
	funcs := template.FuncMap{
		"money": func(m domain.Money, currency string) string { return m.Format(currency) },
		"when":  func(t time.Time) string { return t.In(loc).Format("Monday 2 January, 15:04") },
		"label": func(v interface{}) string { return strings.ReplaceAll(fmt.Sprint(v), "_", " ") },
	}
	files := map[domain.LinkScope]string{
		domain.ScopeChargeApproval: "charge_approval.html",
		domain.ScopeTablePayment:   "table_payment.html",
		domain.ScopeCardCapture:    "card_capture.html",
		domain.ScopeWaitlistOffer:  "waitlist_offer.html",
		domain.ScopeSundayPreorder: "sunday_preorder.html",
	}
	pages := make(map[domain.LinkScope]*template.Template, len(files))
	for scope, file := range files {
		pages[scope] = template.Must(template.New("layout").Funcs(funcs).
			ParseFS(templateFS, "templates/layout.html", "templates/"+file))
	}
	return pages
}

// GuestRoutes is mounted at /g.
func (h *Handler) GuestRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(mw.NoStore)
	r.Route("/{token}", func(r chi.Router) {
		tables := r.With(h.recoverPage(domain.ScopeTablePayment))
		tables.Get("/table-payment", h.tablePaymentPage)
		tables.Post("/table-payment/checkout", h.tablePaymentCheckout)

		cards := r.With(h.recoverPage(domain.ScopeCardCapture))
		cards.Get("/card-capture", h.cardCapturePage)
		cards.Post("/card-capture/checkout", h.cardCaptureCheckout)

		offers := r.With(h.recoverPage(domain.ScopeWaitlistOffer))
		offers.Get("/waitlist-offer", h.waitlistOfferPage)
		offers.Post("/waitlist-offer/action", h.waitlistOfferAction)

		preorders := r.With(h.recoverPage(domain.ScopeSundayPreorder))
		preorders.Get("/sunday-preorder", h.preorderPage)
		preorders.Post("/sunday-preorder/action", h.preorderAction)
	})
	return r
}

// ManagerRoutes is mounted at /m.
func (h *Handler) ManagerRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(mw.NoStore)
	r.Route("/{token}", func(r chi.Router) {
		charges := r.With(h.recoverPage(domain.ScopeChargeApproval))
		charges.Get("/charge-approval", h.chargeApprovalPage)
		charges.Post("/charge-approval/action", h.chargeApprovalAction)
	})
	return r
}

// recoverPage turns a panic in a link handler into the scope's internal error page.
func (h *Handler) recoverPage(scope domain.LinkScope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.ErrorContext(r.Context(), "Link page panic",
					"scope", scope,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				h.renderBlocked(w, r, scope, domain.ReasonInternalError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// pageView is what layout.html renders. Data is the scope's preview.
type pageView struct {
	Venue      string
	Title      string
	Notice     string
	NoticeWarn bool
	Blocked    string
	Action     string
	Data       interface{}
}

var pageTitles = map[domain.LinkScope]string{
	domain.ScopeChargeApproval: "Charge approval",
	domain.ScopeTablePayment:   "Pay for your booking",
	domain.ScopeCardCapture:    "Secure your booking",
	domain.ScopeWaitlistOffer:  "A place has opened up",
	domain.ScopeSundayPreorder: "Sunday lunch pre-order",
}

// statusNotices covers the ?status= values that are not blocked reasons.
var statusNotices = map[string]struct {
	text string
	warn bool
}{
	"approved_succeeded": {"Approved. The card has been charged.", false},
	"approved_pending":   {"Approved. The card payment is processing and will settle shortly.", false},
	"approved_failed":    {"Approved, but the card could not be charged. Please follow this up with the guest.", true},
	"waived":             {"The charge has been waived.", false},
	"paid":               {"Thank you, your payment has been received.", false},
	"card_saved":         {"Thank you, your card has been saved.", false},
	"cancelled":          {"Checkout was cancelled. You can try again below.", true},
	"payment_cancelled":  {"Your seats are reserved but payment was cancelled. Please contact us to complete it.", true},
	"confirmed":          {"Your seats are confirmed. See you there!", false},
	"payment_error":      {"Your seats are reserved, but we could not start the payment. Please contact us to complete it.", true},
	"saved":              {"Your pre-order has been saved.", false},
	"cutoff":             {domain.ReasonPreorderCutoff.Message(), true},
	"error":              {"Something went wrong. Please try again later.", true},
	"already_decided":    {domain.ReasonAlreadyDecided.Message(), true},
	"rate_limited":       {domain.ReasonRateLimited.Message(), true},
}

func notice(status string) (string, bool) {
	if status == "" || len(status) > 40 {
		return "", false
	}
	if n, ok := statusNotices[status]; ok {
		return n.text, n.warn
	}
	for _, c := range status {
		if (c < 'a' || c > 'z') && c != '_' {
			return "", false
		}
	}
	return domain.Reason(status).Message(), true
}

// render writes a page for state/reason with the preview as data.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, scope domain.LinkScope, state domain.PreviewState, reason domain.Reason, data interface{}) {
	v := pageView{
		Venue:  h.venue,
		Title:  pageTitles[scope],
		Action: r.URL.Path + "/" + actionSegment(scope),
		Data:   data,
	}
	v.Notice, v.NoticeWarn = notice(r.URL.Query().Get("status"))

	status := http.StatusOK
	if state == domain.PreviewBlocked {
		v.Blocked = reason.Message()
		switch reason {
		case domain.ReasonInvalidToken:
			status = http.StatusNotFound
		case domain.ReasonRateLimited:
			status = http.StatusTooManyRequests
		case domain.ReasonInternalError:
			status = http.StatusInternalServerError
		}
		// The banner would only repeat the blocked message.
		v.Notice = ""
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.pages[scope].ExecuteTemplate(w, "layout", v); err != nil {
		logger.ErrorContext(r.Context(), "Failed to render page", "scope", scope, "error", err)
	}
}

func (h *Handler) renderBlocked(w http.ResponseWriter, r *http.Request, scope domain.LinkScope, reason domain.Reason) {
	h.render(w, r, scope, domain.PreviewBlocked, reason, nil)
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, scope domain.LinkScope, err error) {
	logger.ErrorContext(r.Context(), "Link page failed", "scope", scope, "error", err)
	h.renderBlocked(w, r, scope, domain.ReasonInternalError)
}

func actionSegment(scope domain.LinkScope) string {
	switch scope {
	case domain.ScopeTablePayment, domain.ScopeCardCapture:
		return "checkout"
	}
	return "action"
}

// redirectStatus answers a POST with 303 to the page it came from.
func redirectStatus(w http.ResponseWriter, r *http.Request, status string) {
	http.Redirect(w, r, path.Dir(r.URL.Path)+"?status="+status, http.StatusSeeOther)
}

// begin tags the request context with the link scope and applies the throttle.
// It returns the raw token, or false when the request was throttled.
func (h *Handler) begin(r *http.Request, scope domain.LinkScope, kind throttle.Kind) (*http.Request, string, bool) {
	raw := chi.URLParam(r, "token")
	r = r.WithContext(logger.WithLinkScope(r.Context(), string(scope)))
	if !h.throttle.Check(r, scope, kind, raw) {
		return r, raw, false
	}
	logger.DebugContext(r.Context(), "Link request", "kind", kind, "token_prefix", token.Prefix(raw))
	return r, raw, true
}
