package guest

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/internal/throttle"
	"github.com/venuehq/backoffice/pkg/logger"
)

func (h *Handler) preorderPage(w http.ResponseWriter, r *http.Request) {
	r, raw, ok := h.begin(r, domain.ScopeSundayPreorder, throttle.KindPreview)
	if !ok {
		h.renderBlocked(w, r, domain.ScopeSundayPreorder, domain.ReasonRateLimited)
		return
	}
	p, err := h.preorders.Preview(r.Context(), raw)
	if err != nil {
		h.renderError(w, r, domain.ScopeSundayPreorder, err)
		return
	}
	h.render(w, r, domain.ScopeSundayPreorder, p.State, p.Reason, p)
}

func (h *Handler) preorderAction(w http.ResponseWriter, r *http.Request) {
	r, raw, ok := h.begin(r, domain.ScopeSundayPreorder, throttle.KindAction)
	if !ok {
		redirectStatus(w, r, string(domain.ReasonRateLimited))
		return
	}
	if err := r.ParseForm(); err != nil {
		redirectStatus(w, r, string(domain.ReasonInvalidSelection))
		return
	}
	quantities, ok := parseQuantities(r)
	if !ok {
		redirectStatus(w, r, string(domain.ReasonInvalidSelection))
		return
	}

	res, err := h.preorders.Save(r.Context(), raw, quantities)
	if err != nil {
		logger.ErrorContext(r.Context(), "Pre-order save failed", "error", err)
		redirectStatus(w, r, "error")
		return
	}
	switch {
	case res.State == domain.DecisionApplied:
		redirectStatus(w, r, "saved")
	case res.Reason == domain.ReasonPreorderCutoff:
		redirectStatus(w, r, "cutoff")
	default:
		redirectStatus(w, r, string(res.Reason))
	}
}

// parseQuantities reads item_<id> fields. Blank fields count as zero.
func parseQuantities(r *http.Request) (map[string]int, bool) {
	out := make(map[string]int)
	for key, values := range r.PostForm {
		id, found := strings.CutPrefix(key, "item_")
		if !found || id == "" {
			continue
		}
		v := strings.TrimSpace(values[0])
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, false
		}
		out[id] = n
	}
	return out, true
}
