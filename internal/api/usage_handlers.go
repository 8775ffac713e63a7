package api

import (
	"net/http"
	"time"

	"github.com/vigilops/vigil-core/internal/costs"
	"github.com/vigilops/vigil-core/internal/data"
)

const dayFormat = "2006-01-02"

// CapReporter is the slice of the cost tracker the API needs.
type CapReporter interface {
	Summary() costs.Summary
}

type UsageHandler struct {
	Usage   data.UsageModel
	Tracker CapReporter
}

func NewUsageHandler(usage data.UsageModel, tracker CapReporter) *UsageHandler {
	return &UsageHandler{Usage: usage, Tracker: tracker}
}

// GET /api/v1/usage?from=2026-08-01&to=2026-08-22
// Defaults to the trailing seven days.
func (h *UsageHandler) List(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseDayRange(w, r)
	if !ok {
		return
	}

	records, err := h.Usage.ListRange(r.Context(), from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "usage lookup failed")
		return
	}
	if records == nil {
		records = []*data.UsageRecord{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"from":    from,
		"to":      to,
		"records": records,
	})
}

// GET /api/v1/usage/providers?from=&to=
func (h *UsageHandler) Providers(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseDayRange(w, r)
	if !ok {
		return
	}

	summaries, err := h.Usage.SummarizeByProvider(r.Context(), from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "usage lookup failed")
		return
	}
	if summaries == nil {
		summaries = []*data.ProviderSummary{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"from":      from,
		"to":        to,
		"providers": summaries,
	})
}

// GET /api/v1/usage/summary
// Today's spend against the caps, from the tracker's running totals.
func (h *UsageHandler) Summary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Tracker.Summary())
}

func parseDayRange(w http.ResponseWriter, r *http.Request) (from, to string, ok bool) {
	now := time.Now().UTC()
	from = now.AddDate(0, 0, -7).Format(dayFormat)
	to = now.Format(dayFormat)

	if v := r.URL.Query().Get("from"); v != "" {
		if _, err := time.Parse(dayFormat, v); err != nil {
			respondError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return "", "", false
		}
		from = v
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if _, err := time.Parse(dayFormat, v); err != nil {
			respondError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return "", "", false
		}
		to = v
	}
	if from > to {
		respondError(w, http.StatusBadRequest, "from is after to")
		return "", "", false
	}
	return from, to, true
}
