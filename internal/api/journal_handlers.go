package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vigilops/vigil-core/internal/journal"
)

type JournalHandler struct {
	Journal *journal.Service
}

func NewJournalHandler(j *journal.Service) *JournalHandler {
	return &JournalHandler{Journal: j}
}

// GET /api/v1/journal?camera_id=&kind=&outcome=&from=&to=&limit=&cursor=
// from/to are RFC3339; cursor comes from the previous page's response.
func (h *JournalHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := journal.Filter{
		CameraID: q.Get("camera_id"),
		Kind:     journal.Kind(q.Get("kind")),
		Outcome:  q.Get("outcome"),
		Cursor:   q.Get("cursor"),
	}

	if v := q.Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		f.From = &ts
	}
	if v := q.Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		f.To = &ts
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		f.Limit = n
	}
	if f.Cursor != "" {
		if _, err := time.Parse(time.RFC3339Nano, f.Cursor); err != nil {
			respondError(w, http.StatusBadRequest, "bad cursor")
			return
		}
	}

	entries, next, err := h.Journal.Query(r.Context(), f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal query failed")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"entries":     entries,
		"next_cursor": next,
	})
}
