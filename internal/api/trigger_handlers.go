package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vigilops/vigil-core/internal/event"
	"github.com/vigilops/vigil-core/internal/metrics"
	"github.com/vigilops/vigil-core/internal/middleware"
	"github.com/vigilops/vigil-core/internal/ratelimit"
)

// EventIntake is where accepted triggers go; the pipeline implements it.
type EventIntake interface {
	HandleEvent(ev *event.DetectionEvent)
}

type TriggerHandler struct {
	Intake    EventIntake
	Limiter   *ratelimit.Limiter
	PerCamera ratelimit.LimitConfig
}

func NewTriggerHandler(intake EventIntake, limiter *ratelimit.Limiter, perCamera ratelimit.LimitConfig) *TriggerHandler {
	return &TriggerHandler{Intake: intake, Limiter: limiter, PerCamera: perCamera}
}

// POST /api/v1/cameras/{camera_id}/trigger
// Body is optional: {"hint": "person"}. Evidence refs come from camera
// config at pipeline time, not from the caller.
func (h *TriggerHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "camera_id")
	if !cameraIDRegex.MatchString(cameraID) {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}

	// Manual triggers cost real provider money, so unlike the blanket
	// IP limit this one fails open only with a loud log line.
	decision, err := h.Limiter.CheckRateLimit(r.Context(), ratelimit.TriggerKey(cameraID), h.PerCamera)
	if err != nil {
		if !errors.Is(err, ratelimit.ErrRedisUnavailable) {
			respondError(w, http.StatusInternalServerError, "rate limit check failed")
			return
		}
		log.Printf("[WARN] Trigger: redis down, accepting trigger for %s unmetered", cameraID)
	} else {
		middleware.WriteRateLimitHeaders(w, decision)
		if !decision.Allowed {
			metrics.RecordRateLimited("trigger")
			respondError(w, http.StatusTooManyRequests, "trigger limit reached for camera")
			return
		}
	}

	var req struct {
		Hint string `json:"hint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ev := event.NewManualEvent(cameraID, req.Hint, event.EvidenceRefs{})
	h.Intake.HandleEvent(ev)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"event_id": ev.EventID.String(),
		"status":   "queued",
	})
}
