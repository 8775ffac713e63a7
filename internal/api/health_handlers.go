package api

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pinger covers *sql.DB for the health probe.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DepthReporter covers the pipeline for queue visibility.
type DepthReporter interface {
	QueueDepth() int
}

type HealthHandler struct {
	DB     Pinger
	Redis  *redis.Client
	NATSUp func() bool
	Queue  DepthReporter
}

func NewHealthHandler(db Pinger, rdb *redis.Client, natsUp func() bool, queue DepthReporter) *HealthHandler {
	return &HealthHandler{DB: db, Redis: rdb, NATSUp: natsUp, Queue: queue}
}

type componentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// GET /api/v1/health
// Always 200; degradation shows in the body. Pollers alert on content,
// not on status-code flapping.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := map[string]componentStatus{
		"postgres": h.checkDB(ctx),
		"redis":    h.checkRedis(ctx),
		"nats":     h.checkNATS(),
	}

	overall := "ok"
	for _, c := range components {
		if c.Status == "down" {
			overall = "degraded"
		}
	}

	body := map[string]any{
		"status":     overall,
		"components": components,
	}
	if h.Queue != nil {
		body["queue_depth"] = h.Queue.QueueDepth()
	}

	respondJSON(w, http.StatusOK, body)
}

func (h *HealthHandler) checkDB(ctx context.Context) componentStatus {
	if h.DB == nil {
		return componentStatus{Status: "disabled"}
	}
	if err := h.DB.PingContext(ctx); err != nil {
		return componentStatus{Status: "down", Error: err.Error()}
	}
	return componentStatus{Status: "up"}
}

func (h *HealthHandler) checkRedis(ctx context.Context) componentStatus {
	if h.Redis == nil {
		return componentStatus{Status: "disabled"}
	}
	if err := h.Redis.Ping(ctx).Err(); err != nil {
		return componentStatus{Status: "down", Error: err.Error()}
	}
	return componentStatus{Status: "up"}
}

func (h *HealthHandler) checkNATS() componentStatus {
	if h.NATSUp == nil {
		return componentStatus{Status: "disabled"}
	}
	if !h.NATSUp() {
		return componentStatus{Status: "down", Error: "not connected"}
	}
	return componentStatus{Status: "up"}
}
