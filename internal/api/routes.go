package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigilops/vigil-core/internal/middleware"
)

// RouterDeps carries the wired handlers into the route table. Nil
// optional middleware (RateLimit, Audit) is simply not mounted.
type RouterDeps struct {
	Auth      *middleware.JWTAuth
	RateLimit *middleware.RateLimit
	Audit     *middleware.Audit

	Usage   *UsageHandler
	Journal *JournalHandler
	Trigger *TriggerHandler
	Rules   *RuleHandler
	Cameras *CameraHandler
	Stream  *StreamHandler
	Health  *HealthHandler
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS)
	if d.RateLimit != nil {
		r.Use(d.RateLimit.Global)
	}

	// Liveness and scrape endpoints stay unauthenticated.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Websocket auth rides a query param, outside the bearer chain.
	r.Get("/api/v1/alerts/stream", d.Stream.Alerts)

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Middleware)

		r.Get("/api/v1/health", d.Health.Status)
		r.Get("/api/v1/usage", d.Usage.List)
		r.Get("/api/v1/usage/providers", d.Usage.Providers)
		r.Get("/api/v1/usage/summary", d.Usage.Summary)
		r.Get("/api/v1/journal", d.Journal.List)
		r.Get("/api/v1/rules", d.Rules.List)
		r.Get("/api/v1/rules/{rule_id}", d.Rules.Get)
		r.Get("/api/v1/cameras", d.Cameras.List)
		r.Get("/api/v1/cameras/{camera_id}", d.Cameras.Get)
		r.Get("/api/v1/cameras/{camera_id}/latest", d.Cameras.LatestResult)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			if d.Audit != nil {
				r.Use(d.Audit.LogMutations)
			}

			r.Post("/api/v1/rules", d.Rules.Create)
			r.Put("/api/v1/rules/{rule_id}", d.Rules.Update)
			r.Delete("/api/v1/rules/{rule_id}", d.Rules.Delete)
			r.Put("/api/v1/cameras/{camera_id}", d.Cameras.Put)
			r.Delete("/api/v1/cameras/{camera_id}", d.Cameras.Delete)
			r.Post("/api/v1/cameras/{camera_id}/trigger", d.Trigger.Trigger)
		})
	})

	return r
}
