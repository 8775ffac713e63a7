// Package analysis routes acquired evidence through the ordered provider
// chain, degrading the evidence tier when providers cannot serve it.
package analysis

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/vigilops/vigil-core/internal/costs"
	"github.com/vigilops/vigil-core/internal/evidence"
	"github.com/vigilops/vigil-core/internal/metrics"
	"github.com/vigilops/vigil-core/internal/provider"
)

const (
	// DefaultInvokeTimeout bounds one provider call.
	DefaultInvokeTimeout = 10 * time.Second

	// A provider rests for backoffTTL after backoffThreshold consecutive
	// failures inside failureWindow. Resting is distinct from a
	// capability skip: it shows up in the fallback trail.
	backoffThreshold = 3
	backoffTTL       = 30 * time.Second
	failureWindow    = 2 * time.Minute
)

// Costs is the slice of the cost tracker the router consults.
type Costs interface {
	Summary() costs.Summary
	Record(ctx context.Context, cameraID, provider, mode string, tokens int64, costUSD float64) error
}

// ExhaustedError is terminal: every configured provider failed at every
// reachable tier. The pipeline reports it; it never retries forever.
type ExhaustedError struct {
	CameraID string
	Trail    []string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all providers exhausted for camera %s: %s", e.CameraID, strings.Join(e.Trail, "; "))
}

// Request carries everything one analysis needs. Reacquire produces
// fresh evidence when the router has to fall back a tier after the
// original payload proved unservable.
type Request struct {
	Event     RequestEvent
	Evidence  *evidence.Evidence
	Mode      evidence.Mode
	Trail     []string
	Providers []provider.Adapter
	Prompt    string
	Reacquire func(ctx context.Context, mode evidence.Mode) (*evidence.Evidence, []string, error)
}

// RequestEvent is the event identity the result inherits.
type RequestEvent struct {
	EventID    uuid.UUID
	CameraID   string
	OccurredAt time.Time
}

// Router implements the provider precedence walk: strict order, one
// provider in flight per event, cap enforcement before any network call.
type Router struct {
	costs         Costs
	invokeTimeout time.Duration
	failures      *gocache.Cache
}

func NewRouter(c Costs, invokeTimeout time.Duration) *Router {
	if invokeTimeout <= 0 {
		invokeTimeout = DefaultInvokeTimeout
	}
	return &Router{
		costs:         c,
		invokeTimeout: invokeTimeout,
		failures:      gocache.New(failureWindow, 5*time.Minute),
	}
}

// PlanMode applies the cap gate pre-emptively: when spend is over cap,
// a costlier requested tier drops straight to single_frame before any
// clip download or provider call happens.
func (r *Router) PlanMode(requested evidence.Mode) (evidence.Mode, string) {
	if requested == evidence.ModeSingleFrame {
		return requested, ""
	}
	s := r.costs.Summary()
	if s.WithinCap {
		return requested, ""
	}

	capKind := "daily"
	if s.MonthlyCapUSD > 0 && s.MonthlySpendUSD >= s.MonthlyCapUSD {
		capKind = "monthly"
	}
	metrics.RecordCapDegradation(capKind)
	log.Printf("[WARN] Router: %s cost cap reached, forcing %s->single_frame", capKind, requested)
	return evidence.ModeSingleFrame, fmt.Sprintf("%s->single_frame: %s cost cap reached", requested, capKind)
}

// Analyze walks the provider chain at the evidence's tier, falling back
// one tier at a time when no provider can serve it. Fails only on full
// exhaustion. Evidence buffers are released on every exit path.
func (r *Router) Analyze(ctx context.Context, req Request) (*Result, error) {
	if len(req.Providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	ev := req.Evidence
	mode := req.Mode
	trail := append([]string(nil), req.Trail...)

	for {
		res := r.tryTier(ctx, req, ev, mode, &trail)
		ev.Release()
		if res != nil {
			return res, nil
		}

		next, ok := mode.Cheaper()
		if !ok || req.Reacquire == nil {
			return nil, &ExhaustedError{CameraID: req.Event.CameraID, Trail: trail}
		}

		log.Printf("[WARN] Router: camera %s no provider served %s, falling back to %s",
			req.Event.CameraID, mode, next)
		metrics.RecordDegradation(string(mode), "provider")
		trail = append(trail, fmt.Sprintf("%s->%s: no provider succeeded", mode, next))

		fresh, acqTrail, err := req.Reacquire(ctx, next)
		trail = append(trail, acqTrail...)
		if err != nil {
			return nil, &ExhaustedError{CameraID: req.Event.CameraID, Trail: trail}
		}
		ev = fresh
		// Re-acquisition may have degraded below the asked-for tier.
		mode = evidence.ModeForKind(fresh.Kind)
	}
}

// tryTier runs the strict precedence list once against one payload.
// Returns nil when nobody succeeded.
func (r *Router) tryTier(ctx context.Context, req Request, ev *evidence.Evidence, mode evidence.Mode, trail *[]string) *Result {
	for _, p := range req.Providers {
		name := p.Name()

		if !p.Supports(ev.Kind) {
			// Capability mismatch is not a failure, just precedence.
			metrics.RecordProviderAttempt(name, "skipped")
			*trail = append(*trail, fmt.Sprintf("%s: no %s support", name, ev.Kind))
			continue
		}
		if r.resting(name) {
			metrics.RecordProviderAttempt(name, "backoff")
			*trail = append(*trail, fmt.Sprintf("%s: resting after repeated failures", name))
			continue
		}

		ictx, cancel := context.WithTimeout(ctx, r.invokeTimeout)
		start := time.Now()
		raw, err := p.Invoke(ictx, ev, req.Prompt)
		cancel()
		elapsed := time.Since(start)
		metrics.RecordProviderLatency(name, float64(elapsed.Milliseconds()))

		if err != nil {
			log.Printf("[WARN] Router: provider %s failed for camera %s after %s: %v",
				name, req.Event.CameraID, elapsed.Round(time.Millisecond), err)
			metrics.RecordProviderAttempt(name, "error")
			*trail = append(*trail, fmt.Sprintf("%s: %v", name, err))
			r.noteFailure(name)
			continue
		}

		metrics.RecordProviderAttempt(name, "success")
		r.noteSuccess(name)

		cost := costs.Estimate(int64(raw.TokensUsed), p.CostPer1KTokens())
		if rerr := r.costs.Record(ctx, req.Event.CameraID, name, string(mode), int64(raw.TokensUsed), cost); rerr != nil {
			log.Printf("[ERROR] Router: recording usage for %s: %v", name, rerr)
		}

		return &Result{
			EventID:             req.Event.EventID,
			CameraID:            req.Event.CameraID,
			OccurredAt:          req.Event.OccurredAt,
			CompletedAt:         time.Now().UTC(),
			Description:         raw.Description,
			Confidence:          raw.Confidence,
			TokensUsed:          raw.TokensUsed,
			CostEstimateUSD:     cost,
			ProviderUsed:        name,
			ModeUsed:            mode,
			FallbackReason:      strings.Join(*trail, "; "),
			DetectedObjectTypes: raw.ObjectTypes,
		}
	}
	return nil
}

func (r *Router) resting(name string) bool {
	_, ok := r.failures.Get(name + ":rest")
	return ok
}

func (r *Router) noteFailure(name string) {
	n, err := r.failures.IncrementInt(name+":fails", 1)
	if err != nil {
		r.failures.Set(name+":fails", 1, failureWindow)
		n = 1
	}
	if n >= backoffThreshold {
		log.Printf("[WARN] Router: provider %s resting for %s after %d consecutive failures", name, backoffTTL, n)
		r.failures.Set(name+":rest", true, backoffTTL)
		r.failures.Delete(name + ":fails")
	}
}

func (r *Router) noteSuccess(name string) {
	r.failures.Delete(name + ":fails")
}
