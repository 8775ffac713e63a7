package provider

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/vigilops/vigil-core/internal/evidence"
)

// paced wraps an adapter with a client-side request rate limit so a
// burst of events cannot trip the backend's own limiter.
type paced struct {
	Adapter
	limiter *rate.Limiter
}

// WithPacing applies requests-per-minute pacing; rpm <= 0 returns the
// adapter unchanged.
func WithPacing(a Adapter, rpm float64) Adapter {
	if rpm <= 0 {
		return a
	}
	return &paced{
		Adapter: a,
		limiter: rate.NewLimiter(rate.Limit(rpm/60.0), 1),
	}
}

func (p *paced) Invoke(ctx context.Context, ev *evidence.Evidence, prompt string) (*RawResult, error) {
	// Wait respects the caller deadline; a saturated limiter surfaces
	// as a timeout, same as a slow backend.
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.Adapter.Invoke(ctx, ev, prompt)
}
