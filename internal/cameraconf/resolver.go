// Package cameraconf resolves per-camera analysis settings: the DB row
// when the operator customized a camera, global defaults otherwise.
// Lookups sit on the hot intake path so results are cached briefly.
package cameraconf

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/vigilops/vigil-core/internal/config"
	"github.com/vigilops/vigil-core/internal/data"
	"github.com/vigilops/vigil-core/internal/evidence"
)

const DefaultTTL = 60 * time.Second

// Settings is the resolved analysis profile for one camera.
type Settings struct {
	CameraID      string
	DisplayName   string
	Enabled       bool
	Mode          evidence.Mode
	FrameCount    int
	ProviderOrder []string
	SnapshotURL   string
	ClipURL       string
}

// Resolver caches merged camera settings. DB errors fall back to
// defaults without caching, so a recovered DB is picked up on the next
// event rather than after the TTL.
type Resolver struct {
	repo  data.CameraConfigModel
	cache *gocache.Cache

	mu       sync.RWMutex
	defaults config.CameraDefaults
	order    []string
}

func NewResolver(repo data.CameraConfigModel, defaults config.CameraDefaults, providerOrder []string, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{
		repo:     repo,
		defaults: defaults,
		order:    providerOrder,
		cache:    gocache.New(ttl, 2*ttl),
	}
}

// UpdateFallback swaps the deployment defaults and provider precedence
// used when a camera has no stored override. The cache is flushed so
// in-flight analyses finish on the settings they resolved while the
// next event sees the new ones.
func (r *Resolver) UpdateFallback(defaults config.CameraDefaults, providerOrder []string) {
	r.mu.Lock()
	r.defaults = defaults
	r.order = append([]string(nil), providerOrder...)
	r.mu.Unlock()
	r.cache.Flush()
}

// Resolve returns the settings for a camera, never failing: unknown
// cameras get defaults, DB outages degrade to defaults for this event.
func (r *Resolver) Resolve(ctx context.Context, cameraID string) Settings {
	if cached, ok := r.cache.Get(cameraID); ok {
		return cached.(Settings)
	}

	s := r.defaultsFor(cameraID)

	rec, err := r.repo.Get(ctx, cameraID)
	switch {
	case errors.Is(err, data.ErrRecordNotFound):
		// No per-camera row; defaults are the answer.
	case err != nil:
		log.Printf("[WARN] CameraConf: lookup failed for %s, using defaults: %v", cameraID, err)
		return s
	default:
		s = r.merge(s, rec)
	}

	r.cache.SetDefault(cameraID, s)
	return s
}

// Invalidate drops a camera's cached settings after a config write.
func (r *Resolver) Invalidate(cameraID string) {
	r.cache.Delete(cameraID)
}

func (r *Resolver) defaultsFor(cameraID string) Settings {
	r.mu.RLock()
	defaults := r.defaults
	order := r.order
	r.mu.RUnlock()

	mode, err := evidence.ParseMode(defaults.AnalysisMode)
	if err != nil {
		mode = evidence.ModeSingleFrame
	}
	frames := defaults.FrameCount
	if frames < 1 {
		frames = 3
	}
	return Settings{
		CameraID:      cameraID,
		DisplayName:   cameraID,
		Enabled:       true,
		Mode:          mode,
		FrameCount:    frames,
		ProviderOrder: order,
	}
}

func (r *Resolver) merge(s Settings, rec *data.CameraConfig) Settings {
	s.Enabled = rec.Enabled
	if rec.DisplayName != "" {
		s.DisplayName = rec.DisplayName
	}
	if mode, err := evidence.ParseMode(rec.AnalysisMode); err == nil {
		s.Mode = mode
	}
	if rec.FrameCount > 0 {
		s.FrameCount = rec.FrameCount
	}
	if len(rec.ProviderOrder) > 0 {
		s.ProviderOrder = rec.ProviderOrder
	}
	s.SnapshotURL = rec.SnapshotURL
	s.ClipURL = rec.ClipURL
	return s
}
