package middleware

import (
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/vigilops/vigil-core/internal/metrics"
	"github.com/vigilops/vigil-core/internal/ratelimit"
)

// RateLimit applies the blanket per-client budget. Endpoint-specific
// limits (manual triggers) are checked in their handlers, where the
// key material lives in the URL.
type RateLimit struct {
	limiter *ratelimit.Limiter
	perIP   ratelimit.LimitConfig
}

func NewRateLimit(l *ratelimit.Limiter, perIP ratelimit.LimitConfig) *RateLimit {
	return &RateLimit{limiter: l, perIP: perIP}
}

// Global enforces the per-IP window. Redis being down fails open: the
// limiter protects spend, it must not take the API down with it.
func (m *RateLimit) Global(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ratelimit.IPKey(m.limiter.HashIP(ClientIP(r)))

		decision, err := m.limiter.CheckRateLimit(r.Context(), key, m.perIP)
		if err != nil {
			if !errors.Is(err, ratelimit.ErrRedisUnavailable) {
				log.Printf("[WARN] RateLimit: check failed: %v", err)
			}
			next.ServeHTTP(w, r)
			return
		}

		WriteRateLimitHeaders(w, decision)
		if !decision.Allowed {
			metrics.RecordRateLimited("ip")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func WriteRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
