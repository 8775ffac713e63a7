// Package ratelimit implements fixed-window request counting in Redis.
// Windows are rooted at the key's first hit and expire on their own, so
// an idle key costs nothing.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRedisUnavailable  = errors.New("redis unavailable")
)

type LimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
}

// PerMinute is the common case for API budgets.
func PerMinute(rate int) LimitConfig {
	return LimitConfig{Rate: rate, Window: time.Minute}
}

type Decision struct {
	Limit      int
	Remaining  int
	Reset      time.Time // when the window closes, upper bound
	RetryAfter int       // seconds
	Allowed    bool
}

// windowScript keeps INCR and PEXPIRE atomic; a client dying between
// the two would otherwise leave an immortal counter.
var windowScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

type Limiter struct {
	client *redis.Client
	salt   string // stabilizes IP hashing across instances
}

func NewLimiter(client *redis.Client, salt string) *Limiter {
	if salt == "" {
		salt = "vigil-default-salt"
	}
	return &Limiter{client: client, salt: salt}
}

// HashIP gives a privacy-safe stable key component for client addresses.
func (l *Limiter) HashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip + l.salt))
	return hex.EncodeToString(hash[:])
}

// CheckRateLimit counts one hit against the key's window and reports
// whether it fit. The caller picks the failure policy on
// ErrRedisUnavailable; this layer never fails open or closed itself.
func (l *Limiter) CheckRateLimit(ctx context.Context, key string, cfg LimitConfig) (*Decision, error) {
	count, err := windowScript.Run(ctx, l.client, []string{key}, cfg.Window.Milliseconds()).Int()
	if err != nil {
		return nil, ErrRedisUnavailable
	}

	remaining := cfg.Rate - count
	if remaining < 0 {
		remaining = 0
	}

	// Reset is approximated as now+window; exact TTL would cost a
	// second round trip on every request.
	return &Decision{
		Limit:      cfg.Rate,
		Remaining:  remaining,
		Reset:      time.Now().Add(cfg.Window),
		RetryAfter: int(cfg.Window.Seconds()),
		Allowed:    count <= cfg.Rate,
	}, nil
}

// TriggerKey scopes manual analysis triggers to one camera.
func TriggerKey(cameraID string) string {
	return "rl:trigger:" + cameraID
}

// IPKey scopes the blanket API budget to one (hashed) client address.
func IPKey(ipHash string) string {
	return "rl:ip:" + ipHash
}
