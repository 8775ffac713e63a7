package event

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedup drops repeated intake deliveries within a TTL window. Upstreams
// are at-least-once; the same real-world trigger can arrive twice.
type Dedup struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

func NewDedup(maxKeys int, ttlSeconds int) *Dedup {
	if maxKeys < 1 {
		maxKeys = 1024
	}
	c, _ := lru.New[string, time.Time](maxKeys)
	return &Dedup{
		cache: c,
		ttl:   time.Duration(ttlSeconds) * time.Second,
	}
}

func (d *Dedup) IsDuplicate(key string) bool {
	if addedAt, ok := d.cache.Get(key); ok {
		if time.Since(addedAt) < d.ttl {
			return true // Duplicate within window
		}
		// Expired but still in LRU? Update it.
	}
	d.cache.Add(key, time.Now())
	return false
}

// BuildDedupKey buckets occurred_at to 1 second so micro-timing diffs
// between redeliveries still collide.
func BuildDedupKey(source, cameraID string, kind TriggerKind, occurredAt time.Time) string {
	ts := occurredAt.Truncate(time.Second).Unix()
	return fmt.Sprintf("%s|%s|%s|%d", source, cameraID, kind, ts)
}
