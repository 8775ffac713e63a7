package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedup_FirstSeenNotDuplicate(t *testing.T) {
	d := NewDedup(100, 60)
	key := BuildDedupKey("nats", "cam-1", TriggerMotion, time.Now())

	assert.False(t, d.IsDuplicate(key))
	assert.True(t, d.IsDuplicate(key))
	assert.True(t, d.IsDuplicate(key))
}

func TestDedup_ExpiredKeyAcceptedAgain(t *testing.T) {
	d := NewDedup(100, 0) // zero TTL: everything expires immediately

	key := "src|cam|motion|12345"
	assert.False(t, d.IsDuplicate(key))
	assert.False(t, d.IsDuplicate(key))
}

func TestDedup_EvictionAllowsReplay(t *testing.T) {
	d := NewDedup(2, 60)

	assert.False(t, d.IsDuplicate("a"))
	assert.False(t, d.IsDuplicate("b"))
	assert.False(t, d.IsDuplicate("c")) // evicts "a"
	assert.False(t, d.IsDuplicate("a"))
}

func TestBuildDedupKey_BucketsToSecond(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)

	k1 := BuildDedupKey("mqtt", "front_yard", TriggerSmart, base.Add(100*time.Millisecond))
	k2 := BuildDedupKey("mqtt", "front_yard", TriggerSmart, base.Add(900*time.Millisecond))
	k3 := BuildDedupKey("mqtt", "front_yard", TriggerSmart, base.Add(1100*time.Millisecond))

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestBuildDedupKey_DistinguishesCameraAndKind(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)

	assert.NotEqual(t,
		BuildDedupKey("nats", "cam-1", TriggerMotion, at),
		BuildDedupKey("nats", "cam-2", TriggerMotion, at))
	assert.NotEqual(t,
		BuildDedupKey("nats", "cam-1", TriggerMotion, at),
		BuildDedupKey("nats", "cam-1", TriggerDoorbell, at))
}
