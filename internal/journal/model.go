// Package journal records operator-visible pipeline outcomes: analysis
// failures with their degradation trails, rule firings, per-action
// delivery results and correlation groups. Entries are append-only;
// when Postgres is unreachable they spool to a local JSONL file and a
// background replayer drains the spool once the DB recovers.
package journal

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a journal entry.
type Kind string

const (
	KindAcquisitionFailure Kind = "acquisition_failure"
	KindProviderExhausted  Kind = "provider_exhausted"
	KindRuleFired          Kind = "rule_fired"
	KindActionDelivery     Kind = "action_delivery"
	KindCorrelationGroup   Kind = "correlation_group"
	KindConfigChange       Kind = "config_change"
)

// Entry is a single journal record. ID doubles as the idempotency key:
// spooled entries keep their ID, so replaying one the DB already has is
// a no-op.
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	EventID   uuid.UUID       `json:"event_id"`
	CameraID  string          `json:"camera_id,omitempty"`
	Kind      Kind            `json:"kind"`
	Outcome   string          `json:"outcome"` // success/failure
	Detail    string          `json:"detail,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// spooledEntry wraps an Entry for the JSONL failover file.
type spooledEntry struct {
	ID        string    `json:"id"`
	Entry     Entry     `json:"entry"`
	SpooledAt time.Time `json:"spooled_at"`
}

// Filter narrows a journal query. Zero values mean "any". Cursor is the
// created_at of the last row from the previous page, RFC3339Nano.
type Filter struct {
	CameraID string
	Kind     Kind
	Outcome  string
	From     *time.Time
	To       *time.Time
	Limit    int
	Cursor   string
}

// AcquisitionFailure records an event that produced no usable evidence.
// The trail explains each degradation step taken before giving up.
func AcquisitionFailure(eventID uuid.UUID, cameraID string, trail []string) Entry {
	return Entry{
		EventID:  eventID,
		CameraID: cameraID,
		Kind:     KindAcquisitionFailure,
		Outcome:  "failure",
		Detail:   strings.Join(trail, "; "),
		Metadata: trailMeta(trail),
	}
}

// ProviderExhausted records an event every configured provider failed
// to analyze at every reachable tier.
func ProviderExhausted(eventID uuid.UUID, cameraID string, trail []string) Entry {
	return Entry{
		EventID:  eventID,
		CameraID: cameraID,
		Kind:     KindProviderExhausted,
		Outcome:  "failure",
		Detail:   strings.Join(trail, "; "),
		Metadata: trailMeta(trail),
	}
}

// RuleFired records an alert rule matching an analysis result.
func RuleFired(eventID uuid.UUID, cameraID string, ruleID uuid.UUID, ruleName string) Entry {
	meta, _ := json.Marshal(map[string]string{"rule_id": ruleID.String(), "rule_name": ruleName})
	return Entry{
		EventID:  eventID,
		CameraID: cameraID,
		Kind:     KindRuleFired,
		Outcome:  "success",
		Detail:   ruleName,
		Metadata: meta,
	}
}

// ActionDelivery records one notification attempt for a firing.
func ActionDelivery(eventID uuid.UUID, cameraID, ruleName, channel string, delivered bool, errText string) Entry {
	outcome := "success"
	detail := ruleName + " via " + channel
	if !delivered {
		outcome = "failure"
		detail += ": " + errText
	}
	meta, _ := json.Marshal(map[string]string{"rule_name": ruleName, "channel": channel})
	return Entry{
		EventID:  eventID,
		CameraID: cameraID,
		Kind:     KindActionDelivery,
		Outcome:  outcome,
		Detail:   detail,
		Metadata: meta,
	}
}

// CorrelationGrouped records an event joining a cross-camera group.
func CorrelationGrouped(eventID uuid.UUID, cameraID string, groupID uuid.UUID, cameras []string) Entry {
	meta, _ := json.Marshal(map[string]any{"group_id": groupID.String(), "cameras": cameras})
	return Entry{
		EventID:  eventID,
		CameraID: cameraID,
		Kind:     KindCorrelationGroup,
		Outcome:  "success",
		Detail:   "grouped with " + strings.Join(cameras, ", "),
		Metadata: meta,
	}
}

// ConfigChange records a mutating admin API call. No pipeline event
// backs these, so EventID stays zero.
func ConfigChange(actor, method, path string, status int, latencyMs int64) Entry {
	outcome := "success"
	if status >= 400 {
		outcome = "failure"
	}
	meta, _ := json.Marshal(map[string]any{
		"actor":      actor,
		"status":     status,
		"latency_ms": latencyMs,
	})
	return Entry{
		Kind:     KindConfigChange,
		Outcome:  outcome,
		Detail:   method + " " + path,
		Metadata: meta,
	}
}

func trailMeta(trail []string) json.RawMessage {
	meta, _ := json.Marshal(map[string][]string{"trail": trail})
	return meta
}
