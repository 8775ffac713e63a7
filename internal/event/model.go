package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TriggerKind classifies what caused the capture layer to emit an event.
type TriggerKind string

const (
	TriggerMotion   TriggerKind = "motion"
	TriggerSmart    TriggerKind = "smart_detection"
	TriggerManual   TriggerKind = "manual"
	TriggerDoorbell TriggerKind = "doorbell"
)

// ParseTriggerKind normalizes a wire-level trigger string.
func ParseTriggerKind(s string) (TriggerKind, error) {
	switch TriggerKind(s) {
	case TriggerMotion, TriggerSmart, TriggerManual, TriggerDoorbell:
		return TriggerKind(s), nil
	}
	return "", fmt.Errorf("unknown trigger kind %q", s)
}

// DetectionEvent is the normalized intake envelope. One per real-world
// trigger; immutable once built, consumed exactly once by the pipeline.
type DetectionEvent struct {
	EventID     uuid.UUID   `json:"event_id"`
	Source      string      `json:"source"` // "nats", "mqtt", "manual"
	CameraID    string      `json:"camera_id"`
	TriggerKind TriggerKind `json:"trigger_kind"`
	RawHint     string      `json:"raw_hint,omitempty"` // capture-layer pre-classification, e.g. "person"

	OccurredAt time.Time `json:"occurred_at"`
	ReceivedAt time.Time `json:"received_at"`

	DedupKey string `json:"dedup_key"`

	Evidence EvidenceRefs `json:"evidence"`
}

// EvidenceRefs points at where the capture layer serves visual payloads
// for this event. Either may be empty; the acquirer degrades accordingly.
type EvidenceRefs struct {
	SnapshotURL string `json:"snapshot_url,omitempty"`
	ClipURL     string `json:"clip_url,omitempty"`
}

func (e *DetectionEvent) Validate() error {
	if e.CameraID == "" {
		return fmt.Errorf("detection event missing camera_id")
	}
	if _, err := ParseTriggerKind(string(e.TriggerKind)); err != nil {
		return err
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("detection event missing occurred_at")
	}
	return nil
}

// NewManualEvent builds an operator-triggered event for a camera. The
// evidence refs come from camera config, not the trigger request.
func NewManualEvent(cameraID, hint string, refs EvidenceRefs) *DetectionEvent {
	now := time.Now().UTC()
	ev := &DetectionEvent{
		EventID:     uuid.New(),
		Source:      "manual",
		CameraID:    cameraID,
		TriggerKind: TriggerManual,
		RawHint:     hint,
		OccurredAt:  now,
		ReceivedAt:  now,
		Evidence:    refs,
	}
	ev.DedupKey = BuildDedupKey(ev.Source, ev.CameraID, ev.TriggerKind, ev.OccurredAt)
	return ev
}
