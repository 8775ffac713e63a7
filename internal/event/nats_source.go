package event

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/vigilops/vigil-core/internal/metrics"
)

// Handler receives accepted, deduplicated events from a source.
type Handler func(*DetectionEvent)

// wireDetection is the payload the capture layer publishes on NATS.
type wireDetection struct {
	CameraID    string    `json:"camera_id"`
	TriggerKind string    `json:"trigger_kind"`
	RawHint     string    `json:"raw_hint,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	SnapshotURL string    `json:"snapshot_url,omitempty"`
	ClipURL     string    `json:"clip_url,omitempty"`
}

// NATSSource subscribes to the capture layer's detection subject and
// feeds normalized events to the pipeline.
type NATSSource struct {
	conn    *nats.Conn
	subject string
	dedup   *Dedup
	handler Handler

	sub *nats.Subscription
}

func NewNATSSource(conn *nats.Conn, subject string, dedup *Dedup, handler Handler) *NATSSource {
	return &NATSSource{
		conn:    conn,
		subject: subject,
		dedup:   dedup,
		handler: handler,
	}
}

func (s *NATSSource) Start() error {
	sub, err := s.conn.Subscribe(s.subject, s.onMessage)
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("[INFO] NATSSource: subscribed to %s", s.subject)
	return nil
}

func (s *NATSSource) Stop() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			log.Printf("[WARN] NATSSource: unsubscribe failed: %v", err)
		}
	}
}

func (s *NATSSource) onMessage(msg *nats.Msg) {
	var wire wireDetection
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		log.Printf("[WARN] NATSSource: bad payload on %s: %v", msg.Subject, err)
		return
	}

	kind, err := ParseTriggerKind(wire.TriggerKind)
	if err != nil {
		// Treat unknown kinds as motion rather than dropping the event.
		kind = TriggerMotion
	}

	ev := &DetectionEvent{
		EventID:     uuid.New(),
		Source:      "nats",
		CameraID:    wire.CameraID,
		TriggerKind: kind,
		RawHint:     wire.RawHint,
		OccurredAt:  wire.OccurredAt,
		ReceivedAt:  time.Now().UTC(),
		Evidence: EvidenceRefs{
			SnapshotURL: wire.SnapshotURL,
			ClipURL:     wire.ClipURL,
		},
	}
	ev.DedupKey = BuildDedupKey(ev.Source, ev.CameraID, ev.TriggerKind, ev.OccurredAt)

	if err := ev.Validate(); err != nil {
		log.Printf("[WARN] NATSSource: dropping invalid event: %v", err)
		return
	}

	if s.dedup.IsDuplicate(ev.DedupKey) {
		metrics.RecordEventDeduped("nats")
		return
	}

	metrics.RecordEventReceived("nats", string(ev.TriggerKind))
	s.handler(ev)
}
