package event

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/vigilops/vigil-core/internal/metrics"
)

// MQTTConfig configures the NVR push-event intake. The payload shape
// follows the Frigate events topic (type/before/after).
type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	ClientID   string `yaml:"client_id"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Topic      string `yaml:"topic"`        // default "frigate/events"
	APIBaseURL string `yaml:"api_base_url"` // NVR HTTP API serving snapshots/clips
}

// nvrEvent matches the NVR's event JSON payload.
type nvrEvent struct {
	Type   string        `json:"type"` // "new", "update", "end"
	Before nvrEventState `json:"before"`
	After  nvrEventState `json:"after"`
}

type nvrEventState struct {
	ID          string  `json:"id"`
	Camera      string  `json:"camera"`
	Label       string  `json:"label"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time,omitempty"`
	HasSnapshot bool    `json:"has_snapshot"`
	HasClip     bool    `json:"has_clip"`
}

// MQTTSource consumes NVR push events over MQTT. Only "new" events
// produce a DetectionEvent; updates and ends describe the same trigger.
type MQTTSource struct {
	cfg     MQTTConfig
	dedup   *Dedup
	handler Handler
	client  mqtt.Client
}

func NewMQTTSource(cfg MQTTConfig, dedup *Dedup, handler Handler) *MQTTSource {
	if cfg.Topic == "" {
		cfg.Topic = "frigate/events"
	}
	return &MQTTSource{cfg: cfg, dedup: dedup, handler: handler}
}

func (s *MQTTSource) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	// Subscribe inside OnConnect so reconnects resubscribe.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Printf("[INFO] MQTTSource: connected to %s", s.cfg.Broker)
		if token := c.Subscribe(s.cfg.Topic, 0, s.onMessage); token.Wait() && token.Error() != nil {
			log.Printf("[ERROR] MQTTSource: subscribe %s failed: %v", s.cfg.Topic, token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Printf("[WARN] MQTTSource: connection lost: %v", err)
	})

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return fmt.Errorf("mqtt connect to %s timed out", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (s *MQTTSource) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func (s *MQTTSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	ev, ok := s.decode(msg.Payload())
	if !ok {
		return
	}

	if s.dedup.IsDuplicate(ev.DedupKey) {
		metrics.RecordEventDeduped("mqtt")
		return
	}

	metrics.RecordEventReceived("mqtt", string(ev.TriggerKind))
	s.handler(ev)
}

// decode maps one NVR payload to a DetectionEvent, or reports it as
// uninteresting (update/end phases, malformed JSON).
func (s *MQTTSource) decode(payload []byte) (*DetectionEvent, bool) {
	var raw nvrEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		log.Printf("[WARN] MQTTSource: bad payload: %v", err)
		return nil, false
	}
	if raw.Type != "new" {
		return nil, false
	}

	st := raw.After
	if st.ID == "" {
		st = raw.Before
	}
	if st.Camera == "" {
		log.Printf("[WARN] MQTTSource: event %q has no camera", st.ID)
		return nil, false
	}

	sec, frac := int64(st.StartTime), st.StartTime-float64(int64(st.StartTime))
	occurred := time.Unix(sec, int64(frac*1e9)).UTC()

	ev := &DetectionEvent{
		EventID:     uuid.New(),
		Source:      "mqtt",
		CameraID:    st.Camera,
		TriggerKind: TriggerSmart,
		RawHint:     st.Label,
		OccurredAt:  occurred,
		ReceivedAt:  time.Now().UTC(),
	}
	if st.Label == "" {
		ev.TriggerKind = TriggerMotion
	}
	if s.cfg.APIBaseURL != "" {
		if st.HasSnapshot {
			ev.Evidence.SnapshotURL = fmt.Sprintf("%s/api/events/%s/snapshot.jpg", s.cfg.APIBaseURL, st.ID)
		}
		if st.HasClip {
			ev.Evidence.ClipURL = fmt.Sprintf("%s/api/events/%s/clip.mp4", s.cfg.APIBaseURL, st.ID)
		}
	}
	ev.DedupKey = BuildDedupKey(ev.Source, ev.CameraID, ev.TriggerKind, ev.OccurredAt)
	return ev, true
}
