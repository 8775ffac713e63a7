// Package notify fans a fired rule out to its channels: in-app
// broadcast, webhook with retry, and push relay.
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/vigilops/vigil-core/internal/rules"
)

// WebhookPayload is the wire body POSTed to webhook actions.
type WebhookPayload struct {
	EventID             uuid.UUID `json:"event_id"`
	CameraID            string    `json:"camera_id"`
	Description         string    `json:"description"`
	Confidence          float64   `json:"confidence"`
	DetectedObjectTypes []string  `json:"detected_object_types"`
	Timestamp           time.Time `json:"timestamp"`
}

// AlertMessage is the envelope pushed to stream clients.
type AlertMessage struct {
	Type     string         `json:"type"`
	RuleID   uuid.UUID      `json:"rule_id"`
	RuleName string         `json:"rule_name"`
	GroupID  *uuid.UUID     `json:"group_id,omitempty"`
	Event    WebhookPayload `json:"event"`
}

func payloadFor(f rules.Firing) WebhookPayload {
	return WebhookPayload{
		EventID:             f.Event.EventID,
		CameraID:            f.Event.CameraID,
		Description:         f.Result.Description,
		Confidence:          f.Result.Confidence,
		DetectedObjectTypes: f.Result.DetectedObjectTypes,
		Timestamp:           f.Event.OccurredAt,
	}
}
