package analysis

import (
	"time"

	"github.com/google/uuid"

	"github.com/vigilops/vigil-core/internal/evidence"
)

// Result is the uniform outcome of one analyzed event, whichever
// provider and tier produced it. Handed immutably down the pipeline;
// GroupID is the one field filled in later, by correlation.
type Result struct {
	EventID             uuid.UUID     `json:"event_id"`
	CameraID            string        `json:"camera_id"`
	OccurredAt          time.Time     `json:"occurred_at"`
	CompletedAt         time.Time     `json:"completed_at"`
	Description         string        `json:"description"`
	Confidence          float64       `json:"confidence"`
	TokensUsed          int           `json:"tokens_used"`
	CostEstimateUSD     float64       `json:"cost_estimate_usd"`
	ProviderUsed        string        `json:"provider_used"`
	ModeUsed            evidence.Mode `json:"mode_used"`
	FallbackReason      string        `json:"fallback_reason,omitempty"`
	DetectedObjectTypes []string      `json:"detected_object_types"`
	GroupID             *uuid.UUID    `json:"group_id,omitempty"`
}
