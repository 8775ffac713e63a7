package provider

import (
	"context"

	"github.com/vigilops/vigil-core/internal/evidence"
)

// DefaultTimeout is the HTTP client ceiling in seconds; per-call
// deadlines from the router are shorter.
const DefaultTimeout = 30

// RawResult is what one provider invocation yields before the router
// wraps it into an AnalysisResult.
type RawResult struct {
	Description string
	Confidence  float64
	ObjectTypes []string
	TokensUsed  int
}

// The core Adapter interface. One implementation per AI vision backend;
// the router never learns backend specifics beyond this contract.
type Adapter interface {
	// Invoke analyzes the evidence with a bounded deadline on ctx
	Invoke(ctx context.Context, ev *evidence.Evidence, prompt string) (*RawResult, error)

	// Supports reports whether the backend accepts this evidence shape
	Supports(kind evidence.Kind) bool

	// CostPer1KTokens is the blended USD rate used for estimates
	CostPer1KTokens() float64

	// Name string (openai, gemini, ollama)
	Name() string
}
