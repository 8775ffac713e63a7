package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// modelOutput is the JSON shape every adapter prompts its model for.
type modelOutput struct {
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	ObjectTypes []string `json:"object_types"`
}

// ParseModelReply extracts the structured result from a model reply.
// Models wrap JSON in fences or prose often enough that we scan for the
// outermost object; a reply with no JSON at all becomes a plain
// description with guarded confidence.
func ParseModelReply(text string) (*RawResult, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("empty model reply")
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		var out modelOutput
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &out); err == nil && out.Description != "" {
			return &RawResult{
				Description: strings.TrimSpace(out.Description),
				Confidence:  clampConfidence(out.Confidence),
				ObjectTypes: normalizeObjectTypes(out.ObjectTypes),
			}, nil
		}
	}

	// Prose fallback
	return &RawResult{
		Description: trimmed,
		Confidence:  0.5,
	}, nil
}

func clampConfidence(c float64) float64 {
	if c > 1 {
		// Some models answer in percent.
		if c <= 100 {
			c = c / 100
		} else {
			c = 1
		}
	}
	if c < 0 {
		c = 0
	}
	return c
}

func normalizeObjectTypes(types []string) []string {
	seen := make(map[string]bool, len(types))
	out := make([]string, 0, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
