package pipeline

import (
	"fmt"
	"strings"

	"github.com/vigilops/vigil-core/internal/cameraconf"
	"github.com/vigilops/vigil-core/internal/event"
)

// buildPrompt assembles the analysis instruction for one event. Every
// adapter passes it through verbatim, so the JSON contract the parser
// expects is spelled out here once.
func buildPrompt(set cameraconf.Settings, ev *event.DetectionEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing security camera footage from %q.", set.DisplayName)

	switch ev.TriggerKind {
	case event.TriggerDoorbell:
		b.WriteString(" The doorbell was pressed.")
	case event.TriggerManual:
		b.WriteString(" An operator requested this review.")
	}
	if ev.RawHint != "" {
		fmt.Fprintf(&b, " The capture layer pre-classified the trigger as %q; verify rather than assume.", ev.RawHint)
	}

	b.WriteString(" Describe what is happening in one or two sentences," +
		" estimate your confidence between 0 and 1, and list the object" +
		" types you can identify (e.g. person, car, dog, package).")
	b.WriteString(` Reply with JSON only: {"description": "...", "confidence": 0.0, "object_types": ["..."]}`)
	return b.String()
}
