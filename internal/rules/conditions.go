package rules

import (
	"strings"
	"time"

	"github.com/vigilops/vigil-core/internal/analysis"
	"github.com/vigilops/vigil-core/internal/event"
)

// Matches evaluates the conjunction as a pure predicate. at carries the
// wall clock the time-of-day and weekday members are judged in.
func (c *Conditions) Matches(res *analysis.Result, ev *event.DetectionEvent, at time.Time) bool {
	if len(c.Cameras) > 0 && !containsFold(c.Cameras, ev.CameraID) {
		return false
	}
	if len(c.ObjectTypes) > 0 && !anyTypeMatches(c.ObjectTypes, res.DetectedObjectTypes) {
		return false
	}
	if c.MinConfidence > 0 && res.Confidence < c.MinConfidence {
		return false
	}
	if c.Keyword != "" && !strings.Contains(strings.ToLower(res.Description), strings.ToLower(c.Keyword)) {
		return false
	}
	if c.days != nil && !c.days[at.Weekday()] {
		return false
	}
	if c.TimeOfDay != nil && !c.TimeOfDay.contains(at) {
		return false
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// anyTypeMatches is the OR within object_types: one overlap suffices.
func anyTypeMatches(wanted, detected []string) bool {
	for _, w := range wanted {
		for _, d := range detected {
			if strings.EqualFold(w, d) {
				return true
			}
		}
	}
	return false
}
