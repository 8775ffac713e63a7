// Package rules evaluates user-authored alert rules against finished
// analysis results and enforces per-rule cooldowns.
package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vigilops/vigil-core/internal/data"
)

// Action channels understood by the dispatcher.
const (
	ChannelBroadcast = "broadcast"
	ChannelWebhook   = "webhook"
	ChannelPush      = "push"
)

// Action is one delivery a fired rule asks for.
type Action struct {
	Channel string            `json:"channel"`
	URL     string            `json:"url,omitempty"`     // webhook endpoint
	Headers map[string]string `json:"headers,omitempty"` // webhook extras
	Target  string            `json:"target,omitempty"`  // push service URL
}

func (a Action) Validate() error {
	switch a.Channel {
	case ChannelBroadcast:
	case ChannelWebhook:
		if a.URL == "" {
			return fmt.Errorf("webhook action missing url")
		}
	case ChannelPush:
		// Empty target falls back to the deployment's default push URLs.
	default:
		return fmt.Errorf("unknown action channel %q", a.Channel)
	}
	return nil
}

// TimeRange is a wall-clock window, "HH:MM" inclusive start, exclusive
// end. Start after end wraps midnight; equal bounds mean all day.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`

	startMin int
	endMin   int
}

func (t *TimeRange) compile() error {
	var err error
	if t.startMin, err = parseClock(t.Start); err != nil {
		return fmt.Errorf("time_of_day start: %w", err)
	}
	if t.endMin, err = parseClock(t.End); err != nil {
		return fmt.Errorf("time_of_day end: %w", err)
	}
	return nil
}

func (t *TimeRange) contains(at time.Time) bool {
	m := at.Hour()*60 + at.Minute()
	switch {
	case t.startMin == t.endMin:
		return true
	case t.startMin < t.endMin:
		return m >= t.startMin && m < t.endMin
	default: // wraps midnight
		return m >= t.startMin || m < t.endMin
	}
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	return h*60 + m, nil
}

// Conditions is a conjunction; each empty member is neutral.
type Conditions struct {
	ObjectTypes   []string   `json:"object_types,omitempty"` // OR within
	MinConfidence float64    `json:"min_confidence,omitempty"`
	TimeOfDay     *TimeRange `json:"time_of_day,omitempty"`
	DaysOfWeek    []string   `json:"days_of_week,omitempty"`
	Cameras       []string   `json:"cameras,omitempty"`
	Keyword       string     `json:"keyword,omitempty"` // substring on description

	days map[time.Weekday]bool
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func (c *Conditions) compile() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence %v outside [0,1]", c.MinConfidence)
	}
	if c.TimeOfDay != nil {
		if err := c.TimeOfDay.compile(); err != nil {
			return err
		}
	}
	if len(c.DaysOfWeek) > 0 {
		c.days = make(map[time.Weekday]bool, len(c.DaysOfWeek))
		for _, d := range c.DaysOfWeek {
			wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(d))]
			if !ok {
				return fmt.Errorf("unknown weekday %q", d)
			}
			c.days[wd] = true
		}
	}
	return nil
}

// Rule is the hydrated, validated form of a persisted alert rule.
type Rule struct {
	ID         uuid.UUID
	Name       string
	Enabled    bool
	Conditions Conditions
	Actions    []Action
	Cooldown   time.Duration
}

// FromRecord hydrates and validates a stored rule. A rule that fails
// here is skipped by the engine, never silently half-applied.
func FromRecord(rec *data.AlertRuleRecord) (*Rule, error) {
	r := &Rule{
		ID:       rec.ID,
		Name:     rec.Name,
		Enabled:  rec.Enabled,
		Cooldown: rec.Cooldown(),
	}

	if len(rec.ConditionsJSON) > 0 {
		if err := json.Unmarshal(rec.ConditionsJSON, &r.Conditions); err != nil {
			return nil, fmt.Errorf("rule %s conditions: %w", rec.ID, err)
		}
	}
	if err := r.Conditions.compile(); err != nil {
		return nil, fmt.Errorf("rule %s: %w", rec.ID, err)
	}

	if len(rec.ActionsJSON) > 0 {
		if err := json.Unmarshal(rec.ActionsJSON, &r.Actions); err != nil {
			return nil, fmt.Errorf("rule %s actions: %w", rec.ID, err)
		}
	}
	for i, a := range r.Actions {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("rule %s action %d: %w", rec.ID, i, err)
		}
	}
	return r, nil
}

// ExecutedAction is the engine's record of one attempted delivery.
type ExecutedAction struct {
	RuleID    uuid.UUID `json:"rule_id"`
	RuleName  string    `json:"rule_name"`
	Action    Action    `json:"action"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
}
