package rules

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilops/vigil-core/internal/analysis"
	"github.com/vigilops/vigil-core/internal/data"
	"github.com/vigilops/vigil-core/internal/event"
	"github.com/vigilops/vigil-core/internal/metrics"
)

// Firing is what the dispatcher receives for one fired rule.
type Firing struct {
	Rule    *Rule
	Result  *analysis.Result
	Event   *event.DetectionEvent
	GroupID *uuid.UUID
	FiredAt time.Time
}

// ActionDispatcher delivers a firing's actions. The engine itself never
// does network I/O for actions.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, f Firing) []ExecutedAction
}

// ruleState serializes the cooldown gate for one rule. Condition check,
// cooldown check and the trigger update happen under one lock so two
// concurrent qualifying events cannot both fire.
type ruleState struct {
	mu            sync.Mutex
	rule          *Rule
	lastTriggered time.Time // zero means never
	triggerCount  int64
}

// tryFire is the whole Idle -> Triggered -> Idle transition.
func (st *ruleState) tryFire(now time.Time, match func(*Rule) bool) (fired, cooled bool, count int64) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if !match(st.rule) {
		return false, false, st.triggerCount
	}
	if !st.lastTriggered.IsZero() && now.Sub(st.lastTriggered) < st.rule.Cooldown {
		return false, true, st.triggerCount
	}

	st.lastTriggered = now
	st.triggerCount++
	return true, false, st.triggerCount
}

// Engine holds the enabled rule set and evaluates every finished result
// against it. Rules are independent; evaluation order carries no
// guarantee.
type Engine struct {
	repo       data.AlertRuleModel
	dispatcher ActionDispatcher

	mu     sync.RWMutex
	states map[uuid.UUID]*ruleState

	stopRefresh chan struct{}

	now func() time.Time
}

func NewEngine(repo data.AlertRuleModel, d ActionDispatcher) *Engine {
	return &Engine{
		repo:       repo,
		dispatcher: d,
		states:     make(map[uuid.UUID]*ruleState),
		now:        time.Now,
	}
}

// Refresh reloads enabled rules. Existing in-memory cooldown state wins
// over the persisted last_triggered_at when it is newer, so a failed
// write-back never reopens a cooldown.
func (e *Engine) Refresh(ctx context.Context) error {
	recs, err := e.repo.ListEnabled(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[uuid.UUID]*ruleState, len(recs))
	for _, rec := range recs {
		rule, err := FromRecord(rec)
		if err != nil {
			log.Printf("[ERROR] RuleEngine: skipping invalid rule %q: %v", rec.Name, err)
			continue
		}

		st := &ruleState{rule: rule, triggerCount: rec.TriggerCount}
		if rec.LastTriggeredAt != nil {
			st.lastTriggered = *rec.LastTriggeredAt
		}

		e.mu.RLock()
		prev, ok := e.states[rule.ID]
		e.mu.RUnlock()
		if ok {
			prev.mu.Lock()
			if prev.lastTriggered.After(st.lastTriggered) {
				st.lastTriggered = prev.lastTriggered
			}
			if prev.triggerCount > st.triggerCount {
				st.triggerCount = prev.triggerCount
			}
			prev.mu.Unlock()
		}
		fresh[rule.ID] = st
	}

	e.mu.Lock()
	e.states = fresh
	e.mu.Unlock()

	log.Printf("[INFO] RuleEngine: loaded %d enabled rules", len(fresh))
	return nil
}

// StartAutoRefresh reloads rules on an interval until Stop.
func (e *Engine) StartAutoRefresh(interval time.Duration) {
	e.mu.Lock()
	if e.stopRefresh != nil {
		e.mu.Unlock()
		return
	}
	e.stopRefresh = make(chan struct{})
	stop := e.stopRefresh
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := e.Refresh(ctx); err != nil {
					log.Printf("[ERROR] RuleEngine: periodic refresh: %v", err)
				}
				cancel()
			case <-stop:
				return
			}
		}
	}()
}

func (e *Engine) Stop() {
	e.mu.Lock()
	ch := e.stopRefresh
	e.stopRefresh = nil
	e.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Evaluate runs every enabled rule against one finished result. A rule
// still cooling down is skipped quietly; that is the normal outcome,
// not a failure. Action failures are reported in the returned list but
// never roll back the trigger update that already happened.
func (e *Engine) Evaluate(ctx context.Context, res *analysis.Result, ev *event.DetectionEvent, groupID *uuid.UUID) []ExecutedAction {
	e.mu.RLock()
	states := make([]*ruleState, 0, len(e.states))
	for _, st := range e.states {
		states = append(states, st)
	}
	e.mu.RUnlock()

	now := e.now()
	at := ev.OccurredAt.Local()

	var executed []ExecutedAction
	for _, st := range states {
		fired, cooled, count := st.tryFire(now, func(r *Rule) bool {
			return r.Conditions.Matches(res, ev, at)
		})
		if cooled {
			metrics.RecordCooldownSkip()
			continue
		}
		if !fired {
			continue
		}

		rule := st.rule
		metrics.RecordRuleTrigger()
		log.Printf("[INFO] RuleEngine: rule %q fired for camera %s (count=%d)", rule.Name, ev.CameraID, count)

		if err := e.repo.MarkTriggered(ctx, rule.ID, now, count); err != nil {
			log.Printf("[ERROR] RuleEngine: persisting trigger for rule %q: %v", rule.Name, err)
		}

		outcomes := e.dispatcher.Dispatch(ctx, Firing{
			Rule:    rule,
			Result:  res,
			Event:   ev,
			GroupID: groupID,
			FiredAt: now,
		})
		executed = append(executed, outcomes...)
	}
	return executed
}

// Snapshot reports the live rule set for the admin API.
func (e *Engine) Snapshot() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Rule, 0, len(e.states))
	for _, st := range e.states {
		out = append(out, st.rule)
	}
	return out
}
