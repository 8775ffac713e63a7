package pipeline

import (
	"context"
	"log"

	"github.com/vigilops/vigil-core/internal/journal"
	"github.com/vigilops/vigil-core/internal/rules"
)

// journaledDispatcher wraps the real dispatcher so every firing and
// every per-action outcome lands in the journal, including firings
// whose rules carry no actions.
type journaledDispatcher struct {
	inner   rules.ActionDispatcher
	journal *journal.Service
}

func NewJournaledDispatcher(inner rules.ActionDispatcher, j *journal.Service) rules.ActionDispatcher {
	return &journaledDispatcher{inner: inner, journal: j}
}

func (d *journaledDispatcher) Dispatch(ctx context.Context, f rules.Firing) []rules.ExecutedAction {
	d.write(ctx, journal.RuleFired(f.Event.EventID, f.Event.CameraID, f.Rule.ID, f.Rule.Name))

	execs := d.inner.Dispatch(ctx, f)
	for _, ex := range execs {
		d.write(ctx, journal.ActionDelivery(
			f.Event.EventID, f.Event.CameraID, ex.RuleName, ex.Action.Channel, ex.Delivered, ex.Error))
	}
	return execs
}

func (d *journaledDispatcher) write(ctx context.Context, e journal.Entry) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Write(ctx, e); err != nil {
		log.Printf("[ERROR] Pipeline: journal entry lost: %v", err)
	}
}
