package notify

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/vigilops/vigil-core/internal/metrics"
	"github.com/vigilops/vigil-core/internal/rules"
)

// Dispatcher executes a firing's actions concurrently. One failing
// action never blocks or fails the others; every outcome is reported
// for the delivery log.
type Dispatcher struct {
	webhooks *WebhookSender
	hub      *Hub
	push     *PushRelay
}

func NewDispatcher(webhooks *WebhookSender, hub *Hub, push *PushRelay) *Dispatcher {
	return &Dispatcher{webhooks: webhooks, hub: hub, push: push}
}

func (d *Dispatcher) Dispatch(ctx context.Context, f rules.Firing) []rules.ExecutedAction {
	out := make([]rules.ExecutedAction, len(f.Rule.Actions))

	var g errgroup.Group
	for i, action := range f.Rule.Actions {
		g.Go(func() error {
			err := d.deliver(ctx, action, f)

			out[i] = rules.ExecutedAction{
				RuleID:    f.Rule.ID,
				RuleName:  f.Rule.Name,
				Action:    action,
				Delivered: err == nil,
			}
			if err != nil {
				out[i].Error = err.Error()
				metrics.RecordActionDelivery(action.Channel, "failure")
				log.Printf("[WARN] Dispatcher: rule %q %s action failed: %v", f.Rule.Name, action.Channel, err)
			} else {
				metrics.RecordActionDelivery(action.Channel, "success")
			}
			return nil
		})
	}
	g.Wait()
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, action rules.Action, f rules.Firing) error {
	payload := payloadFor(f)

	switch action.Channel {
	case rules.ChannelBroadcast:
		if d.hub == nil {
			return fmt.Errorf("broadcast channel unavailable")
		}
		d.hub.Broadcast(AlertMessage{
			Type:     "alert",
			RuleID:   f.Rule.ID,
			RuleName: f.Rule.Name,
			GroupID:  f.GroupID,
			Event:    payload,
		})
		return nil

	case rules.ChannelWebhook:
		if d.webhooks == nil {
			return fmt.Errorf("webhook channel unavailable")
		}
		return d.webhooks.Send(ctx, action.URL, action.Headers, payload)

	case rules.ChannelPush:
		if d.push == nil {
			return fmt.Errorf("push channel unavailable")
		}
		title := fmt.Sprintf("Vigil: %s", f.Rule.Name)
		return d.push.Send(action.Target, title, f.Result.Description)

	default:
		return fmt.Errorf("unknown action channel %q", action.Channel)
	}
}
