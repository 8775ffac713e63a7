package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil-core/internal/analysis"
	"github.com/vigilops/vigil-core/internal/event"
	"github.com/vigilops/vigil-core/internal/rules"
)

func testFiring(actions ...rules.Action) rules.Firing {
	at := time.Date(2026, 3, 14, 22, 5, 0, 0, time.UTC)
	eventID := uuid.New()
	return rules.Firing{
		Rule: &rules.Rule{
			ID:      uuid.New(),
			Name:    "person at night",
			Actions: actions,
		},
		Result: &analysis.Result{
			EventID:             eventID,
			CameraID:            "front_door",
			Description:         "a person is standing by the door",
			Confidence:          0.93,
			DetectedObjectTypes: []string{"person"},
		},
		Event: &event.DetectionEvent{
			EventID:    eventID,
			CameraID:   "front_door",
			OccurredAt: at,
		},
		FiredAt: at,
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *Hub) {
	t.Helper()
	s := NewWebhookSender(time.Second, 3)
	s.backoff = time.Millisecond
	httpmock.ActivateNonDefault(s.client)
	t.Cleanup(httpmock.DeactivateAndReset)

	hub := NewHub()
	t.Cleanup(hub.Close)
	return NewDispatcher(s, hub, NewPushRelay()), hub
}

func TestDispatch_WebhookSuccess(t *testing.T) {
	d, _ := newTestDispatcher(t)

	httpmock.RegisterResponder("POST", "https://hooks.example.com/alert",
		httpmock.NewStringResponder(200, "ok"))

	f := testFiring(rules.Action{Channel: rules.ChannelWebhook, URL: "https://hooks.example.com/alert"})
	out := d.Dispatch(context.Background(), f)

	require.Len(t, out, 1)
	assert.True(t, out[0].Delivered)
	assert.Empty(t, out[0].Error)
	assert.Equal(t, f.Rule.ID, out[0].RuleID)
	assert.Equal(t, "person at night", out[0].RuleName)
}

func TestDispatch_FailureDoesNotBlockOtherActions(t *testing.T) {
	d, _ := newTestDispatcher(t)

	httpmock.RegisterResponder("POST", "https://down.example.com/alert",
		httpmock.NewStringResponder(500, "boom"))

	f := testFiring(
		rules.Action{Channel: rules.ChannelWebhook, URL: "https://down.example.com/alert"},
		rules.Action{Channel: rules.ChannelBroadcast},
	)
	out := d.Dispatch(context.Background(), f)

	require.Len(t, out, 2)
	assert.False(t, out[0].Delivered)
	assert.Contains(t, out[0].Error, "HTTP 500")
	assert.True(t, out[1].Delivered)
}

func TestDispatch_BroadcastReachesStream(t *testing.T) {
	d, hub := newTestDispatcher(t)
	srv := newStreamServer(t, hub)
	conn := dialStream(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	out := d.Dispatch(context.Background(), testFiring(rules.Action{Channel: rules.ChannelBroadcast}))
	require.Len(t, out, 1)
	assert.True(t, out[0].Delivered)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "person at night")
	assert.Contains(t, string(raw), "front_door")
}

func TestDispatch_UnknownChannelReportsError(t *testing.T) {
	d, _ := newTestDispatcher(t)

	out := d.Dispatch(context.Background(), testFiring(rules.Action{Channel: "pager"}))
	require.Len(t, out, 1)
	assert.False(t, out[0].Delivered)
	assert.Contains(t, out[0].Error, "pager")
}

func TestDispatch_BadPushTargetReportsError(t *testing.T) {
	d, _ := newTestDispatcher(t)

	out := d.Dispatch(context.Background(), testFiring(rules.Action{Channel: rules.ChannelPush, Target: "::not-a-url::"}))
	require.Len(t, out, 1)
	assert.False(t, out[0].Delivered)
	assert.NotEmpty(t, out[0].Error)
}

func TestDispatch_NoActionsYieldsEmpty(t *testing.T) {
	d, _ := newTestDispatcher(t)

	out := d.Dispatch(context.Background(), testFiring())
	assert.Empty(t, out)
}
