package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil-core/internal/analysis"
	"github.com/vigilops/vigil-core/internal/cameraconf"
	"github.com/vigilops/vigil-core/internal/config"
	"github.com/vigilops/vigil-core/internal/correlate"
	"github.com/vigilops/vigil-core/internal/costs"
	"github.com/vigilops/vigil-core/internal/data"
	"github.com/vigilops/vigil-core/internal/event"
	"github.com/vigilops/vigil-core/internal/evidence"
	"github.com/vigilops/vigil-core/internal/journal"
	"github.com/vigilops/vigil-core/internal/provider"
	"github.com/vigilops/vigil-core/internal/rules"
)

type stubSource struct {
	mu        sync.Mutex
	snapCalls int
	snapErr   error
	clipErr   error
	blockCam  string
	release   chan struct{}
}

func (s *stubSource) FetchSnapshot(ctx context.Context, ev *event.DetectionEvent) ([]byte, error) {
	s.mu.Lock()
	s.snapCalls++
	block := s.blockCam != "" && s.blockCam == ev.CameraID
	s.mu.Unlock()

	if block {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.snapErr != nil {
		return nil, s.snapErr
	}
	return []byte("jpeg-bytes"), nil
}

func (s *stubSource) FetchClip(ctx context.Context, ev *event.DetectionEvent) ([]byte, error) {
	if s.clipErr != nil {
		return nil, s.clipErr
	}
	return []byte("clip-bytes"), nil
}

func (s *stubSource) snapshots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapCalls
}

type stubExtractor struct{}

func (stubExtractor) ExtractFrames(ctx context.Context, clip []byte, maxCandidates int) ([][]byte, error) {
	return [][]byte{[]byte("f1"), []byte("f2")}, nil
}

type fakeAdapter struct {
	name  string
	err   error
	delay time.Duration
}

func (a *fakeAdapter) Invoke(ctx context.Context, ev *evidence.Evidence, prompt string) (*provider.RawResult, error) {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.err != nil {
		return nil, a.err
	}
	return &provider.RawResult{
		Description: "a person is at the door",
		Confidence:  0.9,
		ObjectTypes: []string{"person"},
		TokensUsed:  500,
	}, nil
}

func (a *fakeAdapter) Supports(evidence.Kind) bool { return true }
func (a *fakeAdapter) CostPer1KTokens() float64    { return 0.002 }
func (a *fakeAdapter) Name() string                { return a.name }

type stubCosts struct{}

func (stubCosts) Summary() costs.Summary {
	return costs.Summary{DailyCapUSD: 10, MonthlyCapUSD: 100, WithinCap: true}
}
func (stubCosts) Record(context.Context, string, string, string, int64, float64) error {
	return nil
}

type memorySink struct {
	mu      sync.Mutex
	results []*analysis.Result
	groups  []*correlate.Group
}

func (s *memorySink) PublishResult(res *analysis.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *res
	s.results = append(s.results, &cp)
	return nil
}

func (s *memorySink) PublishGroup(g *correlate.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = append(s.groups, g)
	return nil
}

func (s *memorySink) resultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func (s *memorySink) resultIDs() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, len(s.results))
	for i, r := range s.results {
		ids[i] = r.EventID
	}
	return ids
}

type memoryLatest struct {
	mu       sync.Mutex
	byCamera map[string]*analysis.Result
}

func newMemoryLatest() *memoryLatest {
	return &memoryLatest{byCamera: make(map[string]*analysis.Result)}
}

func (m *memoryLatest) SetLatest(_ context.Context, res *analysis.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *res
	m.byCamera[res.CameraID] = &cp
	return nil
}

func (m *memoryLatest) GetLatest(_ context.Context, cameraID string) (*analysis.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byCamera[cameraID], nil
}

func (m *memoryLatest) BackfillGroup(_ context.Context, cameraID string, members []uuid.UUID, groupID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.byCamera[cameraID]
	if !ok || res.GroupID != nil {
		return nil
	}
	for _, mem := range members {
		if mem == res.EventID {
			res.GroupID = &groupID
		}
	}
	return nil
}

func (m *memoryLatest) groupFor(cameraID string) *uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.byCamera[cameraID]; ok {
		return res.GroupID
	}
	return nil
}

type harness struct {
	p      *Pipeline
	source *stubSource
	sink   *memorySink
	latest *memoryLatest
	jmock  sqlmock.Sqlmock
}

// newHarness wires a pipeline from real components over stubs: unknown
// cameras resolve to single_frame defaults, one fake provider, no
// alert rules.
func newHarness(t *testing.T, cfg Config, tweak func(*Deps, *stubSource)) *harness {
	t.Helper()

	rdb, rmock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })
	rmock.MatchExpectationsInOrder(false)
	for i := 0; i < 8; i++ {
		rmock.ExpectQuery("SELECT (.+) FROM camera_configs").WillReturnError(sql.ErrNoRows)
	}

	jdb, jmock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { jdb.Close() })
	jmock.MatchExpectationsInOrder(false)

	edb, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { edb.Close() })

	source := &stubSource{release: make(chan struct{})}
	sink := &memorySink{}
	latest := newMemoryLatest()

	deps := Deps{
		Resolver: cameraconf.NewResolver(
			data.CameraConfigModel{DB: rdb},
			config.CameraDefaults{AnalysisMode: "single_frame", FrameCount: 1},
			[]string{"fake"},
			time.Minute,
		),
		Acquirer:   evidence.NewAcquirer(source, stubExtractor{}, time.Second),
		Router:     analysis.NewRouter(stubCosts{}, time.Second),
		Correlator: correlate.NewService(config.CorrelationConfig{WindowSeconds: 10}),
		Engine:     rules.NewEngine(data.AlertRuleModel{DB: edb}, nil),
		Journal:    journal.NewService(jdb, nil),
		Sink:       sink,
		Latest:     latest,
		Adapters:   map[string]provider.Adapter{"fake": &fakeAdapter{name: "fake", delay: 2 * time.Millisecond}},
	}
	if tweak != nil {
		tweak(&deps, source)
	}

	p := New(deps, cfg)
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	return &harness{p: p, source: source, sink: sink, latest: latest, jmock: jmock}
}

func detection(camera string, at time.Time) *event.DetectionEvent {
	ev := &event.DetectionEvent{
		EventID:     uuid.New(),
		Source:      "nats",
		CameraID:    camera,
		TriggerKind: event.TriggerMotion,
		OccurredAt:  at,
		ReceivedAt:  at,
		Evidence:    event.EvidenceRefs{SnapshotURL: "http://cap/" + camera + "/snap.jpg"},
	}
	ev.DedupKey = event.BuildDedupKey(ev.Source, camera, ev.TriggerKind, at)
	return ev
}

func TestSameCameraProcessesInArrivalOrder(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	at := time.Now().UTC()
	var want []uuid.UUID
	for i := 0; i < 5; i++ {
		ev := detection("front_door", at.Add(time.Duration(i)*time.Millisecond))
		want = append(want, ev.EventID)
		h.p.HandleEvent(ev)
	}

	require.Eventually(t, func() bool { return h.sink.resultCount() == 5 },
		3*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, h.sink.resultIDs())
	assert.Equal(t, 0, h.p.QueueDepth())
}

func TestSlowCameraDoesNotStallOthers(t *testing.T) {
	h := newHarness(t, Config{MaxInflight: 4}, func(d *Deps, s *stubSource) {
		s.blockCam = "slow_cam"
	})

	at := time.Now().UTC()
	slow := detection("slow_cam", at)
	fast := detection("fast_cam", at.Add(time.Millisecond))
	h.p.HandleEvent(slow)
	h.p.HandleEvent(fast)

	require.Eventually(t, func() bool { return h.sink.resultCount() == 1 },
		3*time.Second, 10*time.Millisecond)
	assert.Equal(t, fast.EventID, h.sink.resultIDs()[0])

	close(h.source.release)
	require.Eventually(t, func() bool { return h.sink.resultCount() == 2 },
		3*time.Second, 10*time.Millisecond)
}

func TestDisabledCameraIsDropped(t *testing.T) {
	rdb, rmock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })
	rows := sqlmock.NewRows([]string{"camera_id", "display_name", "enabled", "analysis_mode",
		"frame_count", "provider_order", "snapshot_url", "clip_url", "updated_at"}).
		AddRow("dark_cam", "Dark", false, "single_frame", 1, "{}", "", "", time.Now())
	rmock.ExpectQuery("SELECT (.+) FROM camera_configs").WillReturnRows(rows)

	h := newHarness(t, Config{}, func(d *Deps, s *stubSource) {
		d.Resolver = cameraconf.NewResolver(
			data.CameraConfigModel{DB: rdb},
			config.CameraDefaults{AnalysisMode: "single_frame", FrameCount: 1},
			[]string{"fake"}, time.Minute)
	})

	h.p.HandleEvent(detection("dark_cam", time.Now().UTC()))

	assert.Never(t, func() bool { return h.source.snapshots() > 0 },
		200*time.Millisecond, 20*time.Millisecond)
	assert.Equal(t, 0, h.sink.resultCount())
}

func TestAcquisitionFailureLandsInJournal(t *testing.T) {
	h := newHarness(t, Config{}, func(d *Deps, s *stubSource) {
		s.snapErr = fmt.Errorf("HTTP 404")
	})

	h.jmock.ExpectExec("INSERT INTO pipeline_journal").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "front_door", "acquisition_failure",
			"failure", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ev := detection("front_door", time.Now().UTC())
	ev.Evidence.ClipURL = "" // no clip to fall back on
	h.p.HandleEvent(ev)

	require.Eventually(t, func() bool { return h.jmock.ExpectationsWereMet() == nil },
		3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.sink.resultCount())
}

func TestProviderExhaustionLandsInJournal(t *testing.T) {
	h := newHarness(t, Config{}, func(d *Deps, s *stubSource) {
		d.Adapters = map[string]provider.Adapter{
			"fake": &fakeAdapter{name: "fake", err: fmt.Errorf("model overloaded")},
		}
	})

	h.jmock.ExpectExec("INSERT INTO pipeline_journal").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "front_door", "provider_exhausted",
			"failure", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	h.p.HandleEvent(detection("front_door", time.Now().UTC()))

	require.Eventually(t, func() bool { return h.jmock.ExpectationsWereMet() == nil },
		3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.sink.resultCount())
}

func TestSuccessPublishesAndCachesLatest(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	ev := detection("front_door", time.Now().UTC())
	h.p.HandleEvent(ev)

	require.Eventually(t, func() bool {
		cached, _ := h.latest.GetLatest(context.Background(), "front_door")
		return h.sink.resultCount() == 1 && cached != nil
	}, 3*time.Second, 10*time.Millisecond)

	h.sink.mu.Lock()
	res := h.sink.results[0]
	h.sink.mu.Unlock()
	assert.Equal(t, ev.EventID, res.EventID)
	assert.Equal(t, "a person is at the door", res.Description)
	assert.Equal(t, "fake", res.ProviderUsed)
	assert.Equal(t, evidence.ModeSingleFrame, res.ModeUsed)

	cached, err := h.latest.GetLatest(context.Background(), "front_door")
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, cached.EventID)
}

func TestCorrelatedCamerasShareGroup(t *testing.T) {
	h := newHarness(t, Config{MaxInflight: 4}, nil)

	at := time.Now().UTC()
	first := detection("front_door", at)
	h.p.HandleEvent(first)
	require.Eventually(t, func() bool { return h.sink.resultCount() == 1 },
		3*time.Second, 10*time.Millisecond)

	second := detection("driveway", at.Add(2*time.Second))
	h.p.HandleEvent(second)
	require.Eventually(t, func() bool { return h.sink.resultCount() == 2 },
		3*time.Second, 10*time.Millisecond)

	h.sink.mu.Lock()
	groups := len(h.sink.groups)
	secondGid := h.sink.results[1].GroupID
	h.sink.mu.Unlock()

	require.Equal(t, 1, groups, "one group published")
	require.NotNil(t, secondGid)

	firstGid := h.latest.groupFor("front_door")
	require.NotNil(t, firstGid, "first camera's cached result patched")
	assert.Equal(t, *secondGid, *firstGid)
}

func TestJournaledDispatcherRecordsFiringAndOutcomes(t *testing.T) {
	jdb, jmock, err := sqlmock.New()
	require.NoError(t, err)
	defer jdb.Close()

	jmock.ExpectExec("INSERT INTO pipeline_journal").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "front_door", "rule_fired",
			"success", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	jmock.ExpectExec("INSERT INTO pipeline_journal").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "front_door", "action_delivery",
			"success", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	jmock.ExpectExec("INSERT INTO pipeline_journal").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "front_door", "action_delivery",
			"failure", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rule := &rules.Rule{ID: uuid.New(), Name: "person at night"}
	inner := &stubRuleDispatcher{execs: []rules.ExecutedAction{
		{RuleID: rule.ID, RuleName: rule.Name, Action: rules.Action{Channel: rules.ChannelBroadcast}, Delivered: true},
		{RuleID: rule.ID, RuleName: rule.Name, Action: rules.Action{Channel: rules.ChannelWebhook}, Delivered: false, Error: "HTTP 500"},
	}}

	d := NewJournaledDispatcher(inner, journal.NewService(jdb, nil))
	ev := detection("front_door", time.Now().UTC())
	out := d.Dispatch(context.Background(), rules.Firing{
		Rule:    rule,
		Result:  &analysis.Result{EventID: ev.EventID, CameraID: "front_door"},
		Event:   ev,
		FiredAt: time.Now(),
	})

	assert.Len(t, out, 2)
	assert.NoError(t, jmock.ExpectationsWereMet())
}

type stubRuleDispatcher struct {
	execs []rules.ExecutedAction
}

func (s *stubRuleDispatcher) Dispatch(context.Context, rules.Firing) []rules.ExecutedAction {
	return s.execs
}
