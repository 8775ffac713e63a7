// Package pipeline runs detection events through the full analysis
// chain: camera settings, evidence acquisition, provider routing,
// correlation, rule evaluation and result hand-off. Each camera gets
// its own FIFO queue so one noisy camera cannot reorder or starve
// another; a global semaphore bounds simultaneous analyses.
package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vigilops/vigil-core/internal/analysis"
	"github.com/vigilops/vigil-core/internal/cameraconf"
	"github.com/vigilops/vigil-core/internal/correlate"
	"github.com/vigilops/vigil-core/internal/event"
	"github.com/vigilops/vigil-core/internal/evidence"
	"github.com/vigilops/vigil-core/internal/journal"
	"github.com/vigilops/vigil-core/internal/metrics"
	"github.com/vigilops/vigil-core/internal/provider"
	"github.com/vigilops/vigil-core/internal/rules"
)

type Config struct {
	PerCameraInflight int // analyses running at once per camera
	MaxInflight       int // analyses running at once overall
}

// Deps carries the pipeline's collaborators. Sink, Latest and Journal
// may be nil; those stages are then skipped.
type Deps struct {
	Resolver   *cameraconf.Resolver
	Acquirer   *evidence.Acquirer
	Router     *analysis.Router
	Correlator *correlate.Service
	Engine     *rules.Engine
	Journal    *journal.Service
	Sink       ResultSink
	Latest     LatestStore
	Adapters   map[string]provider.Adapter
}

type Pipeline struct {
	deps      Deps
	perCamera int
	sem       chan struct{}

	mu      sync.Mutex
	queues  map[string]*cameraQueue
	stopped bool

	depth   atomic.Int64
	baseCtx context.Context
	stop    chan struct{}
	wg      sync.WaitGroup
	now     func() time.Time
}

func New(deps Deps, cfg Config) *Pipeline {
	if cfg.PerCameraInflight <= 0 {
		cfg.PerCameraInflight = 1
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 8
	}
	return &Pipeline{
		deps:      deps,
		perCamera: cfg.PerCameraInflight,
		sem:       make(chan struct{}, cfg.MaxInflight),
		queues:    make(map[string]*cameraQueue),
		baseCtx:   context.Background(),
		stop:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start pins the context all event processing derives from. Workers
// spawn lazily per camera on first event.
func (p *Pipeline) Start(ctx context.Context) {
	p.baseCtx = ctx
}

// Stop refuses new events and waits for in-flight analyses to finish.
// Queued events are abandoned; the at-least-once sources re-deliver
// them after restart.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stop)
	p.wg.Wait()
}

// HandleEvent enqueues one detection event on its camera's FIFO queue.
// It is the Handler given to the NATS/MQTT sources and the manual
// trigger endpoint.
func (p *Pipeline) HandleEvent(ev *event.DetectionEvent) {
	if ev == nil {
		return
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		log.Printf("[WARN] Pipeline: dropping event %s, shutting down", ev.EventID)
		return
	}
	q, ok := p.queues[ev.CameraID]
	if !ok {
		q = &cameraQueue{wake: make(chan struct{}, 1)}
		p.queues[ev.CameraID] = q
		for i := 0; i < p.perCamera; i++ {
			p.wg.Add(1)
			go p.worker(q)
		}
	}
	p.mu.Unlock()

	q.push(ev)
	metrics.SetQueueDepth(int(p.depth.Add(1)))
}

// QueueDepth reports events waiting across all cameras.
func (p *Pipeline) QueueDepth() int {
	return int(p.depth.Load())
}

type cameraQueue struct {
	mu      sync.Mutex
	pending []*event.DetectionEvent
	wake    chan struct{}
}

func (q *cameraQueue) push(ev *event.DetectionEvent) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *cameraQueue) pop() *event.DetectionEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	ev := q.pending[0]
	q.pending = q.pending[1:]
	return ev
}

func (p *Pipeline) worker(q *cameraQueue) {
	defer p.wg.Done()
	for {
		ev := q.pop()
		if ev == nil {
			select {
			case <-q.wake:
				continue
			case <-p.stop:
				return
			}
		}
		metrics.SetQueueDepth(int(p.depth.Add(-1)))

		select {
		case p.sem <- struct{}{}:
		case <-p.stop:
			return
		}
		p.process(p.baseCtx, ev)
		<-p.sem
	}
}

func (p *Pipeline) process(ctx context.Context, ev *event.DetectionEvent) {
	started := p.now()

	set := p.deps.Resolver.Resolve(ctx, ev.CameraID)
	if !set.Enabled {
		metrics.RecordOutcome("camera_disabled")
		log.Printf("[INFO] Pipeline: dropping event %s, camera %s disabled", ev.EventID, ev.CameraID)
		return
	}
	if ev.Evidence.SnapshotURL == "" {
		ev.Evidence.SnapshotURL = set.SnapshotURL
	}
	if ev.Evidence.ClipURL == "" {
		ev.Evidence.ClipURL = set.ClipURL
	}

	mode, capNote := p.deps.Router.PlanMode(set.Mode)
	var trail []string
	if capNote != "" {
		trail = append(trail, capNote)
	}

	acquireStart := p.now()
	evd, acqTrail, err := p.deps.Acquirer.Acquire(ctx, ev, mode, set.FrameCount)
	metrics.RecordStageLatency("acquire", p.msSince(acquireStart))
	trail = append(trail, acqTrail...)
	if err != nil {
		metrics.RecordOutcome("acquisition_failure")
		log.Printf("[ERROR] Pipeline: evidence acquisition failed for event %s: %v", ev.EventID, err)
		p.journalWrite(ctx, journal.AcquisitionFailure(ev.EventID, ev.CameraID, append(trail, err.Error())))
		return
	}

	req := analysis.Request{
		Event: analysis.RequestEvent{
			EventID:    ev.EventID,
			CameraID:   ev.CameraID,
			OccurredAt: ev.OccurredAt,
		},
		Evidence:  evd,
		Mode:      evidence.ModeForKind(evd.Kind),
		Trail:     trail,
		Providers: p.chainFor(set.ProviderOrder),
		Prompt:    buildPrompt(set, ev),
		Reacquire: func(ctx context.Context, m evidence.Mode) (*evidence.Evidence, []string, error) {
			return p.deps.Acquirer.Acquire(ctx, ev, m, set.FrameCount)
		},
	}

	analyzeStart := p.now()
	res, err := p.deps.Router.Analyze(ctx, req)
	metrics.RecordStageLatency("analyze", p.msSince(analyzeStart))
	if err != nil {
		var exhausted *analysis.ExhaustedError
		if errors.As(err, &exhausted) {
			metrics.RecordOutcome("provider_exhausted")
			log.Printf("[ERROR] Pipeline: event %s unanalyzable: %v", ev.EventID, err)
			p.journalWrite(ctx, journal.ProviderExhausted(ev.EventID, ev.CameraID, exhausted.Trail))
			return
		}
		metrics.RecordOutcome("analysis_error")
		log.Printf("[ERROR] Pipeline: analysis failed for event %s: %v", ev.EventID, err)
		return
	}

	if gid := p.deps.Correlator.Correlate(res); gid != nil {
		res.GroupID = gid
		p.announceGroup(ctx, res, *gid)
	}

	p.publish(ctx, res)
	p.deps.Engine.Evaluate(ctx, res, ev, res.GroupID)

	metrics.RecordOutcome("analyzed")
	metrics.RecordStageLatency("total", p.msSince(started))
}

// chainFor maps a camera's provider order onto the constructed
// adapters, skipping names the deployment never configured.
func (p *Pipeline) chainFor(order []string) []provider.Adapter {
	chain := make([]provider.Adapter, 0, len(order))
	for _, name := range order {
		a, ok := p.deps.Adapters[name]
		if !ok {
			log.Printf("[WARN] Pipeline: provider %q in camera order but not configured, skipping", name)
			continue
		}
		chain = append(chain, a)
	}
	return chain
}

func (p *Pipeline) announceGroup(ctx context.Context, res *analysis.Result, gid uuid.UUID) {
	g, ok := p.deps.Correlator.GroupByID(gid)
	if !ok {
		return
	}

	if p.deps.Sink != nil {
		if err := p.deps.Sink.PublishGroup(&g); err != nil {
			log.Printf("[ERROR] Pipeline: group hand-off failed for %s: %v", g.GroupID, err)
		}
	}
	p.journalWrite(ctx, journal.CorrelationGrouped(res.EventID, res.CameraID, g.GroupID, g.Cameras))

	// Earlier members were cached before the group existed; patch them.
	if p.deps.Latest != nil {
		for _, camera := range g.Cameras {
			if camera == res.CameraID {
				continue
			}
			if err := p.deps.Latest.BackfillGroup(ctx, camera, g.MemberEventIDs, g.GroupID); err != nil {
				log.Printf("[WARN] Pipeline: group backfill failed for %s: %v", camera, err)
			}
		}
	}
}

func (p *Pipeline) publish(ctx context.Context, res *analysis.Result) {
	publishStart := p.now()
	if p.deps.Sink != nil {
		if err := p.deps.Sink.PublishResult(res); err != nil {
			log.Printf("[ERROR] Pipeline: result hand-off failed for event %s: %v", res.EventID, err)
		}
	}
	if p.deps.Latest != nil {
		if err := p.deps.Latest.SetLatest(ctx, res); err != nil {
			log.Printf("[WARN] Pipeline: latest cache update failed for %s: %v", res.CameraID, err)
		}
	}
	metrics.RecordStageLatency("publish", p.msSince(publishStart))
}

func (p *Pipeline) journalWrite(ctx context.Context, e journal.Entry) {
	if p.deps.Journal == nil {
		return
	}
	if err := p.deps.Journal.Write(ctx, e); err != nil {
		log.Printf("[ERROR] Pipeline: journal entry lost: %v", err)
	}
}

func (p *Pipeline) msSince(t time.Time) float64 {
	return float64(p.now().Sub(t).Milliseconds())
}
