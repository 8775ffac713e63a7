// Package correlate groups near-simultaneous results from distinct
// cameras into one logical incident.
package correlate

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilops/vigil-core/internal/analysis"
	"github.com/vigilops/vigil-core/internal/config"
	"github.com/vigilops/vigil-core/internal/metrics"
)

const DefaultWindow = 10 * time.Second

// Group is one incident spanning several cameras. Members stay in
// arrival order; all fall inside the window and no two share a camera
// requirement is enforced at membership time.
type Group struct {
	GroupID        uuid.UUID   `json:"group_id"`
	MemberEventIDs []uuid.UUID `json:"member_event_ids"`
	Cameras        []string    `json:"cameras"`
	WindowStart    time.Time   `json:"window_start"`
	WindowEnd      time.Time   `json:"window_end"`
}

type entry struct {
	eventID     uuid.UUID
	cameraID    string
	occurredAt  time.Time
	arrivedAt   time.Time
	objectTypes []string
	groupID     *uuid.UUID
}

// Service keeps the rolling buffer of recent results under one mutex;
// correctness depends on a consistent view across concurrent events
// from different cameras. It never blocks the pipeline: anything going
// wrong internally degrades to "no group".
type Service struct {
	mu      sync.Mutex
	window  time.Duration
	aliases map[string]string // label -> canonical class
	entries []*entry          // arrival order
	groups  map[uuid.UUID]*Group

	now func() time.Time
}

func NewService(cfg config.CorrelationConfig) *Service {
	window := time.Duration(cfg.WindowSeconds) * time.Second
	if window <= 0 {
		window = DefaultWindow
	}

	aliases := make(map[string]string)
	for class, labels := range cfg.Aliases {
		for _, l := range labels {
			aliases[strings.ToLower(l)] = strings.ToLower(class)
		}
	}

	return &Service{
		window:  window,
		aliases: aliases,
		groups:  make(map[uuid.UUID]*Group),
		now:     time.Now,
	}
}

// Correlate buffers the result and returns the incident it joined, or
// nil when nothing recent matches. Matching requires a different
// camera, occurred_at within the window, and a non-empty object-type
// intersection.
func (s *Service) Correlate(res *analysis.Result) (gid *uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] Correlation: swallowed internal error: %v", r)
			gid = nil
		}
	}()
	if res == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evict(now)

	types := s.canonical(res.DetectedObjectTypes)
	var match *entry
	for _, e := range s.entries {
		if e.cameraID == res.CameraID {
			continue
		}
		if absDelta(res.OccurredAt, e.occurredAt) > s.window {
			continue
		}
		if intersects(types, s.canonical(e.objectTypes)) {
			match = e
			break
		}
	}

	fresh := &entry{
		eventID:     res.EventID,
		cameraID:    res.CameraID,
		occurredAt:  res.OccurredAt,
		arrivedAt:   now,
		objectTypes: res.DetectedObjectTypes,
	}

	if match == nil {
		s.entries = append(s.entries, fresh)
		return nil
	}

	g := s.joinGroup(match, fresh)
	fresh.groupID = &g.GroupID
	s.entries = append(s.entries, fresh)

	id := g.GroupID
	return &id
}

// GroupForEvent reports the incident a buffered event belongs to. A
// result that was ungrouped on arrival resolves here once a later event
// pulls it into an incident.
func (s *Service) GroupForEvent(eventID uuid.UUID) *uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.eventID == eventID && e.groupID != nil {
			id := *e.groupID
			return &id
		}
	}
	return nil
}

// GroupByID returns a copy of a live incident.
func (s *Service) GroupByID(id uuid.UUID) (Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return Group{}, false
	}
	out := *g
	out.MemberEventIDs = append([]uuid.UUID(nil), g.MemberEventIDs...)
	out.Cameras = append([]string(nil), g.Cameras...)
	return out, true
}

// joinGroup merges the new entry into the matched entry's incident,
// minting the group on first contact. Caller holds mu.
func (s *Service) joinGroup(match, fresh *entry) *Group {
	if match.groupID != nil {
		if g, ok := s.groups[*match.groupID]; ok {
			g.MemberEventIDs = append(g.MemberEventIDs, fresh.eventID)
			g.Cameras = appendCamera(g.Cameras, fresh.cameraID)
			if fresh.occurredAt.After(g.WindowEnd) {
				g.WindowEnd = fresh.occurredAt
			}
			if fresh.occurredAt.Before(g.WindowStart) {
				g.WindowStart = fresh.occurredAt
			}
			return g
		}
	}

	g := &Group{
		GroupID:        uuid.New(),
		MemberEventIDs: []uuid.UUID{match.eventID, fresh.eventID},
		Cameras:        appendCamera([]string{match.cameraID}, fresh.cameraID),
		WindowStart:    minTime(match.occurredAt, fresh.occurredAt),
		WindowEnd:      maxTime(match.occurredAt, fresh.occurredAt),
	}
	match.groupID = &g.GroupID
	s.groups[g.GroupID] = g
	metrics.RecordCorrelationGroup()
	log.Printf("[INFO] Correlation: grouped cameras %s under %s", strings.Join(g.Cameras, ","), g.GroupID)
	return g
}

// evict drops buffer entries and incidents past the window. Entries are
// arrival-ordered so the stale ones form a prefix. Caller holds mu.
func (s *Service) evict(now time.Time) {
	cutoff := now.Add(-s.window)

	i := 0
	for i < len(s.entries) && s.entries[i].arrivedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.entries = append([]*entry(nil), s.entries[i:]...)
	}

	for id, g := range s.groups {
		if g.WindowEnd.Before(cutoff) {
			delete(s.groups, id)
		}
	}
}

// canonical lowercases and applies the alias table when configured.
func (s *Service) canonical(types []string) map[string]struct{} {
	out := make(map[string]struct{}, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if class, ok := s.aliases[t]; ok {
			t = class
		}
		out[t] = struct{}{}
	}
	return out
}

func intersects(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for t := range a {
		if _, ok := b[t]; ok {
			return true
		}
	}
	return false
}

func appendCamera(cams []string, cam string) []string {
	for _, c := range cams {
		if c == cam {
			return cams
		}
	}
	return append(cams, cam)
}

func absDelta(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return b
	}
	return a
}
