package evidence

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/vigilops/vigil-core/internal/event"
	"github.com/vigilops/vigil-core/internal/metrics"
)

// AcquisitionFailure is terminal: no usable evidence at any tier. The
// trail holds one entry per degradation step plus the floor failure.
type AcquisitionFailure struct {
	CameraID string
	Trail    []string
}

func (e *AcquisitionFailure) Error() string {
	return fmt.Sprintf("no evidence for camera %s: %s", e.CameraID, strings.Join(e.Trail, "; "))
}

// maxFrameCandidates bounds how many frames one clip can yield.
const maxFrameCandidates = 64

// Acquirer produces the visual payload for one event at the requested
// tier, walking down the degradation ladder on failure:
// video_native -> multi_frame -> single_frame.
type Acquirer struct {
	source          MediaSource
	extractor       FrameExtractor
	downloadTimeout time.Duration
	minSharpness    float64
}

func NewAcquirer(source MediaSource, extractor FrameExtractor, downloadTimeout time.Duration) *Acquirer {
	return &Acquirer{
		source:          source,
		extractor:       extractor,
		downloadTimeout: downloadTimeout,
		minSharpness:    DefaultMinSharpness,
	}
}

// Acquire returns evidence plus the fallback-reason trail accumulated on
// the way down (empty when the requested tier worked). The error, when
// set, is always an *AcquisitionFailure.
func (a *Acquirer) Acquire(ctx context.Context, ev *event.DetectionEvent, mode Mode, frameCount int) (*Evidence, []string, error) {
	if frameCount < 1 {
		frameCount = 1
	}

	var trail []string
	cur := mode
	for {
		evd, err := a.acquireAt(ctx, ev, cur, frameCount)
		if err == nil {
			return evd, trail, nil
		}

		next, ok := cur.Cheaper()
		if !ok {
			trail = append(trail, fmt.Sprintf("%s: %v", cur, err))
			return nil, trail, &AcquisitionFailure{CameraID: ev.CameraID, Trail: trail}
		}

		log.Printf("[WARN] Acquirer: camera %s %s failed (%v), degrading to %s", ev.CameraID, cur, err, next)
		metrics.RecordDegradation(string(cur), "acquisition")
		trail = append(trail, fmt.Sprintf("%s->%s: %v", cur, next, err))
		cur = next
	}
}

func (a *Acquirer) acquireAt(ctx context.Context, ev *event.DetectionEvent, mode Mode, frameCount int) (*Evidence, error) {
	switch mode {
	case ModeVideoNative:
		clip, err := a.fetchClip(ctx, ev)
		if err != nil {
			return nil, err
		}
		return newClip(clip), nil

	case ModeMultiFrame:
		clip, err := a.fetchClip(ctx, ev)
		if err != nil {
			return nil, err
		}
		candidates := maxFrameCandidates
		if c := frameCount * 2; c > candidates {
			candidates = c
		}
		frames, err := a.extractor.ExtractFrames(ctx, clip, candidates)
		if err != nil {
			return nil, fmt.Errorf("frame extraction: %w", err)
		}
		picked := SampleSharp(frames, frameCount, a.minSharpness)
		if len(picked) == 0 {
			return nil, fmt.Errorf("no usable frames in clip")
		}
		return newMultiFrame(picked), nil

	default: // single_frame
		frame, err := a.fetchStill(ctx, ev)
		if err != nil {
			return nil, err
		}
		return newSingleFrame(frame), nil
	}
}

func (a *Acquirer) fetchClip(ctx context.Context, ev *event.DetectionEvent) ([]byte, error) {
	dctx, cancel := context.WithTimeout(ctx, a.downloadTimeout)
	defer cancel()
	clip, err := a.source.FetchClip(dctx, ev)
	if err != nil {
		return nil, fmt.Errorf("clip download: %w", err)
	}
	return clip, nil
}

// fetchStill prefers the snapshot URL; when the camera has none (or it
// fails) but a clip exists, one frame from the clip still satisfies the
// single_frame contract.
func (a *Acquirer) fetchStill(ctx context.Context, ev *event.DetectionEvent) ([]byte, error) {
	dctx, cancel := context.WithTimeout(ctx, a.downloadTimeout)
	defer cancel()

	frame, snapErr := a.source.FetchSnapshot(dctx, ev)
	if snapErr == nil {
		return frame, nil
	}

	if ev.Evidence.ClipURL != "" {
		clip, err := a.fetchClip(ctx, ev)
		if err == nil {
			frames, err := a.extractor.ExtractFrames(ctx, clip, 2)
			if err == nil && len(frames) > 0 {
				picked := SampleSharp(frames, 1, a.minSharpness)
				if len(picked) == 1 {
					return picked[0], nil
				}
			}
		}
	}

	return nil, fmt.Errorf("snapshot fetch: %w", snapErr)
}
