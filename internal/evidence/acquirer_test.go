package evidence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil-core/internal/event"
)

type fakeSource struct {
	snapshot []byte
	snapErr  error
	clip     []byte
	clipErr  error

	snapCalls int
	clipCalls int
}

func (f *fakeSource) FetchSnapshot(ctx context.Context, ev *event.DetectionEvent) ([]byte, error) {
	f.snapCalls++
	return f.snapshot, f.snapErr
}

func (f *fakeSource) FetchClip(ctx context.Context, ev *event.DetectionEvent) ([]byte, error) {
	f.clipCalls++
	return f.clip, f.clipErr
}

type fakeExtractor struct {
	frames [][]byte
	err    error
	calls  int
}

func (f *fakeExtractor) ExtractFrames(ctx context.Context, clip []byte, maxCandidates int) ([][]byte, error) {
	f.calls++
	return f.frames, f.err
}

func testEvent() *event.DetectionEvent {
	return event.NewManualEvent("cam-1", "person", event.EvidenceRefs{
		SnapshotURL: "http://nvr/api/events/e1/snapshot.jpg",
		ClipURL:     "http://nvr/api/events/e1/clip.mp4",
	})
}

func TestAcquire_SingleFrame(t *testing.T) {
	src := &fakeSource{snapshot: []byte("jpeg")}
	a := NewAcquirer(src, &fakeExtractor{}, 15*time.Second)

	evd, trail, err := a.Acquire(context.Background(), testEvent(), ModeSingleFrame, 1)
	require.NoError(t, err)
	assert.Empty(t, trail)
	assert.Equal(t, KindSingleFrame, evd.Kind)
	assert.Equal(t, 1, evd.FrameCount)
	assert.Equal(t, [][]byte{[]byte("jpeg")}, evd.Frames)
	assert.NotEmpty(t, evd.ContentHash)
}

func TestAcquire_MultiFrame(t *testing.T) {
	frame := sharpFrame(t)
	src := &fakeSource{clip: []byte("mp4")}
	ext := &fakeExtractor{frames: [][]byte{frame, frame, frame, frame, frame, frame}}
	a := NewAcquirer(src, ext, 15*time.Second)

	evd, trail, err := a.Acquire(context.Background(), testEvent(), ModeMultiFrame, 3)
	require.NoError(t, err)
	assert.Empty(t, trail)
	assert.Equal(t, KindMultiFrame, evd.Kind)
	assert.Equal(t, 3, evd.FrameCount)
	assert.Equal(t, 1, ext.calls)
}

func TestAcquire_VideoNative(t *testing.T) {
	src := &fakeSource{clip: []byte("mp4-bytes")}
	a := NewAcquirer(src, &fakeExtractor{}, 15*time.Second)

	evd, trail, err := a.Acquire(context.Background(), testEvent(), ModeVideoNative, 3)
	require.NoError(t, err)
	assert.Empty(t, trail)
	assert.Equal(t, KindClip, evd.Kind)
	assert.Equal(t, []byte("mp4-bytes"), evd.Clip)
}

func TestAcquire_ClipFailureDegradesTwiceToSingleFrame(t *testing.T) {
	src := &fakeSource{
		clipErr:  errors.New("connection refused"),
		snapshot: []byte("jpeg"),
	}
	a := NewAcquirer(src, &fakeExtractor{}, 15*time.Second)

	evd, trail, err := a.Acquire(context.Background(), testEvent(), ModeVideoNative, 3)
	require.NoError(t, err)
	assert.Equal(t, KindSingleFrame, evd.Kind)

	require.Len(t, trail, 2)
	assert.Contains(t, trail[0], "video_native->multi_frame")
	assert.Contains(t, trail[1], "multi_frame->single_frame")
	assert.Contains(t, trail[0], "clip download")
}

func TestAcquire_ExtractionFailureDegradesToSingleFrame(t *testing.T) {
	src := &fakeSource{clip: []byte("mp4"), snapshot: []byte("jpeg")}
	ext := &fakeExtractor{err: errors.New("ffmpeg: moov atom not found")}
	a := NewAcquirer(src, ext, 15*time.Second)

	evd, trail, err := a.Acquire(context.Background(), testEvent(), ModeMultiFrame, 3)
	require.NoError(t, err)
	assert.Equal(t, KindSingleFrame, evd.Kind)
	require.Len(t, trail, 1)
	assert.Contains(t, trail[0], "frame extraction")
}

func TestAcquire_TotalFailure(t *testing.T) {
	src := &fakeSource{
		clipErr: errors.New("clip 404"),
		snapErr: errors.New("snapshot 404"),
	}
	a := NewAcquirer(src, &fakeExtractor{}, 15*time.Second)

	_, trail, err := a.Acquire(context.Background(), testEvent(), ModeVideoNative, 3)
	require.Error(t, err)

	var af *AcquisitionFailure
	require.ErrorAs(t, err, &af)
	assert.Equal(t, "cam-1", af.CameraID)
	assert.Len(t, trail, 3) // two degradations plus the floor failure
}

func TestAcquire_SnapshotFallsBackToClipFrame(t *testing.T) {
	frame := sharpFrame(t)
	src := &fakeSource{
		snapErr: errors.New("no snapshot endpoint"),
		clip:    []byte("mp4"),
	}
	ext := &fakeExtractor{frames: [][]byte{frame}}
	a := NewAcquirer(src, ext, 15*time.Second)

	evd, trail, err := a.Acquire(context.Background(), testEvent(), ModeSingleFrame, 1)
	require.NoError(t, err)
	assert.Empty(t, trail)
	assert.Equal(t, KindSingleFrame, evd.Kind)
	assert.Equal(t, 1, src.clipCalls)
}
