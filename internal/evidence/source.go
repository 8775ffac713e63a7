package evidence

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/vigilops/vigil-core/internal/event"
)

// MediaSource fetches visual payloads from the capture layer.
type MediaSource interface {
	FetchSnapshot(ctx context.Context, ev *event.DetectionEvent) ([]byte, error)
	FetchClip(ctx context.Context, ev *event.DetectionEvent) ([]byte, error)
}

// maxPayloadBytes caps a single download. Clips are short by contract;
// anything larger is an upstream misconfiguration, not evidence.
const maxPayloadBytes = 64 << 20

// HTTPMediaSource pulls snapshots and clips from the URLs the capture
// layer stamped into the event.
type HTTPMediaSource struct {
	client *http.Client
	token  string // bearer token for the capture layer API, may be empty
}

func NewHTTPMediaSource(client *http.Client, token string) *HTTPMediaSource {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPMediaSource{client: client, token: token}
}

func (s *HTTPMediaSource) FetchSnapshot(ctx context.Context, ev *event.DetectionEvent) ([]byte, error) {
	if ev.Evidence.SnapshotURL == "" {
		return nil, fmt.Errorf("no snapshot url for camera %s", ev.CameraID)
	}
	return s.fetch(ctx, ev.Evidence.SnapshotURL)
}

func (s *HTTPMediaSource) FetchClip(ctx context.Context, ev *event.DetectionEvent) ([]byte, error) {
	if ev.Evidence.ClipURL == "" {
		return nil, fmt.Errorf("no clip url for camera %s", ev.CameraID)
	}
	return s.fetch(ctx, ev.Evidence.ClipURL)
}

func (s *HTTPMediaSource) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media fetch %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxPayloadBytes {
		return nil, fmt.Errorf("media fetch %s: payload exceeds %d bytes", url, maxPayloadBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("media fetch %s: empty body", url)
	}
	return data, nil
}
