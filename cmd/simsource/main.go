// Command simsource stands in for the capture layer during development:
// it publishes synthetic detection events to NATS and serves the
// snapshot bytes those events point at, so a full vigild stack runs
// with no cameras attached.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// Config
var (
	natsURL    string
	listenAddr string
	cameras    []string
	intervalMs int
	serveClips bool

	// Metrics (atomic counters)
	eventsPublished int64
	snapshotsServed int64
	clipsServed     int64
)

var hints = []string{"person", "car", "truck", "dog", "bicycle", "package"}

var kinds = []string{"motion", "smart_detection", "doorbell"}

// wireDetection mirrors the payload vigild's NATS source decodes.
type wireDetection struct {
	CameraID    string    `json:"camera_id"`
	TriggerKind string    `json:"trigger_kind"`
	RawHint     string    `json:"raw_hint,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	SnapshotURL string    `json:"snapshot_url,omitempty"`
	ClipURL     string    `json:"clip_url,omitempty"`
}

func main() {
	natsURL = getEnv("NATS_URL", "nats://localhost:4222")
	listenAddr = getEnv("LISTEN_ADDR", ":8091")
	cameras = strings.Split(getEnv("CAMERAS", "front_door,garage,side_gate"), ",")
	intervalMs = getEnvInt("INTERVAL_MS", 5000)
	serveClips = getEnv("SERVE_CLIPS", "false") == "true"

	log.Printf("[SimSource] Starting - NATS: %s, cameras: %v, interval: %dms, clips: %t",
		natsURL, cameras, intervalMs, serveClips)

	nc, err := nats.Connect(natsURL)
	if err != nil {
		log.Printf("[SimSource] NATS connection failed: %v (events logged only)", err)
		nc = nil
	} else {
		defer nc.Close()
		log.Printf("[SimSource] NATS connected")
	}

	go startMediaServer()

	for {
		for _, cam := range cameras {
			publishEvent(nc, strings.TrimSpace(cam))
		}
		time.Sleep(time.Duration(intervalMs) * time.Millisecond)
	}
}

func publishEvent(nc *nats.Conn, camID string) {
	base := "http://localhost" + listenAddr
	ev := wireDetection{
		CameraID:    camID,
		TriggerKind: kinds[rand.Intn(len(kinds))],
		RawHint:     hints[rand.Intn(len(hints))],
		OccurredAt:  time.Now().UTC(),
		SnapshotURL: fmt.Sprintf("%s/cameras/%s/snapshot.jpg", base, camID),
	}
	if serveClips {
		// The clip bytes are not a decodable video; they exist to walk
		// the acquirer's degradation ladder end to end.
		ev.ClipURL = fmt.Sprintf("%s/cameras/%s/clip.mp4", base, camID)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[SimSource] Marshal error: %v", err)
		return
	}

	subject := "vigil.detections." + camID
	if nc != nil {
		if err := nc.Publish(subject, data); err != nil {
			log.Printf("[SimSource] NATS publish failed: %v", err)
			return
		}
	} else {
		log.Printf("[NATS-MOCK] %s: %s", subject, string(data))
	}
	atomic.AddInt64(&eventsPublished, 1)
}

func startMediaServer() {
	http.HandleFunc("/cameras/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/snapshot.jpg"):
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write(makeSnapshot())
			atomic.AddInt64(&snapshotsServed, 1)
		case strings.HasSuffix(r.URL.Path, "/clip.mp4"):
			w.Header().Set("Content-Type", "video/mp4")
			w.Write(makeClipStub())
			atomic.AddInt64(&clipsServed, 1)
		default:
			http.NotFound(w, r)
		}
	})

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":           "ok",
			"events_published": atomic.LoadInt64(&eventsPublished),
			"snapshots_served": atomic.LoadInt64(&snapshotsServed),
			"clips_served":     atomic.LoadInt64(&clipsServed),
		})
	})

	log.Printf("[SimSource] Media server starting on %s", listenAddr)
	if err := http.ListenAndServe(listenAddr, nil); err != nil {
		log.Printf("[SimSource] Media server failed: %v", err)
	}
}

// makeSnapshot renders a small frame with a square in a random spot so
// consecutive snapshots differ.
func makeSnapshot() []byte {
	img := image.NewGray(image.Rect(0, 0, 96, 96))
	x0 := rand.Intn(64)
	y0 := rand.Intn(64)
	for y := y0; y < y0+24; y++ {
		for x := x0; x < x0+24; x++ {
			img.SetGray(x, y, color.Gray{Y: 230})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}); err != nil {
		return nil
	}
	return buf.Bytes()
}

func makeClipStub() []byte {
	b := make([]byte, 4096)
	for i := range b {
		b[i] = byte(rand.Intn(256))
	}
	return b
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
