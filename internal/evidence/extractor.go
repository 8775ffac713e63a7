package evidence

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
)

// FrameExtractor turns a clip into candidate JPEG frames.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, clip []byte, maxCandidates int) ([][]byte, error)
}

// FFmpegExtractor shells out to ffmpeg. Clip bytes hit disk only as a
// temp file scoped to the call; the whole directory is removed on every
// exit path.
type FFmpegExtractor struct {
	BinPath      string // default "ffmpeg"
	CandidateFPS int    // default 2
}

func (x *FFmpegExtractor) bin() string {
	if x.BinPath != "" {
		return x.BinPath
	}
	return "ffmpeg"
}

func (x *FFmpegExtractor) fps() int {
	if x.CandidateFPS > 0 {
		return x.CandidateFPS
	}
	return 2
}

func (x *FFmpegExtractor) ExtractFrames(ctx context.Context, clip []byte, maxCandidates int) ([][]byte, error) {
	if maxCandidates < 1 {
		maxCandidates = 1
	}

	dir, err := os.MkdirTemp("", "vigil-frames-")
	if err != nil {
		return nil, fmt.Errorf("frame tempdir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(in, clip, 0o600); err != nil {
		return nil, fmt.Errorf("write clip: %w", err)
	}

	cmd := exec.CommandContext(ctx, x.bin(),
		"-v", "error",
		"-i", in,
		"-vf", fmt.Sprintf("fps=%d", x.fps()),
		"-frames:v", strconv.Itoa(maxCandidates),
		"-q:v", "3",
		filepath.Join(dir, "frame_%04d.jpg"),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %v: %s", err, bytes.TrimSpace(out))
	}

	files, err := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no frames")
	}

	frames := make([][]byte, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read frame %s: %w", filepath.Base(f), err)
		}
		frames = append(frames, data)
	}
	return frames, nil
}
