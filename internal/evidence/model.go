package evidence

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Kind is the shape of a visual payload handed to a provider.
type Kind string

const (
	KindSingleFrame Kind = "single_frame"
	KindMultiFrame  Kind = "multi_frame"
	KindClip        Kind = "clip"
)

// Mode is a camera's configured analysis tier. Richer tiers degrade to
// cheaper ones when acquisition or providers fail.
type Mode string

const (
	ModeSingleFrame Mode = "single_frame"
	ModeMultiFrame  Mode = "multi_frame"
	ModeVideoNative Mode = "video_native"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSingleFrame, ModeMultiFrame, ModeVideoNative:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown analysis mode %q", s)
}

// Kind maps a mode to the evidence shape it produces.
func (m Mode) Kind() Kind {
	switch m {
	case ModeVideoNative:
		return KindClip
	case ModeMultiFrame:
		return KindMultiFrame
	default:
		return KindSingleFrame
	}
}

// ModeForKind maps an evidence shape back to the tier that produced it.
func ModeForKind(k Kind) Mode {
	switch k {
	case KindClip:
		return ModeVideoNative
	case KindMultiFrame:
		return ModeMultiFrame
	default:
		return ModeSingleFrame
	}
}

// Cheaper returns the next tier down, or false at the floor.
func (m Mode) Cheaper() (Mode, bool) {
	switch m {
	case ModeVideoNative:
		return ModeMultiFrame, true
	case ModeMultiFrame:
		return ModeSingleFrame, true
	}
	return m, false
}

// Evidence is one transient visual payload. It lives for a single
// analysis attempt and is never persisted; Release drops the buffers as
// soon as the result exists.
type Evidence struct {
	Kind       Kind
	Frames     [][]byte // JPEG frames; exactly one for single_frame
	Clip       []byte   // MP4 bytes when Kind == clip
	FrameCount int

	// ContentHash identifies the payload in logs and the journal
	// without retaining it.
	ContentHash string
}

func (e *Evidence) Release() {
	e.Frames = nil
	e.Clip = nil
}

// hashPayload digests all payload bytes in order.
func hashPayload(chunks ...[]byte) string {
	h, _ := blake2b.New256(nil)
	for _, c := range chunks {
		h.Write(c)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func newSingleFrame(frame []byte) *Evidence {
	return &Evidence{
		Kind:        KindSingleFrame,
		Frames:      [][]byte{frame},
		FrameCount:  1,
		ContentHash: hashPayload(frame),
	}
}

func newMultiFrame(frames [][]byte) *Evidence {
	return &Evidence{
		Kind:        KindMultiFrame,
		Frames:      frames,
		FrameCount:  len(frames),
		ContentHash: hashPayload(frames...),
	}
}

func newClip(clip []byte) *Evidence {
	return &Evidence{
		Kind:        KindClip,
		Clip:        clip,
		FrameCount:  0,
		ContentHash: hashPayload(clip),
	}
}
