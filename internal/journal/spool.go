package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	spoolFile        = "journal_spool.jsonl"
	defaultSpoolMB   = 256
	replayFilePrefix = "replay_"
)

// Spool is the local JSONL failover target for journal writes the DB
// rejected. Bounded by size; when full, stale replay leftovers are
// removed first, then appends fail.
type Spool struct {
	dir      string
	maxBytes int64

	mu sync.Mutex
}

func NewSpool(dir string, maxMB int64) (*Spool, error) {
	if maxMB <= 0 {
		maxMB = defaultSpoolMB
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating journal spool dir: %w", err)
	}
	return &Spool{dir: dir, maxBytes: maxMB * 1024 * 1024}, nil
}

// Append writes one entry to the spool file.
func (sp *Spool) Append(e Entry) error {
	line, err := json.Marshal(spooledEntry{
		ID:        e.ID.String(),
		Entry:     e,
		SpooledAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.sizeLocked() >= sp.maxBytes {
		sp.dropOldestReplayLocked()
		if sp.sizeLocked() >= sp.maxBytes {
			return fmt.Errorf("journal spool full (%d byte cap)", sp.maxBytes)
		}
	}

	f, err := os.OpenFile(filepath.Join(sp.dir, spoolFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

// rotate renames the spool file aside for replay and returns its new
// path. Empty string means there is nothing to drain.
func (sp *Spool) rotate() (string, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	current := filepath.Join(sp.dir, spoolFile)
	info, err := os.Stat(current)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if info.Size() == 0 {
		return "", nil
	}

	replay := filepath.Join(sp.dir, fmt.Sprintf("%s%d.jsonl", replayFilePrefix, time.Now().UnixNano()))
	if err := os.Rename(current, replay); err != nil {
		return "", err
	}
	return replay, nil
}

// pendingReplays lists leftover replay files from interrupted drains,
// oldest first.
func (sp *Spool) pendingReplays() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(sp.dir, replayFilePrefix+"*.jsonl"))
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (sp *Spool) sizeLocked() int64 {
	var size int64
	entries, err := os.ReadDir(sp.dir)
	if err != nil {
		return 0
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		if info, err := ent.Info(); err == nil {
			size += info.Size()
		}
	}
	return size
}

func (sp *Spool) dropOldestReplayLocked() {
	matches, err := sp.pendingReplays()
	if err != nil || len(matches) == 0 {
		return
	}
	// Nanosecond suffix makes lexical order chronological.
	os.Remove(matches[0])
}
