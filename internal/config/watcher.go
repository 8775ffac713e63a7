package config

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file on change and hands the new snapshot
// to the registered callback. Supports both fsnotify and polling as
// fallback.
type Watcher struct {
	path     string
	onReload func(*Snapshot)

	mu        sync.Mutex
	lastMtime time.Time
}

func NewWatcher(path string, onReload func(*Snapshot)) *Watcher {
	w := &Watcher{path: path, onReload: onReload}
	if st, err := os.Stat(path); err == nil {
		w.lastMtime = st.ModTime()
	}
	return w
}

func (w *Watcher) Start(ctx context.Context) {
	fsw, err := fsnotify.NewWatcher()
	usePolling := false

	if err != nil {
		log.Printf("[WARN] ConfigWatcher: fsnotify failed (%v), falling back to polling", err)
		usePolling = true
	} else {
		if err := fsw.Add(w.path); err != nil {
			log.Printf("[WARN] ConfigWatcher: failed to watch %s (%v), falling back to polling", w.path, err)
			usePolling = true
			fsw.Close()
		}
	}

	if !usePolling {
		go func() {
			defer fsw.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-fsw.Events:
					if !ok {
						return
					}
					if ev.Op&fsnotify.Write == fsnotify.Write || ev.Op&fsnotify.Create == fsnotify.Create {
						// Editors often write in two ops; let the file settle.
						time.Sleep(100 * time.Millisecond)
						w.reloadIfChanged()
					}
				case err, ok := <-fsw.Errors:
					if !ok {
						return
					}
					log.Printf("[WARN] ConfigWatcher: %v", err)
				}
			}
		}()
	}

	// Slow polling runs always as a safety net; mtime check keeps the
	// reload path quiet when nothing changed.
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.reloadIfChanged()
			}
		}
	}()
}

func (w *Watcher) reloadIfChanged() {
	st, err := os.Stat(w.path)
	if err != nil {
		log.Printf("[WARN] ConfigWatcher: stat %s: %v", w.path, err)
		return
	}

	w.mu.Lock()
	changed := st.ModTime().After(w.lastMtime)
	if changed {
		w.lastMtime = st.ModTime()
	}
	w.mu.Unlock()
	if !changed {
		return
	}

	snap, err := Load(w.path)
	if err != nil {
		// Keep running on the previous snapshot; a broken reload must
		// not take the pipeline down.
		log.Printf("[ERROR] ConfigWatcher: reload rejected: %v", err)
		return
	}

	log.Printf("[INFO] ConfigWatcher: config reloaded from %s", w.path)
	w.onReload(snap)
}
