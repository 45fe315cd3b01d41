package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// safeToHotReload lists the Runtime fields that may change while a
// pipeline is running. Everything else (restart budgets, batch sizes)
// still reloads in the struct but callers should only act on the fields
// named here — changing, say, RollingBatchSize mid-rollout would leave a
// rolling update half-migrated under a policy it didn't start with.
var safeToHotReload = map[string]bool{
	"health_interval":      true,
	"backoff_base":         true,
	"backoff_max":          true,
	"default_backpressure": true,
	"sync_window":          true,
	"log_level":            true,
}

// Watcher reloads Runtime from a file whenever it changes on disk and
// delivers the full reloaded Runtime to subscribers; safeToHotReload names
// the fields subscribers may apply live.
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher

	mu      sync.RWMutex
	current Runtime

	subscribers []func(Runtime)
}

// NewWatcher starts watching path for changes, seeding current from an
// initial Load.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch config %q: %w", path, err)
	}
	w := &Watcher{path: path, fsw: fsw, current: cfg}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		return // keep serving the last good config
	}
	w.mu.Lock()
	w.current = next
	subs := append([]func(Runtime){}, w.subscribers...)
	w.mu.Unlock()
	for _, sub := range subs {
		sub(next)
	}
}

// Current returns the most recently loaded Runtime.
func (w *Watcher) Current() Runtime {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked after every successful reload with
// the full new Runtime; callers should only read the safeToHotReload
// fields from it.
func (w *Watcher) OnChange(fn func(Runtime)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, fn)
}

// Close stops the underlying filesystem watch.
func (w *Watcher) Close() error { return w.fsw.Close() }
