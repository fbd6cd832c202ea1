package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 200 * time.Millisecond

// Watcher reloads the runtime policy when the config file changes. The
// parent directory is watched so editors that replace the file by rename
// are still seen.
type Watcher struct {
	logger   *log.Logger
	path     string
	store    *PolicyStore
	debounce time.Duration
	onReload func(Policy)
}

func NewWatcher(logger *log.Logger, path string, store *PolicyStore) *Watcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{
		logger:   logger,
		path:     filepath.Clean(path),
		store:    store,
		debounce: defaultReloadDebounce,
	}
}

// OnReload registers fn to run after each successful reload.
func (w *Watcher) OnReload(fn func(Policy)) {
	w.onReload = fn
}

// Run blocks until ctx is done. A file that fails to parse leaves the
// previous policy in place.
func (w *Watcher) Run(ctx context.Context) error {
	if w.path == "" || w.path == "." {
		return errors.New("watcher requires a config file path")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Printf("watching %s for policy changes", w.path)

	var (
		pending <-chan time.Time
		timer   *time.Timer
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("config watcher error: %v", err)
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	policy, err := LoadPolicy(w.path)
	if err != nil {
		w.logger.Printf("policy reload failed, keeping previous policy: %v", err)
		return
	}
	w.store.Store(policy)
	w.logger.Printf("policy reloaded from %s slots=%d", w.path, len(policy.Slots))
	if w.onReload != nil {
		w.onReload(policy)
	}
}
