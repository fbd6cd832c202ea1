package config

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsPolicy(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "stk.yaml")
	writeFile(t, path, "stk:\n  menu_label: First\n")

	initial, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	store := NewPolicyStore(initial)
	watcher := NewWatcher(log.New(io.Discard, "", 0), path, store)
	watcher.debounce = 10 * time.Millisecond
	reloaded := make(chan Policy, 4)
	watcher.OnReload(func(p Policy) { reloaded <- p })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("watcher run: %v", err)
		}
	}()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)

	writeFile(t, path, "stk:\n  menu_label: Second\n  slots:\n    - slot: 0\n      launch_browser_disabled: true\n")

	select {
	case p := <-reloaded:
		if p.MenuLabel != "Second" {
			t.Fatalf("expected reloaded label, got %q", p.MenuLabel)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reload")
	}
	if label, _ := store.MenuFallback(0); label != "Second" {
		t.Fatalf("expected store to serve new label, got %q", label)
	}
	if !store.IsLaunchBrowserDisabled(0) {
		t.Fatalf("expected reloaded slot policy")
	}
}

func TestWatcherKeepsPolicyOnParseError(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "stk.yaml")
	writeFile(t, path, "stk:\n  menu_label: Stable\n")

	initial, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	store := NewPolicyStore(initial)
	watcher := NewWatcher(log.New(io.Discard, "", 0), path, store)

	writeFile(t, path, "stk: [not a mapping\n")
	watcher.reload()

	if label, _ := store.MenuFallback(0); label != "Stable" {
		t.Fatalf("expected previous policy to survive, got %q", label)
	}
}

func TestWatcherRequiresPath(t *testing.T) {
	watcher := NewWatcher(nil, "", NewPolicyStore(Policy{}))
	if err := watcher.Run(context.Background()); err == nil {
		t.Fatalf("expected error without a path")
	}
}
