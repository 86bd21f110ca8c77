package scene

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// startWatcher runs a watcher over dir with a short debounce and stops it
// when the test ends.
func startWatcher(t *testing.T, registry *Registry, dir string) {
	t.Helper()

	w, err := NewWatcher(registry, dir)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("watcher exited with: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})
}

// waitForDescription polls until the cached scene has the wanted
// description or the deadline passes.
func waitForDescription(t *testing.T, registry *Registry, sceneID, want string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if sc, err := registry.Get(sceneID); err == nil && sc.Description == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("scene %q never reached description %q", sceneID, want)
}

func TestWatcher_ImportsNewFile(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry(newMockRepository(), nil)
	startWatcher(t, registry, dir)

	path := filepath.Join(dir, "hall.json")
	if err := os.WriteFile(path, sceneDoc("hall", "first draft"), 0o600); err != nil {
		t.Fatalf("writing scene: %v", err)
	}

	waitForDescription(t, registry, "hall", "first draft")
}

func TestWatcher_ReimportsOnEdit(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry(newMockRepository(), nil)
	startWatcher(t, registry, dir)

	path := filepath.Join(dir, "hall.json")
	if err := os.WriteFile(path, sceneDoc("hall", "first draft"), 0o600); err != nil {
		t.Fatalf("writing scene: %v", err)
	}
	waitForDescription(t, registry, "hall", "first draft")

	if err := os.WriteFile(path, sceneDoc("hall", "second draft"), 0o600); err != nil {
		t.Fatalf("rewriting scene: %v", err)
	}
	waitForDescription(t, registry, "hall", "second draft")
}

func TestWatcher_BadEditKeepsPreviousVersion(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry(newMockRepository(), nil)
	startWatcher(t, registry, dir)

	path := filepath.Join(dir, "hall.json")
	if err := os.WriteFile(path, sceneDoc("hall", "good"), 0o600); err != nil {
		t.Fatalf("writing scene: %v", err)
	}
	waitForDescription(t, registry, "hall", "good")

	if err := os.WriteFile(path, []byte(`{broken`), 0o600); err != nil {
		t.Fatalf("writing broken scene: %v", err)
	}

	// Give the debounce and import a chance to run, then confirm the
	// previous version is still served.
	time.Sleep(200 * time.Millisecond)
	sc, err := registry.Get("hall")
	if err != nil {
		t.Fatalf("Get after bad edit: %v", err)
	}
	if sc.Description != "good" {
		t.Errorf("Description = %q, want the previous version", sc.Description)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry(newMockRepository(), nil)
	startWatcher(t, registry, dir)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a scene"), 0o600); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".hidden.json"), sceneDoc("hidden", "x"), 0o600); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if registry.Count() != 0 {
		t.Errorf("Count = %d, want 0", registry.Count())
	}
}

func TestNewWatcher_MissingDir(t *testing.T) {
	registry := NewRegistry(newMockRepository(), nil)
	_, err := NewWatcher(registry, filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}
