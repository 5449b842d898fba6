package request

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "request.yaml")
	if err := os.WriteFile(path, []byte("values:\n  entry_age: 70\n"), 0644); err != nil {
		t.Fatalf("failed to write initial request: %v", err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0644); err != nil {
		t.Fatalf("failed to write unrelated file: %v", err)
	}
	if err := os.WriteFile(path, []byte("values:\n  entry_age: 81\n"), 0644); err != nil {
		t.Fatalf("failed to write updated request: %v", err)
	}

	select {
	case ev := <-w.Events():
		if ev.Error != nil {
			t.Fatalf("unexpected error: %v", ev.Error)
		}
		if ev.Request.Values["entry_age"] != 81 {
			t.Errorf("expected updated entry_age, got %v", ev.Request.Values["entry_age"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request event")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
	if _, ok := <-w.Events(); ok {
		t.Fatal("events channel should be closed")
	}
}
