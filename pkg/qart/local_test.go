package qart

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quatton/qwatch/pkg/qrun"
)

func TestLocalArchive_ArchiveRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".qwatch")
	archive := NewLocalArchive(dir)
	ctx := context.Background()

	if err := archive.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket failed: %v", err)
	}

	run := &qrun.Run{RunID: "0192-a", Status: qrun.StatusCompleted, Result: &qrun.Result{Probability: 0.42}}
	_, err := ArchiveRun(ctx, archive, run, File{Name: "summary.txt", ContentType: "text/plain", Data: []byte("Run 0192-a COMPLETED\n")})
	if err != nil {
		t.Fatalf("ArchiveRun failed: %v", err)
	}

	// Verify run.json exists
	if _, err := os.Stat(filepath.Join(dir, "runs", "0192-a", "run.json")); err != nil {
		t.Fatalf("run.json should exist: %v", err)
	}

	objects, err := archive.List(ctx, RunPrefix("0192-a"))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(objects) != 2 || objects[0].Key != "runs/0192-a/run.json" || objects[1].Key != "runs/0192-a/summary.txt" {
		t.Fatalf("unexpected objects: %+v", objects)
	}
	if !strings.HasPrefix(objects[0].ContentType, "application/json") {
		t.Errorf("unexpected content type %q", objects[0].ContentType)
	}

	loaded, err := archive.LoadRun(ctx, "0192-a")
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}
	if loaded.Result == nil || loaded.Result.Probability != 0.42 {
		t.Fatalf("unexpected run: %+v", loaded)
	}
}

func TestLocalArchive_Runs(t *testing.T) {
	archive := NewLocalArchive(t.TempDir())
	ctx := context.Background()

	runs, err := archive.Runs(ctx)
	if err != nil || len(runs) != 0 {
		t.Fatalf("expected no runs, got %v (%v)", runs, err)
	}

	for _, id := range []string{"0192-a", "0192-c", "0192-b"} {
		if _, err := ArchiveRun(ctx, archive, &qrun.Run{RunID: id, Status: qrun.StatusFailed}); err != nil {
			t.Fatalf("ArchiveRun failed: %v", err)
		}
	}
	// a directory without a snapshot is skipped
	if err := os.MkdirAll(filepath.Join(archive.Dir(), "runs", "broken"), 0o755); err != nil {
		t.Fatal(err)
	}

	runs, err = archive.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 3 || runs[0].RunID != "0192-c" || runs[2].RunID != "0192-a" {
		t.Fatalf("expected newest first, got %+v", runs)
	}

	if _, err := archive.LoadRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalArchive_RejectsEscapingKeys(t *testing.T) {
	archive := NewLocalArchive(t.TempDir())
	for _, key := range []string{"../outside", "runs/../../x", "", "/abs"} {
		if _, err := archive.Put(context.Background(), key, strings.NewReader("x"), 1, "text/plain", nil); err == nil {
			t.Errorf("expected error for key %q", key)
		}
	}
}
