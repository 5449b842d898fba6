package qart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/quatton/qwatch/pkg/qrun"
)

// Object describes an archived object.
type Object struct {
	Key          string            `json:"key"`
	Bucket       string            `json:"bucket"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type"`
	LastModified time.Time         `json:"last_modified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Archive stores finished runs in object storage.
type Archive interface {
	// Put uploads one object. size may be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, metadata map[string]string) (*Object, error)

	// List lists objects under prefix.
	List(ctx context.Context, prefix string) ([]*Object, error)

	// EnsureBucket creates the bucket when it does not exist.
	EnsureBucket(ctx context.Context) error
}

// RunReader reads archived runs back.
type RunReader interface {
	LoadRun(ctx context.Context, runID string) (*qrun.Run, error)
	Runs(ctx context.Context) ([]*qrun.Run, error)
}

// File is one extra file archived alongside a run snapshot.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// RunPrefix returns the key prefix of a run's archived objects.
func RunPrefix(runID string) string {
	return "runs/" + runID + "/"
}

// RunKey returns the key of one archived object of a run.
func RunKey(runID, name string) string {
	return RunPrefix(runID) + name
}

// ArchiveRun uploads the terminal snapshot of a run as run.json followed by
// the given files. Non-terminal runs are refused.
func ArchiveRun(ctx context.Context, a Archive, run *qrun.Run, files ...File) ([]*Object, error) {
	if run == nil || run.RunID == "" {
		return nil, fmt.Errorf("archive: no run")
	}
	if !run.Status.IsTerminal() {
		return nil, fmt.Errorf("archive: run %s is still %s", run.RunID, run.Status)
	}

	snapshot, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("archive: encoding run: %w", err)
	}

	all := append([]File{{Name: "run.json", ContentType: "application/json", Data: snapshot}}, files...)
	meta := map[string]string{
		"run_id": run.RunID,
		"status": string(run.Status),
	}

	objects := make([]*Object, 0, len(all))
	for _, f := range all {
		obj, err := a.Put(ctx, RunKey(run.RunID, f.Name), bytes.NewReader(f.Data), int64(len(f.Data)), f.ContentType, meta)
		if err != nil {
			return objects, fmt.Errorf("archive: uploading %s: %w", f.Name, err)
		}
		objects = append(objects, obj)
	}
	return objects, nil
}
