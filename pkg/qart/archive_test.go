package qart

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/quatton/qwatch/pkg/qrun"
)

type memArchive struct {
	objects map[string][]byte
	meta    map[string]map[string]string
}

func newMemArchive() *memArchive {
	return &memArchive{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (m *memArchive) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string, metadata map[string]string) (*Object, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.objects[key] = data
	m.meta[key] = metadata
	return &Object{Key: key, Size: int64(len(data)), ContentType: contentType, LastModified: time.Now()}, nil
}

func (m *memArchive) List(_ context.Context, prefix string) ([]*Object, error) {
	var out []*Object
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, &Object{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memArchive) EnsureBucket(context.Context) error { return nil }

func TestArchiveRun(t *testing.T) {
	archive := newMemArchive()
	run := &qrun.Run{
		RunID:  "run-1",
		Status: qrun.StatusCompleted,
		Result: &qrun.Result{Probability: 0.42},
	}

	objects, err := ArchiveRun(context.Background(), archive, run,
		File{Name: "overlays/attribution.png", ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}})
	if err != nil {
		t.Fatalf("ArchiveRun failed: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(objects))
	}

	listed, _ := archive.List(context.Background(), RunPrefix("run-1"))
	if len(listed) != 2 || listed[0].Key != "runs/run-1/overlays/attribution.png" || listed[1].Key != "runs/run-1/run.json" {
		t.Fatalf("unexpected keys: %+v", listed)
	}

	var stored qrun.Run
	if err := json.Unmarshal(archive.objects["runs/run-1/run.json"], &stored); err != nil {
		t.Fatalf("run.json is not a run: %v", err)
	}
	if stored.Result == nil || stored.Result.Probability != 0.42 {
		t.Fatalf("unexpected stored run: %+v", stored)
	}
	if archive.meta["runs/run-1/run.json"]["status"] != "COMPLETED" {
		t.Fatalf("missing status metadata: %v", archive.meta["runs/run-1/run.json"])
	}
}

func TestArchiveRun_RefusesLiveRun(t *testing.T) {
	_, err := ArchiveRun(context.Background(), newMemArchive(), &qrun.Run{RunID: "r", Status: "SCALING"})
	if err == nil {
		t.Fatal("expected error archiving a running run")
	}
	if _, err := ArchiveRun(context.Background(), newMemArchive(), nil); err == nil {
		t.Fatal("expected error archiving nothing")
	}
}
