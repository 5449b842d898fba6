package qart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/quatton/qwatch/pkg/qrun"
)

// LocalArchive implements Archive on the local filesystem. Objects live under
// dir with their key as relative path, so a run ends up in
// <dir>/runs/<run id>/.
type LocalArchive struct {
	dir string
}

// NewLocalArchive returns an archive rooted at dir.
func NewLocalArchive(dir string) *LocalArchive {
	return &LocalArchive{dir: dir}
}

// Dir returns the archive root.
func (l *LocalArchive) Dir() string {
	return l.dir
}

func (l *LocalArchive) path(key string) (string, error) {
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != key {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(l.dir, filepath.FromSlash(clean)), nil
}

// EnsureBucket creates the archive directory.
func (l *LocalArchive) EnsureBucket(ctx context.Context) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	return nil
}

// Put writes one object. The file is replaced atomically; metadata is not
// persisted.
func (l *LocalArchive) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, metadata map[string]string) (*Object, error) {
	dst, err := l.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", key, err)
	}

	return &Object{
		Key:          key,
		Bucket:       l.dir,
		Size:         n,
		ContentType:  contentType,
		LastModified: time.Now(),
		Metadata:     metadata,
	}, nil
}

// List lists the objects whose key starts with prefix, sorted by key.
func (l *LocalArchive) List(ctx context.Context, prefix string) ([]*Object, error) {
	var objects []*Object
	err := filepath.WalkDir(l.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(l.dir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, &Object{
			Key:          key,
			Bucket:       l.dir,
			Size:         info.Size(),
			ContentType:  mime.TypeByExtension(path.Ext(key)),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// LoadRun reads the archived snapshot of a run.
func (l *LocalArchive) LoadRun(ctx context.Context, runID string) (*qrun.Run, error) {
	p, err := l.path(RunKey(runID, "run.json"))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}
	var run qrun.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse run state: %w", err)
	}
	return &run, nil
}

// Runs lists archived runs, newest id first. Runs whose snapshot cannot be
// read are skipped.
func (l *LocalArchive) Runs(ctx context.Context) ([]*qrun.Run, error) {
	entries, err := os.ReadDir(filepath.Join(l.dir, "runs"))
	if err != nil {
		if os.IsNotExist(err) {
			return []*qrun.Run{}, nil
		}
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	var runs []*qrun.Run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := l.LoadRun(ctx, entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID > runs[j].RunID })
	return runs, nil
}

var (
	_ Archive   = (*LocalArchive)(nil)
	_ RunReader = (*LocalArchive)(nil)
)
