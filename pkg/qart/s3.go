package qart

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/quatton/qwatch/pkg/qrun"
)

// S3Archive implements Archive on MinIO/S3-compatible storage.
type S3Archive struct {
	client *minio.Client
	bucket string
	region string
}

// S3Config holds configuration for S3-compatible storage.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"` // host:port (e.g., "localhost:9000")
	AccessKey string `mapstructure:"accessKey"`
	SecretKey string `mapstructure:"secretKey"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"useSSL"`
}

// NewS3Archive connects to the configured endpoint.
func NewS3Archive(cfg S3Config) (*S3Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	return &S3Archive{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// EnsureBucket ensures the bucket exists, creating it if necessary.
func (s *S3Archive) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{
		Region: s.region,
	})
}

// Put uploads one object.
func (s *S3Archive) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, metadata map[string]string) (*Object, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchBucket" {
			return nil, ErrBucketMissing
		}
		return nil, err
	}

	return &Object{
		Key:          info.Key,
		Bucket:       info.Bucket,
		Size:         info.Size,
		ContentType:  contentType,
		LastModified: time.Now(),
		Metadata:     metadata,
	}, nil
}

// List lists all objects with the given prefix.
func (s *S3Archive) List(ctx context.Context, prefix string) ([]*Object, error) {
	var objects []*Object

	opts := minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}

	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, obj.Err
		}

		objects = append(objects, &Object{
			Key:          obj.Key,
			Bucket:       s.bucket,
			Size:         obj.Size,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
		})
	}

	return objects, nil
}

// LoadRun downloads the archived snapshot of a run.
func (s *S3Archive) LoadRun(ctx context.Context, runID string) (*qrun.Run, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, RunKey(runID, "run.json"), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	var run qrun.Run
	if err := json.NewDecoder(obj).Decode(&run); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}
	return &run, nil
}

// Runs lists archived runs, newest id first.
func (s *S3Archive) Runs(ctx context.Context) ([]*qrun.Run, error) {
	objects, err := s.List(ctx, "runs/")
	if err != nil {
		return nil, err
	}
	var runs []*qrun.Run
	for _, obj := range objects {
		id, ok := strings.CutSuffix(strings.TrimPrefix(obj.Key, "runs/"), "/run.json")
		if !ok || strings.Contains(id, "/") {
			continue
		}
		run, err := s.LoadRun(ctx, id)
		if err != nil {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID > runs[j].RunID })
	return runs, nil
}

var (
	_ Archive   = (*S3Archive)(nil)
	_ RunReader = (*S3Archive)(nil)
)
