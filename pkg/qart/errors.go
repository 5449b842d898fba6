package qart

import "errors"

var (
	ErrNotFound      = errors.New("artifact not found")
	ErrNoArtifactKey = errors.New("stage publishes no artifact")
	ErrBucketMissing = errors.New("bucket does not exist")
)
