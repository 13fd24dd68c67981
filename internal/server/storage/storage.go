package storage

import (
	"context"
	"fmt"
)

// Backend names a storage implementation.
type Backend string

const (
	BackendLocal Backend = "local"
	BackendS3    Backend = "s3"
)

// Config selects and configures a storage backend.
type Config struct {
	Backend   Backend
	LocalPath string
	S3        S3Config
}

// New creates the configured storage backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendLocal, "":
		return NewFileSystemStore(cfg.LocalPath)
	case BackendS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("s3 storage requires a bucket")
		}
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
