package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/musicbot/internal/config"
)

// ContentType is the MIME type of every converted artifact.
const ContentType = "audio/wav"

// ArtifactStore abstracts where converted audio lives once the pipeline has
// written it under the output directory.
type ArtifactStore interface {
	// Publish makes the file at localPath available under key.
	// key format: {YYYY-MM-DD}/{filename}
	Publish(ctx context.Context, key, localPath string) error

	// LocalPath returns the local filesystem path if the file exists on disk.
	// Returns "" if not available locally.
	LocalPath(key string) string

	// URL returns a presigned download URL.
	// Returns "" for local-only backends.
	URL(ctx context.Context, key string) (string, error)

	// Open returns a reader for the artifact.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an artifact exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// Options configures New.
type Options struct {
	S3        config.S3Config
	OutputDir string
	Retention time.Duration
	MaxMB     int
}

// New creates an ArtifactStore based on config. Returns the store and the
// background services (pruner, uploader) that the caller must Start/Stop.
// Returns an error if S3 is configured but unreachable.
func New(opts Options, log zerolog.Logger) (ArtifactStore, []BackgroundService, error) {
	local := NewLocalStore(opts.OutputDir)
	prune := opts.Retention > 0 || opts.MaxMB > 0

	if !opts.S3.Enabled() {
		var services []BackgroundService
		if prune {
			services = append(services, NewCachePruner(opts.OutputDir, opts.Retention, opts.MaxMB, nil, log))
		}
		return local, services, nil
	}

	s3store, err := NewS3Store(opts.S3, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			opts.S3.Bucket, opts.S3.Endpoint, err)
	}
	log.Info().Str("bucket", opts.S3.Bucket).Str("endpoint", opts.S3.Endpoint).Msg("S3 connection verified")

	var services []BackgroundService
	// The pipeline always writes locally first, so the output dir needs
	// pruning in both S3 modes. Files are only removed once they are in S3.
	if prune {
		services = append(services, NewCachePruner(opts.OutputDir, opts.Retention, opts.MaxMB, s3store, log))
	}

	if !opts.S3.LocalCache {
		return s3store, services, nil
	}

	// Tiered mode: local primary + async S3 backup
	uploader := NewAsyncUploader(s3store, opts.S3.UploadWorkers, 64, log)
	tiered := NewTieredStore(s3store, local, uploader, log)
	services = append(services, uploader)

	return tiered, services, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}
