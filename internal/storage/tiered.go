package storage

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// remote is the slice of S3Store the tiered store, uploader and pruner use.
type remote interface {
	Publish(ctx context.Context, key, localPath string) error
	URL(ctx context.Context, key string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) bool
}

// TieredStore combines local disk (source of truth) with S3 (backup/durability).
// Write path: publish locally first (never block on S3), then queue the upload.
// Read path: local first, S3 fallback with cache-on-read.
type TieredStore struct {
	s3       remote
	local    *LocalStore
	uploader *AsyncUploader
	log      zerolog.Logger
}

// NewTieredStore creates a tiered local-primary + S3-backup store. A nil
// uploader makes S3 writes synchronous.
func NewTieredStore(s3 *S3Store, local *LocalStore, uploader *AsyncUploader, log zerolog.Logger) *TieredStore {
	return newTieredStore(s3, local, uploader, log)
}

func newTieredStore(s3 remote, local *LocalStore, uploader *AsyncUploader, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		s3:       s3,
		local:    local,
		uploader: uploader,
		log:      log.With().Str("component", "tiered-store").Logger(),
	}
}

// Publish writes to local disk first (fatal on failure), then S3 (warning on
// failure). The pruner will not evict a file that never reached S3.
func (s *TieredStore) Publish(ctx context.Context, key, localPath string) error {
	if err := s.local.Publish(ctx, key, localPath); err != nil {
		return err
	}
	path := s.local.LocalPath(key)
	if s.uploader != nil {
		s.uploader.Enqueue(key, path)
		return nil
	}
	if err := s.s3.Publish(ctx, key, path); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("S3 backup write failed, file kept locally")
	}
	return nil
}

func (s *TieredStore) LocalPath(key string) string {
	return s.local.LocalPath(key)
}

func (s *TieredStore) URL(ctx context.Context, key string) (string, error) {
	return s.s3.URL(ctx, key)
}

// Open returns a reader for the artifact. Checks local disk first, then
// falls back to S3. On S3 hit, the file is cached locally for future reads.
func (s *TieredStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if r, err := s.local.Open(ctx, key); err == nil {
		return r, nil
	}
	r, err := s.s3.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// Spool to a temp file, then publish it locally so the next read is a hit.
	tmp, err := os.CreateTemp("", "artifact-*.tmp")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	_, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil {
		return nil, copyErr
	}
	if closeErr != nil {
		return nil, closeErr
	}

	if err := s.local.Publish(ctx, key, tmpPath); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache S3 file locally")
		return nil, err
	}
	return s.local.Open(ctx, key)
}

func (s *TieredStore) Exists(ctx context.Context, key string) bool {
	if s.local.Exists(ctx, key) {
		return true
	}
	return s.s3.Exists(ctx, key)
}

func (s *TieredStore) Type() string { return "tiered" }
