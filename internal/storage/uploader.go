package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// AsyncUploader pushes published artifacts to S3 without blocking the
// command reply. Files are already on local disk before being enqueued here.
type AsyncUploader struct {
	s3       remote
	workers  int
	ch       chan uploadJob
	log      zerolog.Logger
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once

	uploaded atomic.Int64
	failed   atomic.Int64
}

type uploadJob struct {
	key  string
	path string
}

// NewAsyncUploader creates an async S3 uploader with the given buffer size.
func NewAsyncUploader(s3 *S3Store, workers, bufferSize int, log zerolog.Logger) *AsyncUploader {
	return newAsyncUploader(s3, workers, bufferSize, log)
}

func newAsyncUploader(s3 remote, workers, bufferSize int, log zerolog.Logger) *AsyncUploader {
	if workers < 1 {
		workers = 1
	}
	return &AsyncUploader{
		s3:      s3,
		workers: workers,
		ch:      make(chan uploadJob, bufferSize),
		log:     log.With().Str("component", "async-uploader").Logger(),
	}
}

// Enqueue adds an S3 upload job. Non-blocking, drops with a warning if full
// or stopped; the file stays on local disk either way.
func (u *AsyncUploader) Enqueue(key, path string) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.stopped {
		return
	}
	select {
	case u.ch <- uploadJob{key: key, path: path}:
	default:
		u.log.Warn().Str("key", key).Msg("async upload queue full, skipping (file kept locally)")
	}
}

// Start launches worker goroutines.
func (u *AsyncUploader) Start() {
	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", u.workers).Int("buffer", cap(u.ch)).Msg("async uploader started")
}

// Stop rejects new uploads and waits for queued ones to drain.
func (u *AsyncUploader) Stop() {
	u.stopOnce.Do(func() {
		u.mu.Lock()
		u.stopped = true
		close(u.ch)
		u.mu.Unlock()
	})
	u.wg.Wait()
	u.log.Info().Int64("uploaded", u.uploaded.Load()).Int64("failed", u.failed.Load()).Msg("async uploader stopped")
}

func (u *AsyncUploader) worker() {
	defer u.wg.Done()
	for job := range u.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		if err := u.s3.Publish(ctx, job.key, job.path); err != nil {
			u.failed.Add(1)
			u.log.Error().Err(err).Str("key", job.key).Msg("async S3 upload failed (file kept locally)")
		} else {
			u.uploaded.Add(1)
		}
		cancel()
	}
}
