package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/musicbot/internal/fetch"
)

var (
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("conversion queue full")
	// ErrPoolStopped is returned by Submit after Stop.
	ErrPoolStopped = errors.New("conversion pool stopped")
)

// Converter is the work a pool worker performs.
type Converter interface {
	Convert(ctx context.Context, sourceURL string, targetBytes int64, opts Options) (*Result, error)
	ConvertSong(ctx context.Context, mid string, targetBytes int64, opts Options) (*Result, error)
}

// Job is one conversion request. Exactly one of MID or SourceURL is used;
// MID wins when both are set.
type Job struct {
	MID         string
	SourceURL   string
	TargetBytes int64
	Options     Options
}

func (j Job) ref() string {
	if j.MID != "" {
		return j.MID
	}
	return fetch.RedactURL(j.SourceURL)
}

type jobResult struct {
	res *Result
	err error
}

type queuedJob struct {
	ctx  context.Context
	job  Job
	done chan jobResult
}

// QueueStats reports the current state of the conversion queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Capacity  int   `json:"capacity"`
	Workers   int   `json:"workers"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// PoolOptions configures the conversion worker pool.
type PoolOptions struct {
	Converter  Converter
	Workers    int
	QueueSize  int
	JobTimeout time.Duration // 0 = no per-job limit beyond the caller's context
	Log        zerolog.Logger
}

// Pool bounds how many conversions run at once. Each job is still a single
// sequential pipeline run.
type Pool struct {
	jobs chan queuedJob
	conv Converter
	opts PoolOptions
	log  zerolog.Logger
	wg   sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a conversion pool. Call Start before submitting work that
// must make progress.
func NewPool(opts PoolOptions) *Pool {
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	return &Pool{
		jobs: make(chan queuedJob, opts.QueueSize),
		conv: opts.Converter,
		opts: opts,
		log:  opts.Log,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info().Int("workers", p.opts.Workers).Int("queue_size", p.opts.QueueSize).Msg("conversion pool started")
}

// Stop rejects new jobs, lets workers drain the queue and waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info().
		Int64("completed", p.completed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("conversion pool stopped")
}

// Submit enqueues job without blocking and waits for its result or ctx.
// It returns ErrQueueFull when no slot is free.
func (p *Pool) Submit(ctx context.Context, job Job) (*Result, error) {
	q := queuedJob{ctx: ctx, job: job, done: make(chan jobResult, 1)}

	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return nil, ErrPoolStopped
	}
	select {
	case p.jobs <- q:
		p.mu.RUnlock()
	default:
		p.mu.RUnlock()
		return nil, ErrQueueFull
	}

	select {
	case r := <-q.done:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns current queue statistics.
func (p *Pool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(p.jobs),
		Capacity:  cap(p.jobs),
		Workers:   p.opts.Workers,
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Pending returns the number of queued jobs.
func (p *Pool) Pending() int { return len(p.jobs) }

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.opts.Workers }

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for q := range p.jobs {
		res, err := p.run(q)
		if err != nil {
			p.failed.Add(1)
			log.Debug().Err(err).Str("ref", q.job.ref()).Msg("conversion job failed")
		} else {
			p.completed.Add(1)
		}
		q.done <- jobResult{res: res, err: err}
	}
}

func (p *Pool) run(q queuedJob) (*Result, error) {
	ctx := q.ctx
	if err := ctx.Err(); err != nil {
		// Submitter already gave up while the job sat in the queue.
		return nil, err
	}
	if p.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.JobTimeout)
		defer cancel()
	}
	if q.job.MID != "" {
		return p.conv.ConvertSong(ctx, q.job.MID, q.job.TargetBytes, q.job.Options)
	}
	return p.conv.Convert(ctx, q.job.SourceURL, q.job.TargetBytes, q.job.Options)
}
