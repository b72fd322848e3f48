package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeConverter struct {
	mu    sync.Mutex
	urls  []string
	mids  []string
	err   error
	block chan struct{}
}

func (f *fakeConverter) Convert(ctx context.Context, sourceURL string, targetBytes int64, opts Options) (*Result, error) {
	f.mu.Lock()
	f.urls = append(f.urls, sourceURL)
	f.mu.Unlock()
	return f.finish(ctx, sourceURL)
}

func (f *fakeConverter) ConvertSong(ctx context.Context, mid string, targetBytes int64, opts Options) (*Result, error) {
	f.mu.Lock()
	f.mids = append(f.mids, mid)
	f.mu.Unlock()
	return f.finish(ctx, mid)
}

func (f *fakeConverter) finish(ctx context.Context, ref string) (*Result, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Result{OutputPath: "/out/" + ref + ".wav"}, nil
}

func newTestPool(conv Converter, workers, queueSize int) *Pool {
	return NewPool(PoolOptions{
		Converter: conv,
		Workers:   workers,
		QueueSize: queueSize,
		Log:       zerolog.Nop(),
	})
}

// fillQueue parks n jobs in a pool without workers; each submitter gives up
// quickly but the job stays queued.
func fillQueue(t *testing.T, p *Pool, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		_, err := p.Submit(ctx, Job{SourceURL: "http://h/a.wav"})
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Submit #%d err = %v, want deadline exceeded", i, err)
		}
	}
}

func TestNewPool(t *testing.T) {
	p := newTestPool(&fakeConverter{}, 4, 100)
	if cap(p.jobs) != 100 {
		t.Errorf("queue capacity = %d, want 100", cap(p.jobs))
	}
	if p.Workers() != 4 {
		t.Errorf("Workers = %d, want 4", p.Workers())
	}
}

func TestPool_SubmitReturnsResult(t *testing.T) {
	conv := &fakeConverter{}
	p := newTestPool(conv, 2, 4)
	p.Start()
	defer p.Stop()

	res, err := p.Submit(context.Background(), Job{MID: "m1", SourceURL: "http://ignored"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.OutputPath != "/out/m1.wav" {
		t.Errorf("OutputPath = %q", res.OutputPath)
	}

	res, err = p.Submit(context.Background(), Job{SourceURL: "http://h/x.flac"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.OutputPath != "/out/http://h/x.flac.wav" {
		t.Errorf("OutputPath = %q", res.OutputPath)
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	if len(conv.mids) != 1 || len(conv.urls) != 1 {
		t.Errorf("mids = %v, urls = %v; MID must win over SourceURL", conv.mids, conv.urls)
	}
}

func TestPool_SubmitPropagatesError(t *testing.T) {
	want := &PipelineError{Stage: StageDecode, Ref: "x", Err: errors.New("bad header")}
	p := newTestPool(&fakeConverter{err: want}, 1, 1)
	p.Start()
	defer p.Stop()

	_, err := p.Submit(context.Background(), Job{SourceURL: "http://h/x"})
	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Stage != StageDecode {
		t.Fatalf("err = %v, want decode PipelineError", err)
	}

	// Stats are updated after the result is delivered.
	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().Failed != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := p.Stats().Failed; got != 1 {
		t.Errorf("Failed = %d, want 1", got)
	}
}

func TestPool_QueueFull(t *testing.T) {
	p := newTestPool(&fakeConverter{}, 0, 2) // 0 workers = nobody draining
	fillQueue(t, p, 2)

	_, err := p.Submit(context.Background(), Job{SourceURL: "http://h/c.wav"})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := newTestPool(&fakeConverter{}, 1, 10)
	p.Start()
	p.Stop()

	_, err := p.Submit(context.Background(), Job{SourceURL: "http://h/a.wav"})
	if !errors.Is(err, ErrPoolStopped) {
		t.Errorf("err = %v, want ErrPoolStopped", err)
	}
	p.Stop() // second Stop is a no-op
}

func TestPool_Stats(t *testing.T) {
	p := newTestPool(&fakeConverter{}, 0, 10)
	fillQueue(t, p, 2)

	stats := p.Stats()
	if stats.Pending != 2 {
		t.Errorf("Pending = %d, want 2", stats.Pending)
	}
	if p.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", p.Pending())
	}
	if stats.Completed != 0 || stats.Failed != 0 {
		t.Errorf("Completed = %d, Failed = %d, want 0", stats.Completed, stats.Failed)
	}
}

func TestPool_StaleJobsSkipped(t *testing.T) {
	conv := &fakeConverter{}
	p := newTestPool(conv, 1, 10)
	fillQueue(t, p, 3)
	p.Start()
	p.Stop()

	conv.mu.Lock()
	defer conv.mu.Unlock()
	if len(conv.urls) != 0 {
		t.Errorf("converted %d abandoned jobs, want 0", len(conv.urls))
	}
	if got := p.Stats().Failed; got != 3 {
		t.Errorf("Failed = %d, want 3", got)
	}
}

func TestPool_JobTimeout(t *testing.T) {
	conv := &fakeConverter{block: make(chan struct{})}
	p := NewPool(PoolOptions{
		Converter:  conv,
		Workers:    1,
		QueueSize:  1,
		JobTimeout: 20 * time.Millisecond,
		Log:        zerolog.Nop(),
	})
	p.Start()
	defer p.Stop()

	_, err := p.Submit(context.Background(), Job{MID: "slow"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestPool_StopDrains(t *testing.T) {
	p := newTestPool(&fakeConverter{}, 2, 10)
	p.Start()

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return within 5 seconds")
	}
}
