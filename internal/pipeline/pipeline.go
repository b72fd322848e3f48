package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/musicbot/internal/audio"
	"github.com/snarg/musicbot/internal/fetch"
	"github.com/snarg/musicbot/internal/metrics"
)

// DefaultTargetBytes is used when neither the caller nor the config sets a target.
const DefaultTargetBytes = 5 << 20

// Stage names the pipeline step that failed.
type Stage string

const (
	StageResolve   Stage = "resolve"
	StageFetch     Stage = "fetch"
	StageDecode    Stage = "decode"
	StageTranscode Stage = "transcode"
	StageWrite     Stage = "write"
)

// PipelineError wraps the failure of one stage. Use errors.As to reach the
// underlying *fetch.FetchError, *musicapi.ResolutionError,
// *audio.DecodeError or *audio.TranscodeError.
type PipelineError struct {
	Stage Stage
	Ref   string // source URL (redacted) or song mid
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s stage failed for %s: %v", e.Stage, e.Ref, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Resolver turns a song identifier into a playable URL.
type Resolver interface {
	ResolveURL(ctx context.Context, mid string) (string, error)
}

// Options are per-invocation switches.
type Options struct {
	// KeepSource leaves the downloaded source file in place after a
	// successful conversion. Failed conversions always clean up.
	KeepSource bool
}

// Result is the artifact produced by a successful conversion.
type Result struct {
	OutputPath string
	Key        string // OutputPath relative to the output directory
	SizeBytes  int64
	Source     audio.Parameters
	Plan       audio.Plan // Plan.BitDepth drives the estimate; output is always 16-bit
	SourcePath string     // set only when the source was kept
}

// Config configures an Orchestrator.
type Config struct {
	WorkDir      string
	OutputDir    string
	TargetBytes  int64
	FetchTimeout time.Duration
	Resolver     Resolver
	HTTPClient   *http.Client // optional; built from FetchTimeout when nil
	Log          zerolog.Logger
}

// Orchestrator runs fetch → decode → plan → transcode → write for one source
// at a time per call. Calls share no mutable state and may run concurrently.
type Orchestrator struct {
	workDir     string
	outputDir   string
	targetBytes int64
	resolver    Resolver
	client      *http.Client
	log         zerolog.Logger
	now         func() time.Time
	newID       func() string
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	target := cfg.TargetBytes
	if target <= 0 {
		target = DefaultTargetBytes
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.FetchTimeout
		if timeout <= 0 {
			timeout = fetch.DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Orchestrator{
		workDir:     cfg.WorkDir,
		outputDir:   cfg.OutputDir,
		targetBytes: target,
		resolver:    cfg.Resolver,
		client:      client,
		log:         cfg.Log,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// TargetBytes returns the default target size.
func (o *Orchestrator) TargetBytes() int64 { return o.targetBytes }

// OutputDir returns the directory converted files are written under.
func (o *Orchestrator) OutputDir() string { return o.outputDir }

// ConvertSong resolves mid to a URL and converts it. A resolution failure is
// reported as a StageResolve error and nothing is fetched.
func (o *Orchestrator) ConvertSong(ctx context.Context, mid string, targetBytes int64, opts Options) (*Result, error) {
	if o.resolver == nil {
		return nil, o.fail(StageResolve, mid, fmt.Errorf("no resolver configured"), time.Now())
	}
	start := time.Now()
	sourceURL, err := o.resolver.ResolveURL(ctx, mid)
	if err != nil {
		return nil, o.fail(StageResolve, mid, err, start)
	}
	return o.Convert(ctx, sourceURL, targetBytes, opts)
}

// Convert downloads sourceURL and writes a WAV no larger than targetBytes
// where the planner can manage it. A targetBytes <= 0 uses the configured
// default. The per-call work directory is removed on every exit path unless
// opts.KeepSource is set and the conversion succeeded.
func (o *Orchestrator) Convert(ctx context.Context, sourceURL string, targetBytes int64, opts Options) (res *Result, err error) {
	start := time.Now()
	if targetBytes <= 0 {
		targetBytes = o.targetBytes
	}
	ref := fetch.RedactURL(sourceURL)
	id := o.newID()
	log := o.log.With().Str("conversion", id[:8]).Str("source", ref).Logger()

	workDir := filepath.Join(o.workDir, id)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, o.fail(StageFetch, ref, fmt.Errorf("create work dir: %w", err), start)
	}
	defer func() {
		if err != nil || !opts.KeepSource {
			if rmErr := os.RemoveAll(workDir); rmErr != nil {
				log.Warn().Err(rmErr).Str("dir", workDir).Msg("failed to remove work dir")
			}
		}
	}()

	// 1. Fetch
	fetched, err := fetch.NewWithClient(workDir, o.client).Fetch(ctx, sourceURL, "")
	if err != nil {
		return nil, o.fail(StageFetch, ref, err, start)
	}
	metrics.FetchedBytes.Add(float64(fetched.Size))
	log.Debug().Str("size", humanize.Bytes(uint64(fetched.Size))).Msg("source fetched")

	// 2. Decode
	pcm, params, err := audio.Decode(fetched.Path)
	if err != nil {
		return nil, o.fail(StageDecode, ref, err, start)
	}

	// 3. Estimate + plan
	plan := audio.PlanDegradation(params, targetBytes)
	metrics.DegradationsTotal.WithLabelValues(degradationKind(params, plan)).Inc()
	log.Debug().
		Int("rate", params.SampleRate).
		Int("channels", params.Channels).
		Int("bit_depth", params.BitDepth).
		Float64("duration_s", params.Duration).
		Int64("estimate", params.EstimatedBytes()).
		Int64("target", targetBytes).
		Int("plan_rate", plan.SampleRate).
		Int("plan_channels", plan.Channels).
		Msg("degradation planned")

	// 4. Transcode
	out, err := audio.Transcode(pcm, plan)
	if err != nil {
		return nil, o.fail(StageTranscode, ref, err, start)
	}

	// 5. Write
	key := filepath.ToSlash(filepath.Join(o.now().Format("2006-01-02"), outputName(fetched.Path, id)))
	outPath := filepath.Join(o.outputDir, filepath.FromSlash(key))
	size, err := audio.WriteWAV(outPath, out)
	if err != nil {
		return nil, o.fail(StageWrite, ref, err, start)
	}

	res = &Result{
		OutputPath: outPath,
		Key:        key,
		SizeBytes:  size,
		Source:     params,
		Plan:       plan,
	}
	if opts.KeepSource {
		res.SourcePath = fetched.Path
	}

	metrics.ConversionsTotal.WithLabelValues("ok").Inc()
	metrics.ConversionDuration.Observe(time.Since(start).Seconds())
	metrics.OutputSize.Observe(float64(size))
	log.Info().
		Str("output", outPath).
		Str("size", humanize.Bytes(uint64(size))).
		Int("rate", plan.SampleRate).
		Int("channels", plan.Channels).
		Dur("elapsed", time.Since(start)).
		Msg("conversion complete")
	return res, nil
}

func (o *Orchestrator) fail(stage Stage, ref string, err error, start time.Time) error {
	metrics.ConversionsTotal.WithLabelValues(string(stage)).Inc()
	metrics.ConversionDuration.Observe(time.Since(start).Seconds())
	o.log.Warn().Err(err).Str("stage", string(stage)).Str("ref", ref).Msg("conversion failed")
	return &PipelineError{Stage: stage, Ref: ref, Err: err}
}

func outputName(sourcePath, id string) string {
	base := filepath.Base(sourcePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" {
		base = "audio"
	}
	return base + "-" + id[:8] + ".wav"
}

func degradationKind(src audio.Parameters, plan audio.Plan) string {
	rate := plan.SampleRate != src.SampleRate
	mono := plan.Channels != src.Channels
	switch {
	case rate && mono:
		return "rate_mono"
	case rate:
		return "rate"
	case mono:
		return "mono"
	default:
		return "identity"
	}
}
