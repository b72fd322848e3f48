package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/snarg/musicbot/internal/api"
	"github.com/snarg/musicbot/internal/command"
	"github.com/snarg/musicbot/internal/config"
	"github.com/snarg/musicbot/internal/metrics"
	"github.com/snarg/musicbot/internal/musicapi"
	"github.com/snarg/musicbot/internal/pipeline"
	"github.com/snarg/musicbot/internal/storage"
	"github.com/spf13/cobra"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP command endpoint (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o := flags.overrides()
			o.HTTPAddr = listen
			return runServe(cmd.Context(), o)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (default :8080)")
	return cmd
}

func runServe(parent context.Context, overrides config.Overrides) error {
	startTime := time.Now()

	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg.LogLevel, os.Stdout)
	log.Info().Str("version", version).Msg("musicbot starting")

	if parent == nil {
		parent = context.Background()
	}
	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.WorkDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	// Upstream music API
	client := musicapi.NewClient(musicapi.Options{
		BaseURL:           cfg.MusicServer,
		Timeout:           cfg.UpstreamTimeout,
		RequestsPerSecond: cfg.UpstreamRPS,
	})

	// Conversion pipeline + worker pool
	orch := pipeline.New(pipeline.Config{
		WorkDir:      cfg.WorkDir,
		OutputDir:    cfg.OutputDir,
		TargetBytes:  cfg.TargetSizeBytes,
		FetchTimeout: cfg.FetchTimeout,
		Resolver:     client,
		Log:          log.With().Str("component", "pipeline").Logger(),
	})
	pool := pipeline.NewPool(pipeline.PoolOptions{
		Converter:  orch,
		Workers:    cfg.Workers,
		QueueSize:  cfg.QueueSize,
		JobTimeout: cfg.JobTimeout,
		Log:        log.With().Str("component", "pool").Logger(),
	})
	pool.Start()

	// Artifact storage
	store, services, err := storage.New(storage.Options{
		S3:        cfg.S3,
		OutputDir: cfg.OutputDir,
		Retention: cfg.OutputRetention,
		MaxMB:     cfg.OutputMaxMB,
	}, log.With().Str("component", "storage").Logger())
	if err != nil {
		pool.Stop()
		return err
	}
	for _, s := range services {
		s.Start()
	}

	// Command layer
	cache := command.NewMemoryCache()
	handler := command.NewHandler(command.Options{
		Searcher:    client,
		Submitter:   pool,
		Publisher:   store,
		Cache:       cache,
		TargetBytes: cfg.TargetSizeBytes,
		KeepSource:  cfg.KeepSource,
		Log:         log,
	})

	collector := metrics.NewCollector(pool, cache)
	prometheus.MustRegister(collector)
	defer prometheus.Unregister(collector)

	log.Info().
		Str("music_server", client.BaseURL()).
		Str("target", humanize.IBytes(uint64(cfg.TargetSizeBytes))).
		Str("storage", store.Type()).
		Str("output_dir", orch.OutputDir()).
		Msg("pipeline ready")

	// HTTP Server
	srv := api.NewServer(api.ServerOptions{
		Config:    cfg,
		Commands:  handler,
		Pool:      pool,
		Store:     store,
		Version:   version,
		StartTime: startTime,
		Log:       log.With().Str("component", "http").Logger(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error().Err(serveErr).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	handler.Close()
	pool.Stop()
	for _, s := range services {
		s.Stop()
	}

	log.Info().Msg("musicbot stopped")
	return serveErr
}
