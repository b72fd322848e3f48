package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/snarg/musicbot/internal/config"
	"github.com/snarg/musicbot/internal/musicapi"
	"github.com/snarg/musicbot/internal/pipeline"
	"github.com/spf13/cobra"
)

type convertFlags struct {
	target     string
	keepSource bool
	mid        string
	jsonOut    bool
}

type convertOutput struct {
	Path       string `json:"path"`
	SizeBytes  int64  `json:"size_bytes"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Degraded   bool   `json:"degraded"`
	SourcePath string `json:"source_path,omitempty"`
}

func newConvertCommand(flags *globalFlags) *cobra.Command {
	cf := &convertFlags{}

	cmd := &cobra.Command{
		Use:   "convert [url]",
		Short: "Fetch one source and write a size-fitted WAV",
		Long: "Fetch an audio source (WAV or FLAC) by URL, or resolve a song mid through\n" +
			"the music server with --mid, and write a WAV no larger than the target\n" +
			"size where sample-rate reduction and downmixing can manage it.",
		Args: func(cmd *cobra.Command, args []string) error {
			if cf.mid != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.overrides())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			var target int64
			if cf.target != "" {
				n, err := humanize.ParseBytes(cf.target)
				if err != nil || n == 0 {
					return fmt.Errorf("invalid --target %q", cf.target)
				}
				target = int64(n)
			}

			log := newLogger(cfg.LogLevel, cmd.ErrOrStderr())
			orch := pipeline.New(pipeline.Config{
				WorkDir:      cfg.WorkDir,
				OutputDir:    cfg.OutputDir,
				TargetBytes:  cfg.TargetSizeBytes,
				FetchTimeout: cfg.FetchTimeout,
				Resolver: musicapi.NewClient(musicapi.Options{
					BaseURL: cfg.MusicServer,
					Timeout: cfg.UpstreamTimeout,
				}),
				Log: log,
			})
			if target == 0 {
				target = orch.TargetBytes()
			}

			opts := pipeline.Options{KeepSource: cf.keepSource || cfg.KeepSource}
			var res *pipeline.Result
			if cf.mid != "" {
				res, err = orch.ConvertSong(cmd.Context(), cf.mid, target, opts)
			} else {
				res, err = orch.Convert(cmd.Context(), args[0], target, opts)
			}
			if err != nil {
				var pe *pipeline.PipelineError
				if errors.As(err, &pe) {
					return fmt.Errorf("conversion failed at %s: %w", pe.Stage, pe.Err)
				}
				return err
			}

			out := convertOutput{
				Path:       res.OutputPath,
				SizeBytes:  res.SizeBytes,
				SampleRate: res.Plan.SampleRate,
				Channels:   res.Plan.Channels,
				Degraded:   !res.Plan.IsIdentity(res.Source),
				SourcePath: res.SourcePath,
			}
			w := cmd.OutOrStdout()
			if cf.jsonOut {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			fmt.Fprintf(w, "%s\n", out.Path)
			fmt.Fprintf(w, "  size:     %s (target %s)\n", humanize.IBytes(uint64(out.SizeBytes)), humanize.IBytes(uint64(target)))
			fmt.Fprintf(w, "  format:   %d Hz, %d ch, 16-bit\n", out.SampleRate, out.Channels)
			if out.Degraded {
				fmt.Fprintf(w, "  degraded: from %d Hz, %d ch\n", res.Source.SampleRate, res.Source.Channels)
			}
			if out.SourcePath != "" {
				fmt.Fprintf(w, "  source:   %s\n", out.SourcePath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cf.target, "target", "", "Target size, e.g. 5MiB (default TARGET_SIZE_BYTES)")
	cmd.Flags().BoolVar(&cf.keepSource, "keep-source", false, "Keep the downloaded source file")
	cmd.Flags().StringVar(&cf.mid, "mid", "", "Resolve this song mid instead of taking a URL")
	cmd.Flags().BoolVar(&cf.jsonOut, "json", false, "Print the result as JSON")
	return cmd
}
