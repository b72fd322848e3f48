package main

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/snarg/musicbot/internal/config"
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	envFile     string
	logLevel    string
	musicServer string
	workDir     string
	outputDir   string
}

func (g *globalFlags) overrides() config.Overrides {
	return config.Overrides{
		EnvFile:     g.envFile,
		LogLevel:    g.logLevel,
		MusicServer: g.musicServer,
		WorkDir:     g.workDir,
		OutputDir:   g.outputDir,
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	serveCmd := newServeCommand(flags)

	rootCmd := &cobra.Command{
		Use:           "musicbot",
		Short:         "Chat music bot: search, fetch and size-fit songs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Bare invocation runs the server.
		RunE: serveCmd.RunE,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.envFile, "env-file", "", "Path to .env file (default .env)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&flags.musicServer, "music-server", "", "Upstream music API base URL")
	pf.StringVar(&flags.workDir, "work-dir", "", "Directory for per-conversion temp files")
	pf.StringVar(&flags.outputDir, "output-dir", "", "Directory for converted audio")

	// serve's own flags also apply to the bare root invocation.
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newConvertCommand(flags))

	return rootCmd
}

func newLogger(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}
