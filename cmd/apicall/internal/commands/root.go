package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gaborage/apicall/config"
	apihttp "github.com/gaborage/apicall/http"
	"github.com/gaborage/apicall/logger"
	"github.com/gaborage/apicall/observability"
)

// RootOptions holds the flags shared by every command
type RootOptions struct {
	ConfigFile string
	LogLevel   string
}

// NewRootCommand creates the apicall command tree
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{}

	rootCmd := &cobra.Command{
		Use:   "apicall",
		Short: "Call HTTP APIs with retries and backoff",
		Long: `Resilient HTTP calls from the command line.

Calls are retried on failure with a fixed delay or exponential backoff,
except for the status codes listed as non-retryable. Client defaults come
from config.yaml and APICALL_* environment variables.`,
		Version:       version,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "Configuration file (default: config.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Override the configured log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(
		NewCallCommand(opts),
		NewBatchCommand(opts),
		NewVersionCommand(version),
	)
	return rootCmd
}

// session is the configured client of one command run
type session struct {
	cfg      *config.Config
	log      logger.Logger
	client   apihttp.Client
	provider observability.Provider
}

func newSession(opts *RootOptions, logOut io.Writer) (*session, error) {
	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	log := logger.NewWithWriter(logOut, level, cfg.Log.Pretty, nil)

	provider, err := observability.NewProvider(&cfg.Observability, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	return &session{
		cfg:      cfg,
		log:      log,
		client:   apihttp.NewFromConfig(&cfg.Client, log, provider),
		provider: provider,
	}, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

// Close flushes pending telemetry
func (s *session) Close() {
	if err := observability.Shutdown(s.provider, observability.DefaultShutdownTimeout); err != nil {
		s.log.Warn().Err(err).Msg("Failed to flush telemetry")
	}
}
