package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dan-solli/learngraph/pkg/config"
	"github.com/dan-solli/learngraph/pkg/jsonx"
	"github.com/dan-solli/learngraph/pkg/learngraph"
	"github.com/dan-solli/learngraph/pkg/metrics"
)

var rootCmd = &cobra.Command{
	Use:           "learngraph",
	Short:         "Knowledge graph and learner mastery engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("db", "", "Path to SQLite database file (overrides LEARNGRAPH_DB)")
	pf.String("config", "", "Path to YAML config file")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(laggingCmd)
	rootCmd.AddCommand(serveMetricsCmd)
}

// loadSettings reads the config file and applies flag overrides.
func loadSettings(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	s, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		s.DBPath = db
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		s.LogLevel = lvl
		if _, err := s.SlogLevel(); err != nil {
			return config.Config{}, err
		}
	}
	return s, nil
}

func newLogger(cmd *cobra.Command, s config.Config) *slog.Logger {
	lvl, _ := s.SlogLevel()
	opts := &slog.HandlerOptions{Level: lvl}
	if f, _ := cmd.Flags().GetString("log-format"); f == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openEngine opens the engine described by flags and config. forceMetrics
// builds a Prometheus collector even when config leaves metrics off.
func openEngine(ctx context.Context, cmd *cobra.Command, forceMetrics bool) (*learngraph.Engine, *metrics.MetricsCollector, error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, nil, err
	}
	if forceMetrics {
		s.Metrics.Enabled = true
	}
	logger := newLogger(cmd, s)
	slog.SetDefault(logger)

	cfg, collector, err := learngraph.ConfigFromSettings(ctx, s)
	if err != nil {
		return nil, nil, err
	}
	e, err := learngraph.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("engine opened", "db", cfg.DBPath, "notify", s.Notify.Backend)
	return e.WithLogger(logger), collector, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := jsonx.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
