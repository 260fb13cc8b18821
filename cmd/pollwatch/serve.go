package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pollwatch"
	"github.com/jpalmerr/pollwatch/config"
)

const shutdownTimeout = 10 * time.Second

// newLogger returns a JSON logger writing to w.
func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard server",
	Long: `Start polling every configured watch and serve the dashboard.

The server runs until interrupted (Ctrl+C) or it receives SIGTERM.

Example:
  pollwatch serve -c config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

// loadPollWatch loads the config file and builds a PollWatch from it.
func loadPollWatch(path string, logger *slog.Logger, extra ...pollwatch.Option) (*pollwatch.PollWatch, *config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	watches, err := config.BuildWatches(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build watches: %w", err)
	}

	opts := []pollwatch.Option{
		pollwatch.WithWatches(watches...),
		pollwatch.WithPort(cfg.Port),
		pollwatch.WithPollingInterval(cfg.PollInterval.Duration()),
		pollwatch.WithLogger(logger),
		pollwatch.WithTitle(cfg.Title),
	}
	pw, err := pollwatch.New(append(opts, extra...)...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pollwatch: %w", err)
	}
	return pw, cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger(os.Stderr)

	configFile, _ := cmd.Flags().GetString("config")
	pw, cfg, err := loadPollWatch(configFile, logger)
	if err != nil {
		return err
	}

	logger.Info("config loaded", "watches", len(cfg.Watches))
	logger.Info("starting server",
		"port", cfg.Port,
		"poll_interval", cfg.PollInterval.Duration().String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- pw.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		if !waitShutdown(errChan, logger) {
			return nil
		}
	}
	logger.Info("shutdown complete")
	return nil
}

// waitShutdown waits for Start to return after cancellation. It reports
// false if the timeout expired first.
func waitShutdown(errChan <-chan error, logger *slog.Logger) bool {
	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("shutdown error", "error", err)
		}
		return true
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out",
			"timeout", shutdownTimeout.String(),
			"action", "forcing exit",
		)
		return false
	}
}
