package main

import (
	"context"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/pollwatch"
	"github.com/jpalmerr/pollwatch/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Show watches in the terminal",
	Long: `Poll every configured watch and show progress in the terminal.

The dashboard is still served on the configured port. Logs are discarded
unless --log-file is set, so they do not corrupt the terminal view.

Keys: up/down (j/k) to move, r to refresh the selected watch, R to refresh all,
q to quit.

Example:
  pollwatch tui -c config.yaml --log-file pollwatch.log`,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)

	tuiCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	tuiCmd.Flags().String("log-file", "", "write JSON logs to this file")
	_ = tuiCmd.MarkFlagRequired("config")
}

func runTUI(cmd *cobra.Command, args []string) error {
	var logOut io.Writer = io.Discard
	if path, _ := cmd.Flags().GetString("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := newLogger(logOut)

	// callbacks only fire once Start runs, after prog is set
	var prog *tea.Program
	forward := pollwatch.WithStateCallback(func(s pollwatch.WatchState) {
		prog.Send(tui.StatusMsg(s))
	})

	configFile, _ := cmd.Flags().GetString("config")
	pw, cfg, err := loadPollWatch(configFile, logger, forward)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(cfg.Watches))
	for _, w := range pw.Watches() {
		names = append(names, w.Name())
	}
	prog = tea.NewProgram(tui.New(cfg.Title, names, pw), tea.WithAltScreen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		err := pw.Start(ctx)
		if err != nil {
			prog.Quit()
		}
		errChan <- err
	}()

	if _, err := prog.Run(); err != nil {
		cancel()
		<-errChan
		return fmt.Errorf("terminal error: %w", err)
	}

	// the program has exited; stop polling and wait for callbacks to drain
	cancel()
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	default:
		if !waitShutdown(errChan, logger) {
			return nil
		}
	}
	logger.Info("shutdown complete")
	return nil
}
