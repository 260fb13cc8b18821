package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/pollwatch"
	"github.com/jpalmerr/pollwatch/example/mockjobs"
	"github.com/jpalmerr/pollwatch/poll"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// mock job API (see mockjobs)
	go func() {
		if err := http.ListenAndServe(":9999", mockjobs.Handler(logger)); err != nil {
			logger.Error("mock server error", "error", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	untilSettled := pollwatch.UntilJSONField("state", mockjobs.StateFinished, mockjobs.StateFailed)

	var watches []pollwatch.Watch
	for _, id := range []string{"build-1", "build-2", "deploy-7"} {
		w, err := pollwatch.NewWatch(id, "http://localhost:9999/jobs/"+id,
			pollwatch.WithLabels("kind", "job"),
			pollwatch.WithCondition(untilSettled),
		)
		if err != nil {
			logger.Error("failed to create watch", "error", err)
			os.Exit(1)
		}
		watches = append(watches, w)
	}

	// fails every few polls; refresh it from the dashboard to resume
	flaky, err := pollwatch.NewWatch("flaky", "http://localhost:9999/jobs/flaky",
		pollwatch.WithCondition(pollwatch.PollForever),
		pollwatch.WithInterval(2*time.Second),
	)
	if err != nil {
		logger.Error("failed to create watch", "error", err)
		os.Exit(1)
	}
	watches = append(watches, flaky)

	pw, err := pollwatch.New(
		pollwatch.WithWatches(watches...),
		pollwatch.WithPollingInterval(3*time.Second),
		pollwatch.WithPort(8080),
		pollwatch.WithTitle("Job Watch Demo"),
		pollwatch.WithLogger(logger),
		pollwatch.WithStateCallback(func(s pollwatch.WatchState) {
			if s.State == poll.StateStopped && !s.Busy() {
				outcome := "finished"
				if s.Err != nil {
					outcome = "failed: " + s.Err.Error()
				}
				fmt.Printf("  %s %s after %d polls\n", s.Name, outcome, s.Invocations)
			}
		}),
	)
	if err != nil {
		logger.Error("failed to create pollwatch", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  PollWatch demo")
	fmt.Println()
	fmt.Println("  Open http://localhost:8080 in your browser")
	fmt.Println("  3 mock jobs poll until FINISHED or FAILED; 1 flaky endpoint polls forever")
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pw.Start(ctx); err != nil {
		logger.Error("pollwatch error", "error", err)
		os.Exit(1)
	}
}
