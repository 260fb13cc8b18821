// Standalone mock job server for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/pollwatch serve -c example/config.yaml
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jpalmerr/pollwatch/example/mockjobs"
)

func main() {
	fmt.Println("Mock job server starting on :9999")
	fmt.Println("GET /jobs/{id} runs for a few polls, then FINISHED or FAILED")
	fmt.Println("GET /jobs/flaky fails every 4th request")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := http.ListenAndServe(":9999", mockjobs.Handler(logger)); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
