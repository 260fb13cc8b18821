// Package pollwatch polls HTTP resources until a condition is met and
// shows their progress on an embeddable live dashboard.
//
// A [Watch] is a URL plus a [Condition]. Each watch is polled by its own
// poll.Poller: the first request is made immediately, and the next one is
// scheduled a fixed interval after the previous response has been handled.
// The condition looks at each response and decides whether to keep polling,
// stop, or fail.
//
// # Quick Start
//
//	w, _ := pollwatch.NewWatch("Release build", "https://ci.example.com/api/jobs/42",
//	    pollwatch.WithCondition(pollwatch.UntilJSONField("state", "FINISHED", "FAILED")),
//	)
//	pw, _ := pollwatch.New(pollwatch.WithWatch(w))
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	pw.Start(ctx) // blocks until ctx is cancelled
//
// # Conditions
//
//   - [PollForever]: poll while responses are 2xx
//   - [UntilJSONField]: stop when a JSON field reaches one of several values
//   - [UntilContains]: stop when the body contains a string
//   - [UntilStatusCode]: stop on specific status codes
//   - [UntilRegex]: stop when a capture group matches
//   - [AnyStop]: stop when any of several conditions does
//
// A condition that returns an error stops the watch and records the error.
// Stopped watches resume with [PollWatch.Refresh] or the dashboard's
// refresh button, which start a new session.
//
// # Architecture
//
//   - poll: the Poller state machine, usable on its own
//   - internal/poller: one Poller per watch, HTTP client, status fan-in
//   - internal/store: in-memory state with pub/sub
//   - internal/server: REST API, Server-Sent Events, WebSocket, metrics
//   - internal/metrics: Prometheus instrumentation
//   - dashboard: embedded web UI
package pollwatch
