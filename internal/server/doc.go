// Package server provides the HTTP surface of PollWatch:
//
//   - Dashboard: the embedded page at "/"
//   - REST API: "/api/watches", "/api/watches/{name}" and
//     "/api/watches/{name}/refresh"
//   - Streaming: Server-Sent Events at "/api/sse" and a WebSocket at "/api/ws"
//   - Metrics: "/metrics" when a handler is configured
//
// The server shuts down gracefully on context cancellation, with a 5-second
// timeout for in-flight requests.
package server
