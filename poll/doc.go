// Package poll runs an asynchronous check on a fixed delay and tracks its
// outcome for a view layer.
//
// A [Poller] repeatedly invokes an [Operation] until the operation reports
// that polling should stop (by returning false), fails, or the Poller is
// stopped. Around every invocation the Poller emits a +1/-1 pair to a
// [LoadingFunc], so a caller can drive a busy indicator, and it keeps the
// most recent failure available through [Poller.Err].
//
// # Sessions
//
// Every call to [Poller.Start], [Poller.Reconfigure] or [Poller.Refresh]
// begins a new session identified by a monotonically increasing chain id.
// Stopping increments the chain id, so an invocation that was in flight
// when its session ended completes normally but neither reschedules nor
// touches the last error.
//
// The next invocation is scheduled Interval after the previous one
// completes (fixed delay), so slow operations never overlap within a
// session.
//
// # Teardown
//
// [Poller.Close] stops the current session and waits for in-flight work.
// Once Close returns no timer remains and no further loading deltas,
// errors or listener notifications are emitted.
package poll
