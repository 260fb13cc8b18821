// Package poller runs the HTTP watches behind PollWatch.
//
// The main components are:
//
//   - [Client]: HTTP client wrapper with per-request timeouts and a body limit
//   - [Group]: one [poll.Poller] per watch, fanning state changes into a
//     single results channel
//   - [WatchInfo]: configuration for one watch
//   - [WatchStatus]: the state of a watch after a change
//
// Users of the pollwatch library should not need this package directly.
package poller
