// Package store keeps the latest state of every watch and fans updates out
// to subscribers.
//
// [MemoryStore] is the only implementation. Subscribers receive updates on
// buffered channels with non-blocking sends, so a slow subscriber misses
// updates instead of stalling the poll loop.
package store
