// Package snapshot persists checkpoints of the matcher: the global
// offset, every pair's book with its own offset, and every address's
// reserved balances and order history.
//
// A snapshot is written to a temporary file and renamed into place, so
// a reader only ever sees complete snapshots. Recovery loads the newest
// one and replays the event log after it.
package snapshot
