// Package service runs the matcher: one goroutine per pair owns that
// pair's order book, and every event it produces passes through the
// journal, which assigns the offset, writes the event log, feeds the
// reserved balance ledger and records settlements, in that order.
//
// Recovery rebuilds books and ledger from the newest snapshot plus the
// event log before any order is accepted.
package service
