// Package memory provides typed object pools for hot-path allocations
// such as event log frames.
package memory
