// Package engine routes commands to aggregate streams.
//
// The router resolves a stream from the command type, loads state, decides, and
// appends the resulting events in one optimistic batch. Commands for the same
// stream are serialized inside one process; different streams proceed in parallel.
// Across processes the log's expected-version check is the arbiter.
package engine
