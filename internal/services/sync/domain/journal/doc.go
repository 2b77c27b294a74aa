// Package journal defines the append-only event log boundary.
//
// Appends are optimistic: the caller states the stream version it decided against
// and the log refuses the batch when another writer got there first. Compaction
// removes history only below a checkpoint the log can prove is durable.
package journal
