// Package compaction folds old stream history into checkpoint events and prunes
// the events a durable checkpoint makes redundant.
//
// A prune is only reachable through a journal.Receipt, and receipts are only
// minted from checkpoints the log has stored, so no event is removed before its
// replacement is durable. Deletion events suppress their targets on every run,
// independent of the retention threshold.
package compaction
