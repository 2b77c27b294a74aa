// Package aggregate composes the per-user domain slices into one aggregate.
//
// A user stream folds subscription, episode, playlist, and settings events into a
// single State. Checkpoint events carry that State wholesale so replay can start
// from the latest checkpoint instead of the first event.
package aggregate
