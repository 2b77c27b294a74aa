// Package sqlite implements the sync event log and read-model storage on SQLite.
//
// The event log and the projections live in separate database files so the
// read models can be dropped and rebuilt from the log without touching it.
package sqlite
