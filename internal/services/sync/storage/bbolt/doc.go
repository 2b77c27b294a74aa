// Package bbolt stores feed title enrichment state in a BoltDB file.
//
// The feed_titles projector owns the queued lookups and commits them through
// the same Commit contract as the SQLite views. The enrichment worker records
// its results in a separate bucket that Reset leaves alone, so a rebuilt queue
// picks resolved titles back up.
package bbolt
