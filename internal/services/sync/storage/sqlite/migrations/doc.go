// Package migrations contains embedded SQL migrations for the SQLite stores.
package migrations
