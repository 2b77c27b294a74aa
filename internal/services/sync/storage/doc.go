// Package storage defines the read-model persistence contracts for the sync
// service.
//
// Projectors describe their effects as mutations against a single read model
// they own; a ProjectionStore commits those mutations together with the
// projector's cursor so a crash never leaves a cursor ahead of its data.
// Implementations (SQLite for the query views, bbolt for feed enrichment) live in
// subpackages.
//
// Common error types:
//   - ErrNotFound: requested record is missing
//   - ErrReadModelNotOwned: a projector tried to write outside its read model
package storage
