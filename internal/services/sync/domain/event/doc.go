// Package event defines the canonical event envelope and event-type registry used by
// the sync write path.
//
// Events are immutable facts emitted by accepted decisions. The registry keeps the
// set of appendable types closed and classifies each type so the journal and the
// compactor can tell ordinary facts from checkpoints and deletion markers without
// decoding payloads.
package event
