// Package projection builds read models from the event log.
//
// Each projector is a pure mapping from one event to the mutations it implies
// for the single read model the projector owns. A Worker feeds a projector from
// the global log in position order and commits each event's mutations together
// with the projector's cursor, so replaying from any cursor converges on the
// same rows. A failing event is retried with backoff until it succeeds; it is
// never skipped and the cursor never passes it.
package projection
