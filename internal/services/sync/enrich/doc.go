// Package enrich resolves feed titles for subscribed feeds.
//
// The feed_titles projector queues one lookup per feed in the enrichment store;
// the Worker here drains due lookups, retrying failures with exponential backoff
// until they are dead-lettered.
package enrich
