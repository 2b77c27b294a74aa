// Package command defines the canonical command envelope and contract used across
// the write path.
//
// Commands express user intent after the transport and authorization layers have
// confirmed the caller may act as the target identity. They are never persisted:
// a command lives only while it is routed, decided, and either rejected or turned
// into events.
package command
