// Package episode decides and folds per-episode listening actions and history
// erasure for one user.
//
// Progress is keyed by feed and episode together so erasing one feed's history
// never touches progress recorded under another feed.
package episode
