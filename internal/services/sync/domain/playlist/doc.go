// Package playlist decides and folds user playlists.
package playlist
