// Package settings decides and folds per-user privacy flags and registered devices.
package settings
