// Package update keeps the auto-update failure ledger and retries
// failed updates across a package's remaining mirrors.
//
// The ledger holds only failures reported for automatic updates,
// never user-initiated downloads. Per-package aggregates are derived
// on every query and never stored.
package update
