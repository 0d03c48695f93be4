// Package download drives archive transfers: asking the daemon to
// pull from node mirrors, fetching directly from HTTP origins in
// ranged chunks, and folding both paths' progress into one stream of
// events.
//
// A transfer is registered optimistically the moment it starts and
// reconciled by push events keyed on name:publisher:version_hash. The
// one rule that keeps the UI honest: an optimistic entry never
// outlives its transfer without a terminal event.
package download
