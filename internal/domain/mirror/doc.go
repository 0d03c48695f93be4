// Package mirror selects a download source for a package archive.
//
// Candidates come from the publisher node, the listing metadata, and
// any mirrors the user added by hand. HTTP origins are assumed
// reachable and win without probing. Node mirrors go through the
// daemon's liveness check, all probes in flight at once, and the
// first to come back online is taken. Every probe verdict lands in
// the state store so the UI can show per-mirror health.
package mirror
