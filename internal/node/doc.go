// Package node is the client for the local store daemon: a typed REST
// surface for listings, downloads, installs, and updates, plus a push
// channel listener for transfer progress events.
//
// Reads and writes travel over separate HTTP clients. Reads retry,
// writes never do, since the daemon's mutations are not idempotent.
// Both share one rate limiter and one circuit breaker so a sick daemon
// is backed off as a whole.
package node
