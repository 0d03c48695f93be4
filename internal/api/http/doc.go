// Package http serves the gateway REST API for local UIs.
//
// Handlers answer from the in-memory state store wherever possible and
// only reach the node daemon for operations that must mutate daemon
// state (install, uninstall, mirroring toggles, resets). Responses use
// plain JSON envelopes; errors map domain sentinels onto HTTP status
// codes in one place so every handler reports failures the same way.
package http
