// Package state holds the agent's view of the store: listings,
// installed packages, the download inventory, live transfer progress,
// mirror statuses, and user notifications.
//
// Several flows mutate the same maps concurrently, so every write is
// a keyed upsert under one lock and reads hand out copies. A merge
// never replaces a whole map, which keeps concurrent refreshes from
// discarding each other's entries.
package state
