// Package types holds the data structures shared across the agent:
// package identifiers, chain listings, install state, download
// inventory, transfer events, and the error taxonomy for failed
// downloads.
//
// Identity:
//   - PackageID: name plus publisher node, "name:publisher" on the wire
//   - DownloadKey: "name:publisher:version_hash", keys one transfer
//
// Chain and daemon views:
//   - AppListing, OnchainMetadata: one package as indexed from chain
//   - PackageState: the daemon's record of an installed package
//   - DownloadItem: one entry of the local archive inventory
//
// Events and errors:
//   - PushEvent, ProgressData, CompleteData: transfer push channel
//   - DownloadError: typed download failures, including hash mismatches
package types
