// Package install drives the per-package install lifecycle: parsing
// bundled manifests, holding capability approvals open, issuing
// install and uninstall requests, and deriving each package's
// lifecycle position from store state.
package install
