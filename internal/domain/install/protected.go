package install

import "github.com/kinode-dao/storekeeper/internal/shared/types"

// corePackages can never be uninstalled. The node cannot run without
// them, so the check happens locally and nothing is ever sent.
var corePackages = map[types.PackageID]struct{}{
	{Name: "app-store", Publisher: "sys"}:   {},
	{Name: "contacts", Publisher: "sys"}:    {},
	{Name: "homepage", Publisher: "sys"}:    {},
	{Name: "hns-indexer", Publisher: "sys"}: {},
	{Name: "settings", Publisher: "sys"}:    {},
	{Name: "terminal", Publisher: "sys"}:    {},
}

// IsProtected reports whether pkg is a core system package.
func IsProtected(pkg types.PackageID) bool {
	_, ok := corePackages[pkg]
	return ok
}
