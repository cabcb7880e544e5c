package shared_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/castellan-io/castellan/internal/shared"
	_ "github.com/castellan-io/castellan/testing"
)

func TestPermissionCatalog(t *testing.T) {
	catalog := shared.PermissionCatalog()
	assert.Len(t, catalog, 18)

	seen := make(map[string]struct{}, len(catalog))
	for _, name := range catalog {
		_, dup := seen[name]
		assert.False(t, dup, "duplicate catalog entry %q", name)
		seen[name] = struct{}{}
	}

	// Every route gate constant must be part of the catalog.
	for _, name := range []string{
		shared.PermViewUsers, shared.PermCreateUsers, shared.PermEditUsers,
		shared.PermDeleteUsers, shared.PermViewRoles, shared.PermCreateRoles,
		shared.PermEditRoles, shared.PermDeleteRoles, shared.PermAssignPermissions,
		shared.PermViewPermissions, shared.PermCreatePermissions,
		shared.PermEditPermissions, shared.PermDeletePermissions,
	} {
		assert.Contains(t, catalog, name)
	}
}
