package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/billing-engine/authz"
)

// =============================================================================
// GROUP PARSING
// =============================================================================

func TestFromGroups_ExactNames(t *testing.T) {
	c := authz.FromGroups("acct-1", []string{"Admin", "User"}, nil)

	assert.True(t, c.IsAdmin())
	assert.True(t, c.IsUser())
	assert.False(t, c.IsManager())
	assert.False(t, c.IsFacilities())
}

func TestFromGroups_SuffixConvention(t *testing.T) {
	// GIVEN: hierarchical group names ending in _Role
	c := authz.FromGroups("acct-1", []string{"Tower2_Manager", "Campus_Facilities"}, []string{"tower-2"})

	assert.True(t, c.IsManager())
	assert.True(t, c.IsFacilities())
	assert.False(t, c.IsAdmin())
}

func TestFromGroups_SuffixRequiresUnderscore(t *testing.T) {
	// "PowerUser" must not grant User; only "_User" suffixed names do.
	c := authz.FromGroups("acct-1", []string{"PowerUser", "SomeAdminish"}, nil)

	assert.False(t, c.IsUser())
	assert.False(t, c.IsAdmin())
}

func TestFromGroups_SuperAdminOverride(t *testing.T) {
	c := authz.FromGroups("acct-1", []string{authz.SuperAdminGroup}, nil)

	assert.True(t, c.IsAdmin())
}

func TestFromGroups_NoGroups(t *testing.T) {
	c := authz.FromGroups("acct-1", nil, nil)

	assert.False(t, c.IsAdmin())
	assert.False(t, c.IsManager())
	assert.False(t, c.IsFacilities())
	assert.False(t, c.IsUser())
	assert.False(t, c.HasFleetScope())
}

func TestHasFleetScope_ManagerOnly(t *testing.T) {
	// Managers query fleet-wide; admins keep explicit account filters.
	admin := authz.WithRoles("a", []authz.Role{authz.RoleAdmin})
	manager := authz.WithRoles("m", []authz.Role{authz.RoleManager}, "b1")
	both := authz.WithRoles("am", []authz.Role{authz.RoleAdmin, authz.RoleManager})

	assert.False(t, admin.HasFleetScope())
	assert.True(t, manager.HasFleetScope())
	assert.False(t, both.HasFleetScope())
}

// =============================================================================
// VISIBILITY MATRIX
// =============================================================================

func TestCanViewTransaction_Matrix(t *testing.T) {
	admin := authz.WithRoles("admin-1", []authz.Role{authz.RoleAdmin})
	manager := authz.WithRoles("mgr-1", []authz.Role{authz.RoleManager}, "building-1")
	facilities := authz.WithRoles("fac-1", []authz.Role{authz.RoleFacilities})
	user := authz.WithRoles("user-1", []authz.Role{authz.RoleUser})

	tests := []struct {
		name      string
		claims    authz.Claims
		accountID string
		building  string
		want      bool
	}{
		{"admin sees everything", admin, "someone-else", "building-9", true},
		{"manager sees own building", manager, "someone-else", "building-1", true},
		{"manager blind outside scope", manager, "someone-else", "building-2", false},
		{"facilities sees nothing", facilities, "fac-1", "building-1", false},
		{"user sees own account", user, "user-1", "", true},
		{"user blind to other accounts", user, "someone-else", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.claims.CanViewTransaction(tt.accountID, tt.building))
		})
	}
}

func TestCanViewTransaction_FacilitiesTrumpsManager(t *testing.T) {
	// A caller holding both Facilities and Manager still sees nothing.
	c := authz.WithRoles("both-1", []authz.Role{authz.RoleFacilities, authz.RoleManager}, "building-1")

	assert.False(t, c.CanViewTransaction("someone", "building-1"))
}

// =============================================================================
// WRITE CAPABILITIES
// =============================================================================

func TestWriteCapabilities(t *testing.T) {
	admin := authz.WithRoles("a", []authz.Role{authz.RoleAdmin})
	manager := authz.WithRoles("m", []authz.Role{authz.RoleManager}, "b1")
	user := authz.WithRoles("u", []authz.Role{authz.RoleUser})

	assert.True(t, admin.CanCreateTransaction())
	assert.True(t, manager.CanCreateTransaction())
	assert.False(t, user.CanCreateTransaction())

	assert.True(t, admin.CanEditTransaction("b9"))
	assert.True(t, manager.CanEditTransaction("b1"))
	assert.False(t, manager.CanEditTransaction("b2"))
	assert.False(t, user.CanEditTransaction("b1"))

	assert.True(t, admin.CanDeleteTransaction())
	assert.False(t, manager.CanDeleteTransaction())

	assert.True(t, admin.CanEditInvoice())
	assert.False(t, manager.CanEditInvoice())
	assert.True(t, manager.CanCreateInvoice())
}
