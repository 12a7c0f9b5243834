/*
Package authz resolves caller capabilities for the ledger engine.

PURPOSE:
  The authorization oracle. Every ledger and billing operation gates on a
  Claims value resolved from the identity provider's group payload. Claims
  answer capability predicates; they never touch the store.

DESIGN:
  Roles are an explicit enum and predicates are plain methods - a typed
  claims object rather than string checks scattered through call sites.
  Group names map to roles by exact name or hierarchical suffix
  ("Building7_Admin" grants Admin for that deployment's convention), plus
  a global super-admin override group.

CAPABILITY TABLE:
  view transaction    Admin: always. Facilities: never.
                      Manager: building in caller's scope.
                      Everyone else: own account only.
  create transaction  Admin or Manager.
  edit transaction    Admin always; Manager within building scope.
  delete transaction  Admin only.
  invoice create/edit/send follow the transaction rules, admin-weighted.

SEE ALSO:
  - ledger/service.go: Applies the visibility predicate to list results
  - billing/invoice.go: Invoice capability checks
*/
package authz

import "strings"

// =============================================================================
// ROLES
// =============================================================================

type Role int

const (
	RoleNone Role = iota
	RoleUser
	RoleFacilities
	RoleManager
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleFacilities:
		return "facilities"
	case RoleManager:
		return "manager"
	case RoleAdmin:
		return "admin"
	default:
		return "none"
	}
}

// SuperAdminGroup grants Admin regardless of any other membership.
const SuperAdminGroup = "SuperAdmins"

// =============================================================================
// CLAIMS
// =============================================================================

// Claims is the resolved capability view of one caller.
type Claims struct {
	AccountID string
	Buildings []string // scoped buildings for Manager callers

	roles map[Role]bool
}

// FromGroups builds Claims from the identity provider payload. Role
// membership is derived from exact group names ("Admin") and from the
// hierarchical suffix convention ("Tower2_Manager").
func FromGroups(accountID string, groups, buildings []string) Claims {
	c := Claims{
		AccountID: accountID,
		Buildings: buildings,
		roles:     make(map[Role]bool),
	}
	for _, g := range groups {
		if g == SuperAdminGroup {
			c.roles[RoleAdmin] = true
			continue
		}
		for name, role := range roleNames {
			if g == name || strings.HasSuffix(g, "_"+name) {
				c.roles[role] = true
			}
		}
	}
	return c
}

var roleNames = map[string]Role{
	"Admin":      RoleAdmin,
	"Manager":    RoleManager,
	"Facilities": RoleFacilities,
	"User":       RoleUser,
}

// WithRoles builds Claims with explicit roles. Test and internal-caller
// convenience; production claims come from FromGroups.
func WithRoles(accountID string, roles []Role, buildings ...string) Claims {
	c := Claims{
		AccountID: accountID,
		Buildings: buildings,
		roles:     make(map[Role]bool),
	}
	for _, r := range roles {
		c.roles[r] = true
	}
	return c
}

func (c Claims) IsAdmin() bool      { return c.roles[RoleAdmin] }
func (c Claims) IsManager() bool    { return c.roles[RoleManager] }
func (c Claims) IsFacilities() bool { return c.roles[RoleFacilities] }
func (c Claims) IsUser() bool       { return c.roles[RoleUser] }

// HasFleetScope reports whether list queries ignore the account filter.
// Managers see their whole fleet; an admin keeps explicit filters so
// per-account queries stay per-account.
func (c Claims) HasFleetScope() bool { return c.IsManager() && !c.IsAdmin() }

func (c Claims) inBuildingScope(building string) bool {
	for _, b := range c.Buildings {
		if b == building {
			return true
		}
	}
	return false
}

// =============================================================================
// CAPABILITY PREDICATES
// =============================================================================

// CanViewTransaction implements the visibility matrix. The Facilities check
// precedes Manager so a caller holding both roles still sees nothing.
func (c Claims) CanViewTransaction(accountID, building string) bool {
	if c.IsAdmin() {
		return true
	}
	if c.IsFacilities() {
		return false
	}
	if c.IsManager() {
		return c.inBuildingScope(building)
	}
	return accountID != "" && accountID == c.AccountID
}

func (c Claims) CanCreateTransaction() bool {
	return c.IsAdmin() || c.IsManager()
}

func (c Claims) CanEditTransaction(building string) bool {
	if c.IsAdmin() {
		return true
	}
	if c.IsManager() {
		return c.inBuildingScope(building)
	}
	return false
}

func (c Claims) CanDeleteTransaction() bool { return c.IsAdmin() }

// Invoice capabilities mirror the transaction rules, admin-weighted.

func (c Claims) CanCreateInvoice() bool { return c.CanCreateTransaction() }
func (c Claims) CanEditInvoice() bool   { return c.IsAdmin() }
func (c Claims) CanSendInvoice() bool   { return c.IsAdmin() }
