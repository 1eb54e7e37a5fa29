package tenant

import (
	"errors"
	"time"
)

// Tier is a subscription level that gates which modules a tenant may enable.
type Tier string

const (
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// Module is a feature flag on a tenant, orthogonal to the compliance core.
type Module string

const (
	ModuleCRM          Module = "crm"
	ModuleCompliance   Module = "compliance"
	ModuleAppointments Module = "appointments"
	ModuleInvoicing    Module = "invoicing"
	ModuleAIInsights   Module = "ai_insights"
)

// Role is a user's standing within a tenant.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// CanWrite reports whether the role may perform mutating operations.
func (r Role) CanWrite() bool { return r == RoleOwner || r == RoleAdmin }

// Tenant is an isolated customer organization. All business data is scoped to
// exactly one tenant.
type Tenant struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Slug      string            `json:"slug"`
	Tier      Tier              `json:"tier"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// User is a human account; membership ties it to tenants.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Membership gives a user a role within a tenant.
type Membership struct {
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrNotFound        = errors.New("tenant: not found")
	ErrAlreadyExists   = errors.New("tenant: already exists")
	ErrInvalidInput    = errors.New("tenant: invalid input")
	ErrModuleNotInTier = errors.New("tenant: module not available on this tier")
	ErrNotMember       = errors.New("tenant: user is not a member")
)

// tierModules is the entitlement table: which modules each tier may enable.
var tierModules = map[Tier]map[Module]bool{
	TierStarter: {
		ModuleCRM:          true,
		ModuleAppointments: true,
	},
	TierProfessional: {
		ModuleCRM:          true,
		ModuleAppointments: true,
		ModuleCompliance:   true,
		ModuleInvoicing:    true,
	},
	TierEnterprise: {
		ModuleCRM:          true,
		ModuleAppointments: true,
		ModuleCompliance:   true,
		ModuleInvoicing:    true,
		ModuleAIInsights:   true,
	},
}

// TierAllows reports whether the tier's subscription includes the module.
func TierAllows(tier Tier, m Module) bool {
	return tierModules[tier][m]
}

// ValidTier reports whether the tier is one of the known subscription levels.
func ValidTier(t Tier) bool {
	_, ok := tierModules[t]
	return ok
}

// ValidModule reports whether m names a known feature module.
func ValidModule(m Module) bool {
	switch m {
	case ModuleCRM, ModuleCompliance, ModuleAppointments, ModuleInvoicing, ModuleAIInsights:
		return true
	}
	return false
}

// ValidRole reports whether r is one of the membership roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}
