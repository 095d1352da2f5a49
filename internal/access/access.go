// Package access implements role-based access control and tenant
// scoping requirements for query generation.
package access

import (
	"encoding/json"

	"github.com/sqlward/sqlward/internal/config"
	sqlwarderrors "github.com/sqlward/sqlward/internal/errors"
)

// AccessPattern describes how a role may reach tenant data
type AccessPattern string

const (
	// SingleEntity restricts the role to exactly one tenant entity
	SingleEntity AccessPattern = "single_entity"
	// AllEntities grants unrestricted access across tenants
	AllEntities AccessPattern = "all_entities"
)

// Role is one entry of the roles configuration
type Role struct {
	AccessPattern      AccessPattern `json:"access_pattern"`
	RequiresScoping    bool          `json:"requires_scoping"`
	CanScopeToSpecific bool          `json:"can_scope_to_specific"`
	BypassValidation   bool          `json:"bypass_validation"`
	Description        string        `json:"description,omitempty"`
}

// UserContext carries the resolved identity of one request
type UserContext struct {
	Role         string
	ScopingValue string
	RequestID    string
	role         Role
}

// CanAccessAllEntities reports whether the context is tenant-unrestricted
func (u *UserContext) CanAccessAllEntities() bool {
	return u.role.AccessPattern == AllEntities
}

// BypassesValidation reports whether query validation is skipped for
// this context. Reserved for privileged operational roles.
func (u *UserContext) BypassesValidation() bool {
	return u.role.BypassValidation
}

// ScopingRequirements is the scoping contract downstream validation
// must enforce for a request.
type ScopingRequirements struct {
	Required      bool
	ScopingColumn string
	ScopingValue  string
}

const defaultRolesJSON = `{
	"customer": {"requires_scoping": true, "access_pattern": "single_entity", "description": "Customer access limited to their entity"},
	"admin": {"requires_scoping": false, "access_pattern": "all_entities", "can_scope_to_specific": true, "bypass_validation": true, "description": "Admin access to all entities"}
}`

// PermissionManager resolves roles into user contexts and scoping
// requirements. Built once from configuration.
type PermissionManager struct {
	roles         map[string]Role
	defaultRole   string
	scopingColumn string
}

// NewPermissionManager parses the configured roles JSON, falling back
// to the built-in customer/admin roles when none is configured.
func NewPermissionManager(cfg *config.SecurityConfig) (*PermissionManager, error) {
	rolesJSON := cfg.RolesJSON
	if rolesJSON == "" {
		rolesJSON = defaultRolesJSON
	}

	var roles map[string]Role
	if err := json.Unmarshal([]byte(rolesJSON), &roles); err != nil {
		return nil, sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeConfig, "failed to parse roles configuration")
	}

	for name, role := range roles {
		switch role.AccessPattern {
		case SingleEntity, AllEntities:
		default:
			return nil, sqlwarderrors.Newf(sqlwarderrors.ErrTypeConfig, "role %s has unknown access pattern %q", name, role.AccessPattern)
		}
	}

	if _, ok := roles[cfg.DefaultRole]; !ok {
		return nil, sqlwarderrors.Newf(sqlwarderrors.ErrTypeConfig, "default role %s is not defined", cfg.DefaultRole)
	}

	return &PermissionManager{
		roles:         roles,
		defaultRole:   cfg.DefaultRole,
		scopingColumn: cfg.ScopingColumn,
	}, nil
}

// CreateUserContext validates the role and scoping value and returns a
// resolved context. An empty role resolves to the default role. Roles
// with single-entity access require a scoping value.
func (m *PermissionManager) CreateUserContext(role, scopingValue, requestID string) (*UserContext, error) {
	if role == "" {
		role = m.defaultRole
	}

	roleConfig, ok := m.roles[role]
	if !ok {
		return nil, sqlwarderrors.Newf(sqlwarderrors.ErrTypeAccessDenied, "unknown role: %s", role)
	}

	if roleConfig.AccessPattern == SingleEntity && scopingValue == "" {
		return nil, sqlwarderrors.Newf(sqlwarderrors.ErrTypeAccessDenied, "role %s requires a scoping value", role).
			WithSuggestion("provide the tenant entity identifier for this request")
	}

	return &UserContext{
		Role:         role,
		ScopingValue: scopingValue,
		RequestID:    requestID,
		role:         roleConfig,
	}, nil
}

// ValidateQueryAccess checks that the context may query the requested
// entities. Single-entity contexts may only touch their own entity.
func (m *PermissionManager) ValidateQueryAccess(user *UserContext, queryEntities []string) error {
	if user.CanAccessAllEntities() {
		return nil
	}

	for _, entity := range queryEntities {
		if entity != user.ScopingValue {
			return sqlwarderrors.Newf(sqlwarderrors.ErrTypeAccessDenied, "access denied to entity %s", entity)
		}
	}

	return nil
}

// ScopingRequirements returns the scoping contract for the context
func (m *PermissionManager) ScopingRequirements(user *UserContext) ScopingRequirements {
	if user.role.BypassValidation || !user.role.RequiresScoping {
		return ScopingRequirements{Required: false}
	}

	return ScopingRequirements{
		Required:      true,
		ScopingColumn: m.scopingColumn,
		ScopingValue:  user.ScopingValue,
	}
}

// Roles returns the names of all configured roles
func (m *PermissionManager) Roles() []string {
	names := make([]string, 0, len(m.roles))
	for name := range m.roles {
		names = append(names, name)
	}

	return names
}
