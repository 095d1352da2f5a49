package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlward/sqlward/internal/config"
	sqlwarderrors "github.com/sqlward/sqlward/internal/errors"
)

func testManager(t *testing.T) *PermissionManager {
	t.Helper()

	m, err := NewPermissionManager(&config.SecurityConfig{
		ScopingColumn: "accounts_entity_id",
		DefaultRole:   "customer",
	})
	require.NoError(t, err)

	return m
}

func TestCreateUserContext(t *testing.T) {
	m := testManager(t)

	tests := []struct {
		name         string
		role         string
		scopingValue string
		wantErr      bool
		wantRole     string
	}{
		{name: "customer with entity", role: "customer", scopingValue: "E100", wantRole: "customer"},
		{name: "empty role defaults", role: "", scopingValue: "E100", wantRole: "customer"},
		{name: "customer without entity", role: "customer", wantErr: true},
		{name: "admin without entity", role: "admin", wantRole: "admin"},
		{name: "unknown role", role: "superuser", scopingValue: "E100", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := m.CreateUserContext(tt.role, tt.scopingValue, "req-1")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, sqlwarderrors.IsType(err, sqlwarderrors.ErrTypeAccessDenied))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantRole, user.Role)
			assert.Equal(t, tt.scopingValue, user.ScopingValue)
		})
	}
}

func TestScopingRequirements(t *testing.T) {
	m := testManager(t)

	customer, err := m.CreateUserContext("customer", "E100", "req-1")
	require.NoError(t, err)

	reqs := m.ScopingRequirements(customer)
	assert.True(t, reqs.Required)
	assert.Equal(t, "accounts_entity_id", reqs.ScopingColumn)
	assert.Equal(t, "E100", reqs.ScopingValue)

	admin, err := m.CreateUserContext("admin", "", "req-2")
	require.NoError(t, err)

	assert.False(t, m.ScopingRequirements(admin).Required)
	assert.True(t, admin.CanAccessAllEntities())
	assert.True(t, admin.BypassesValidation())
}

func TestValidateQueryAccess(t *testing.T) {
	m := testManager(t)

	customer, err := m.CreateUserContext("customer", "E100", "req-1")
	require.NoError(t, err)

	assert.NoError(t, m.ValidateQueryAccess(customer, []string{"E100"}))

	err = m.ValidateQueryAccess(customer, []string{"E100", "E200"})
	require.Error(t, err)
	assert.True(t, sqlwarderrors.IsType(err, sqlwarderrors.ErrTypeAccessDenied))

	admin, err := m.CreateUserContext("admin", "", "req-2")
	require.NoError(t, err)
	assert.NoError(t, m.ValidateQueryAccess(admin, []string{"E100", "E200"}))
}

func TestNewPermissionManagerRejectsBadConfig(t *testing.T) {
	_, err := NewPermissionManager(&config.SecurityConfig{
		ScopingColumn: "accounts_entity_id",
		DefaultRole:   "customer",
		RolesJSON:     `{"customer": {"access_pattern": "sideways"}}`,
	})
	require.Error(t, err)

	_, err = NewPermissionManager(&config.SecurityConfig{
		ScopingColumn: "accounts_entity_id",
		DefaultRole:   "missing",
	})
	require.Error(t, err)
}
