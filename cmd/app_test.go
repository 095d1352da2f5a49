package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setTestEnv(t *testing.T) {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("SQLWARD_CONFIG", filepath.Join(dir, "absent-config.json"))
	t.Setenv("SQLWARD_SCHEMA_PATH", filepath.Join(dir, "absent-schema.json"))
}

func TestNewAppFallsBackWithoutSchemaFile(t *testing.T) {
	setTestEnv(t)

	a, err := newApp()
	require.NoError(t, err)

	assert.True(t, a.model.Fallback)
	assert.Contains(t, a.model.TableNames(), "shipments")
	assert.NotNil(t, a.limiter)
	assert.NotNil(t, a.perms)
}

func TestNewAppLoadsSchemaFile(t *testing.T) {
	setTestEnv(t)

	path := filepath.Join(t.TempDir(), "schema.json")
	doc := `{"tables": {"invoices": {"columns": ["id", "amount"], "description": "Invoices"}}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	t.Setenv("SQLWARD_SCHEMA_PATH", path)

	a, err := newApp()
	require.NoError(t, err)

	assert.False(t, a.model.Fallback)
	assert.Equal(t, []string{"invoices"}, a.model.TableNames())
}

func TestUserContextAssignsRequestID(t *testing.T) {
	setTestEnv(t)

	a, err := newApp()
	require.NoError(t, err)

	user, err := a.userContext("customer", "E100")
	require.NoError(t, err)

	assert.NotEmpty(t, user.RequestID)
	assert.Equal(t, "customer", user.Role)

	other, err := a.userContext("customer", "E100")
	require.NoError(t, err)
	assert.NotEqual(t, user.RequestID, other.RequestID)
}

func TestClientKey(t *testing.T) {
	setTestEnv(t)

	a, err := newApp()
	require.NoError(t, err)

	customer, err := a.userContext("customer", "E100")
	require.NoError(t, err)
	assert.Equal(t, "E100:customer", clientKey(customer))

	admin, err := a.userContext("admin", "")
	require.NoError(t, err)
	assert.Equal(t, "admin", clientKey(admin))
}
