package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqlwarderrors "github.com/sqlward/sqlward/internal/errors"
)

func runValidateCommand(t *testing.T, role, entity, statement string) (string, error) {
	t.Helper()

	prevRole, prevEntity := validateRole, validateEntity
	validateRole, validateEntity = role, entity

	t.Cleanup(func() {
		validateRole, validateEntity = prevRole, prevEntity
	})

	var buf bytes.Buffer

	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	err := runValidate(cmd, []string{statement})

	return buf.String(), err
}

func TestRunValidateAppendsScoping(t *testing.T) {
	setTestEnv(t)

	out, err := runValidateCommand(t, "customer", "E100", "SELECT COUNT(*) FROM shipments")
	require.NoError(t, err)

	assert.Contains(t, out, "OK")
	assert.Contains(t, out, "A scoping filter was added")
	assert.Contains(t, out, "WHERE accounts_entity_id = 'E100'")
}

func TestRunValidateAdminPassesUnscoped(t *testing.T) {
	setTestEnv(t)

	out, err := runValidateCommand(t, "admin", "", "SELECT COUNT(*) FROM shipments")
	require.NoError(t, err)

	assert.Contains(t, out, "OK")
	assert.NotContains(t, out, "scoping filter")
}

func TestRunValidateRejectsDangerousStatement(t *testing.T) {
	setTestEnv(t)

	_, err := runValidateCommand(t, "customer", "E100", "DROP TABLE shipments")
	require.Error(t, err)

	assert.True(t, sqlwarderrors.IsType(err, sqlwarderrors.ErrTypeSecurityViolation))
}

func TestRunValidateRejectsEmptyStatement(t *testing.T) {
	setTestEnv(t)

	_, err := runValidateCommand(t, "customer", "E100", "   ")
	require.Error(t, err)
}
