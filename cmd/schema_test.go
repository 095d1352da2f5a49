package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runSchemaCommand(t *testing.T, tables []string) string {
	t.Helper()

	prev := schemaCmdTables
	schemaCmdTables = tables

	t.Cleanup(func() {
		schemaCmdTables = prev
	})

	var buf bytes.Buffer

	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	require.NoError(t, runSchema(cmd, nil))

	return buf.String()
}

func TestRunSchemaWarnsOnFallback(t *testing.T) {
	setTestEnv(t)

	out := runSchemaCommand(t, nil)

	assert.Contains(t, out, "WARNING")
	assert.Contains(t, out, "shipments")
	assert.Contains(t, out, "orders")
	assert.Contains(t, out, "customers")
}

func TestRunSchemaFiltersTables(t *testing.T) {
	setTestEnv(t)

	out := runSchemaCommand(t, []string{"shipments"})

	assert.Contains(t, out, "shipments")
	assert.NotContains(t, out, "Table: customers")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "(not set)", maskSecret(""))
	assert.Equal(t, "********", maskSecret("short"))
	assert.Equal(t, "sk-a...wxyz", maskSecret("sk-abcdefgh-wxyz"))
}
