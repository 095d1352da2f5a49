package db

import (
	"testing"

	"github.com/stretchr/testify/assert"

	sqlwarderrors "github.com/sqlward/sqlward/internal/errors"
)

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr bool
	}{
		{name: "select passes", sql: "SELECT id FROM shipments"},
		{name: "cte passes", sql: "WITH recent AS (SELECT id FROM orders) SELECT * FROM recent"},
		{name: "leading comment stripped", sql: "/* note */ SELECT id FROM shipments"},
		{name: "update rejected", sql: "UPDATE shipments SET carrier = 'x'", wantErr: true},
		{name: "drop rejected", sql: "DROP TABLE shipments", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckReadOnly(tc.sql)
			if tc.wantErr {
				assert.True(t, sqlwarderrors.IsType(err, sqlwarderrors.ErrTypeSecurityViolation))
				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestApplyLimitGuardrail(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{
			name: "adds limit",
			sql:  "SELECT id FROM shipments",
			want: "SELECT id FROM shipments LIMIT 100",
		},
		{
			name: "strips trailing semicolon",
			sql:  "SELECT id FROM shipments;",
			want: "SELECT id FROM shipments LIMIT 100",
		},
		{
			name: "existing limit kept",
			sql:  "SELECT id FROM shipments LIMIT 5",
			want: "SELECT id FROM shipments LIMIT 5",
		},
		{
			name: "lowercase limit kept",
			sql:  "select id from shipments limit 5",
			want: "select id from shipments limit 5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ApplyLimitGuardrail(tt.sql, 100))
		})
	}

	assert.Equal(t, "SELECT id FROM shipments", ApplyLimitGuardrail("SELECT id FROM shipments", 0))
}

func TestSampleRows(t *testing.T) {
	result := &QueryResult{
		Columns: []string{"id", "status"},
		Rows: [][]interface{}{
			{int64(1), "1900"},
			{int64(2), nil},
			{int64(3), "1100"},
		},
		RowCount: 3,
	}

	sample := result.SampleRows(2)
	assert.Contains(t, sample, "id | status")
	assert.Contains(t, sample, "1 | 1900")
	assert.Contains(t, sample, "2 | NULL")
	assert.NotContains(t, sample, "1100")
}
