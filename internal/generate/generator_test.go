package generate

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlward/sqlward/internal/access"
	"github.com/sqlward/sqlward/internal/config"
	sqlwarderrors "github.com/sqlward/sqlward/internal/errors"
	"github.com/sqlward/sqlward/internal/logging"
	"github.com/sqlward/sqlward/internal/schema"
)

const testSchemaJSON = `{
	"tables": {
		"shipments": {
			"columns": ["id", "order_id", "tracking_status", "accounts_entity_id", "created_at"],
			"description": "Shipments",
			"scoped": true
		},
		"orders": {
			"columns": ["id", "customer_id", "status", "accounts_entity_id"],
			"description": "Orders",
			"scoped": true
		},
		"carriers": {
			"columns": ["id", "carrier_name"],
			"description": "Carrier lookup"
		}
	},
	"relationships": [
		{"from": "shipments", "to": "orders", "on": "order_id", "to_column": "id"}
	],
	"keyword_mappings": {
		"shipment": ["shipments"],
		"order": ["orders"]
	}
}`

const shipmentsPlan = `{
	"tables": ["shipments"],
	"columns": {"shipments": ["id"]},
	"joins": [],
	"filters": [],
	"group_by": [],
	"order_by": [],
	"limit": 10,
	"needs_scoping": true
}`

const shipmentsOrdersPlan = `{
	"tables": ["shipments", "orders"],
	"columns": {"shipments": ["id"], "orders": ["id"]},
	"joins": [{"from_table": "shipments", "from_column": "order_id", "to_table": "orders", "to_column": "id", "type": "INNER"}],
	"filters": [],
	"group_by": [],
	"order_by": [],
	"limit": 10,
	"needs_scoping": true
}`

// scriptedLLM replays canned responses, repeating the last one once the
// script runs out.
type scriptedLLM struct {
	plans     []string
	sqls      []string
	planCalls int
	sqlCalls  int
}

func (s *scriptedLLM) GeneratePlan(_ context.Context, _, _ string, _ bool) (string, error) {
	i := s.planCalls
	s.planCalls++

	if i >= len(s.plans) {
		i = len(s.plans) - 1
	}

	return s.plans[i], nil
}

func (s *scriptedLLM) GenerateSQLFromPlan(_ context.Context, _, _, _, _ string) (string, error) {
	i := s.sqlCalls
	s.sqlCalls++

	if i >= len(s.sqls) {
		i = len(s.sqls) - 1
	}

	return s.sqls[i], nil
}

func (s *scriptedLLM) ExplainResults(_ context.Context, _, _ string, _ int, _ string) (string, error) {
	return "answer", nil
}

func testGenerator(t *testing.T, svc *scriptedLLM) (*Generator, *access.UserContext) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(testSchemaJSON), 0o644))

	model, err := schema.Load(path, "accounts_entity_id")
	require.NoError(t, err)

	cfg := &config.Config{
		Security: config.SecurityConfig{
			ScopingColumn:     "accounts_entity_id",
			EnableAutoScoping: true,
			MaxTables:         10,
			AllowedOperations: "SELECT",
			DefaultRole:       "customer",
		},
		Retrieval: config.RetrievalConfig{TopK: 5, MinScore: 0},
		Pipeline:  config.PipelineConfig{MaxAttempts: 3, CacheSize: 8},
	}

	perms, err := access.NewPermissionManager(&cfg.Security)
	require.NoError(t, err)

	user, err := perms.CreateUserContext("customer", "E100", "req-1")
	require.NoError(t, err)

	return NewGenerator(model, svc, perms, logging.NewTestLogger(io.Discard), cfg), user
}

func TestGenerateAppendsScopingFilter(t *testing.T) {
	svc := &scriptedLLM{
		plans: []string{shipmentsPlan},
		sqls:  []string{"SELECT COUNT(*) FROM shipments"},
	}

	gen, user := testGenerator(t, svc)

	result, err := gen.Generate(context.Background(), "how many shipments are delivered", user)
	require.NoError(t, err)

	assert.Equal(t, "SELECT COUNT(*) FROM shipments WHERE accounts_entity_id = 'E100';", result.SQL)
	assert.Equal(t, 1, result.Attempts)
	assert.True(t, result.Scoped)
	assert.Equal(t, []string{"shipments"}, result.Tables)
}

func TestGenerateFixesCountShape(t *testing.T) {
	svc := &scriptedLLM{
		plans: []string{shipmentsPlan},
		sqls:  []string{"SELECT id FROM shipments WHERE tracking_status = '1900'"},
	}

	gen, user := testGenerator(t, svc)

	result, err := gen.Generate(context.Background(), "how many shipments are delivered", user)
	require.NoError(t, err)

	assert.Contains(t, result.SQL, "SELECT COUNT(*) FROM shipments")
	assert.Contains(t, result.SQL, "tracking_status = '1900'")
	assert.Contains(t, result.SQL, "accounts_entity_id = 'E100'")
}

func TestGenerateRetriesOnUnexpectedCount(t *testing.T) {
	svc := &scriptedLLM{
		plans: []string{shipmentsPlan},
		sqls: []string{
			"SELECT COUNT(*) FROM shipments WHERE accounts_entity_id = 'E100'",
			"SELECT id FROM shipments WHERE accounts_entity_id = 'E100'",
		},
	}

	gen, user := testGenerator(t, svc)

	result, err := gen.Generate(context.Background(), "which shipments were delivered", user)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 2, svc.sqlCalls)
	assert.Contains(t, result.SQL, "SELECT id FROM shipments")
}

func TestGenerateRetriesOnPlanContainment(t *testing.T) {
	joinSQL := "SELECT shipments.id FROM shipments JOIN orders ON shipments.order_id = orders.id WHERE shipments.accounts_entity_id = 'E100'"

	svc := &scriptedLLM{
		plans: []string{shipmentsPlan, shipmentsOrdersPlan},
		sqls:  []string{joinSQL, joinSQL},
	}

	gen, user := testGenerator(t, svc)

	result, err := gen.Generate(context.Background(), "which shipments belong to recent orders", user)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Attempts)
	assert.ElementsMatch(t, []string{"shipments", "orders"}, result.Tables)
}

func TestGenerateExhaustsRetries(t *testing.T) {
	svc := &scriptedLLM{
		plans: []string{"this is not a plan"},
		sqls:  []string{"SELECT id FROM shipments"},
	}

	gen, user := testGenerator(t, svc)

	result, err := gen.Generate(context.Background(), "which shipments were delivered", user)
	require.Error(t, err)

	assert.True(t, sqlwarderrors.IsType(err, sqlwarderrors.ErrTypeRetryExhausted))
	assert.Equal(t, 3, svc.planCalls)
	require.NotNil(t, result)
	assert.Equal(t, 3, result.Attempts)
}

func TestGenerateStopsOnSecurityViolation(t *testing.T) {
	svc := &scriptedLLM{
		plans: []string{shipmentsPlan},
		sqls:  []string{"DROP TABLE shipments"},
	}

	gen, user := testGenerator(t, svc)

	result, err := gen.Generate(context.Background(), "which shipments were delivered", user)
	require.Error(t, err)

	assert.True(t, sqlwarderrors.IsType(err, sqlwarderrors.ErrTypeSecurityViolation))
	assert.Nil(t, result)
	assert.Equal(t, 1, svc.sqlCalls)
}

type failingOracle struct {
	calls int
}

func (o *failingOracle) Explain(context.Context, string) error {
	o.calls++

	return sqlwarderrors.New(sqlwarderrors.ErrTypeDatabase, "database rejected the query")
}

func TestGenerateOracleFeedbackBoundsRetries(t *testing.T) {
	svc := &scriptedLLM{
		plans: []string{shipmentsPlan},
		sqls:  []string{"SELECT id FROM shipments WHERE accounts_entity_id = 'E100'"},
	}

	gen, user := testGenerator(t, svc)

	oracle := &failingOracle{}
	gen.SetOracle(oracle)

	result, err := gen.Generate(context.Background(), "which shipments were delivered", user)
	require.Error(t, err)

	assert.True(t, sqlwarderrors.IsType(err, sqlwarderrors.ErrTypeRetryExhausted))
	assert.Equal(t, 3, oracle.calls)
	require.NotNil(t, result)
	assert.Contains(t, result.SQL, "SELECT id FROM shipments")
}

func TestFixCountQuery(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		want    string
		wantErr bool
	}{
		{
			name: "plain select",
			sql:  "SELECT id FROM shipments",
			want: "SELECT COUNT(*) FROM shipments",
		},
		{
			name: "keeps where clause",
			sql:  "SELECT id FROM shipments WHERE tracking_status = '1900'",
			want: "SELECT COUNT(*) FROM shipments WHERE tracking_status = '1900'",
		},
		{
			name: "drops order by and limit",
			sql:  "SELECT id FROM shipments WHERE status = 'x' ORDER BY created_at LIMIT 5",
			want: "SELECT COUNT(*) FROM shipments WHERE status = 'x'",
		},
		{
			name:    "no from clause",
			sql:     "SELECT 1",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := fixCountQuery(tc.sql)
			if tc.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRefineTablesAddsScopedTables(t *testing.T) {
	gen, _ := testGenerator(t, &scriptedLLM{plans: []string{shipmentsPlan}, sqls: []string{"SELECT 1"}})

	cause := sqlwarderrors.New(sqlwarderrors.ErrTypeScopingViolation, "scoping is required")
	next := gen.refineTables([]string{"carriers"}, "carrier shipments", cause)

	assert.Contains(t, next, "carriers")
	assert.Contains(t, next, "shipments")
	assert.Contains(t, next, "orders")
}

func TestRefineTablesAddsNeighborsOnJoinError(t *testing.T) {
	gen, _ := testGenerator(t, &scriptedLLM{plans: []string{shipmentsPlan}, sqls: []string{"SELECT 1"}})

	cause := sqlwarderrors.New(sqlwarderrors.ErrTypeJoinInconsistency, "join direction looks wrong")
	next := gen.refineTables([]string{"shipments"}, "shipments", cause)

	assert.Contains(t, next, "orders")
}

func TestSchemaContextIsCached(t *testing.T) {
	gen, _ := testGenerator(t, &scriptedLLM{plans: []string{shipmentsPlan}, sqls: []string{"SELECT 1"}})

	first := gen.schemaContext("how many shipments", []string{"shipments"}, true)
	second := gen.schemaContext("how many shipments", []string{"shipments"}, true)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, gen.cache.Len())

	gen.schemaContext("how many shipments", []string{"shipments"}, false)
	assert.Equal(t, 2, gen.cache.Len())
}

func TestRelevantExamplesPrefersOverlap(t *testing.T) {
	gen, _ := testGenerator(t, &scriptedLLM{plans: []string{shipmentsPlan}, sqls: []string{"SELECT 1"}})
	gen.sampleCount = 1

	delivered := schema.Example{Question: "how many shipments are delivered", SQL: "SELECT COUNT(*) FROM shipments"}
	gen.model.GetTable("shipments").Examples = []schema.Example{
		{Question: "which carriers are slow", SQL: "SELECT carrier FROM shipments"},
		delivered,
	}

	picked := gen.relevantExamples("how many shipments were delivered today", []string{"shipments"})

	require.Len(t, picked, 1)
	assert.Equal(t, delivered, picked[0])
}

func TestContextCacheEviction(t *testing.T) {
	cache := newContextCache(2)

	cache.Put("a", "1")
	cache.Put("b", "2")

	_, ok := cache.Get("a")
	require.True(t, ok)

	cache.Put("c", "3")

	_, ok = cache.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")

	_, ok = cache.Get("a")
	assert.True(t, ok)

	_, ok = cache.Get("c")
	assert.True(t, ok)
}

func TestContextCacheDisabled(t *testing.T) {
	cache := newContextCache(0)

	cache.Put("a", "1")

	_, ok := cache.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestCacheKeyOrderIndependent(t *testing.T) {
	assert.Equal(t,
		cacheKey([]string{"b", "a"}, true),
		cacheKey([]string{"a", "b"}, true))
	assert.NotEqual(t,
		cacheKey([]string{"a", "b"}, true),
		cacheKey([]string{"a", "b"}, false))
}
