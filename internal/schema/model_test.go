package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqlwarderrors "github.com/sqlward/sqlward/internal/errors"
)

func testModel(t *testing.T) *Model {
	t.Helper()

	doc := document{
		Tables: map[string]Table{
			"shipments": {
				Columns:     []string{"id", "order_id", "tracking_status", "accounts_entity_id"},
				Description: "Shipments",
				Scoped:      true,
			},
			"orders": {
				Columns:     []string{"id", "customer_id", "status", "accounts_entity_id"},
				Description: "Orders",
				Scoped:      true,
			},
			"customers": {
				Columns:     []string{"id", "first_name", "last_name", "accounts_entity_id"},
				Description: "Customers",
				Scoped:      true,
			},
			"carriers": {
				Columns:     []string{"id", "name"},
				Description: "Carrier lookup",
			},
		},
		Relationships: []Relationship{
			{From: "shipments", To: "orders", FromColumn: "order_id", ToColumn: "id"},
			{From: "orders", To: "customers", FromColumn: "customer_id", ToColumn: "id"},
			{From: "shipments", To: "carriers", FromColumn: "carrier_id"},
		},
		CodeMappings: map[string]CodeMapping{
			"shipments.tracking_status": {
				Description: "Tracking status codes",
				Values:      map[string]string{"1900": "Delivered", "1100": "In Transit"},
			},
		},
	}

	m, err := buildModel(doc, "accounts_entity_id")
	require.NoError(t, err)

	return m
}

func TestJoinPathDirectRelationship(t *testing.T) {
	m := testModel(t)

	joins := m.JoinPath([]string{"shipments", "orders"})

	require.Len(t, joins, 1)
	assert.Equal(t, "shipments", joins[0].FromTable)
	assert.Equal(t, "order_id", joins[0].FromColumn)
	assert.Equal(t, "orders", joins[0].ToTable)
	assert.Equal(t, "id", joins[0].ToColumn)
}

func TestJoinPathBridgesIntermediateTable(t *testing.T) {
	m := testModel(t)

	joins := m.JoinPath([]string{"shipments", "customers"})

	require.Len(t, joins, 2)
	assert.Equal(t, "shipments", joins[0].FromTable)
	assert.Equal(t, "orders", joins[0].ToTable)
	assert.Equal(t, "orders", joins[1].FromTable)
	assert.Equal(t, "customers", joins[1].ToTable)
}

func TestJoinPathSkipsDisconnectedTable(t *testing.T) {
	m := testModel(t)

	// carriers has no outgoing edges, so nothing joins customers from it
	joins := m.JoinPath([]string{"carriers", "customers"})
	assert.Empty(t, joins)
}

func TestJoinPathSingleTable(t *testing.T) {
	m := testModel(t)
	assert.Empty(t, m.JoinPath([]string{"shipments"}))
}

func TestShortestPath(t *testing.T) {
	m := testModel(t)

	tests := []struct {
		name string
		from string
		to   string
		want []string
	}{
		{name: "direct", from: "shipments", to: "orders", want: []string{"shipments", "orders"}},
		{name: "two hops", from: "shipments", to: "customers", want: []string{"shipments", "orders", "customers"}},
		{name: "same table", from: "orders", to: "orders", want: []string{"orders"}},
		{name: "no reverse path", from: "customers", to: "shipments", want: nil},
		{name: "unknown table", from: "widgets", to: "orders", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.ShortestPath(tt.from, tt.to))
		})
	}
}

func TestRelatedTables(t *testing.T) {
	m := testModel(t)

	assert.Equal(t, []string{"carriers", "orders"}, m.RelatedTables("shipments"))
	assert.Equal(t, []string{"customers", "shipments"}, m.RelatedTables("orders"))
	assert.Equal(t, []string{"shipments"}, m.RelatedTables("carriers"))
}

func TestDegreeCentrality(t *testing.T) {
	m := testModel(t)

	// orders connects to 2 of the 3 other tables
	assert.InDelta(t, 2.0/3.0, m.DegreeCentrality("orders"), 1e-9)
	assert.InDelta(t, 1.0/3.0, m.DegreeCentrality("carriers"), 1e-9)
}

func TestResolveToColumnDefaultsToID(t *testing.T) {
	m := testModel(t)

	rel := Relationship{From: "shipments", To: "carriers", FromColumn: "carrier_id"}
	assert.Equal(t, "id", m.ResolveToColumn(rel))

	explicit := Relationship{From: "shipments", To: "orders", FromColumn: "order_id", ToColumn: "id"}
	assert.Equal(t, "id", m.ResolveToColumn(explicit))
}

func TestCodeValueLookup(t *testing.T) {
	m := testModel(t)

	assert.Equal(t, "1900", m.CodeValue("shipments.tracking_status", "Delivered"))
	assert.Equal(t, "1900", m.CodeValue("shipments.tracking_status", "delivered"))
	assert.Equal(t, "", m.CodeValue("shipments.tracking_status", "Lost"))
	assert.Equal(t, "", m.CodeValue("orders.status", "Delivered"))
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "absent.json"), "accounts_entity_id")
	require.NoError(t, err)

	assert.True(t, m.Fallback)
	assert.True(t, m.HasTable("shipments"))
	assert.True(t, m.HasTable("orders"))
	assert.True(t, m.HasTable("customers"))

	joins := m.JoinPath([]string{"shipments", "orders"})
	require.Len(t, joins, 1)
	assert.Equal(t, "order_id", joins[0].FromColumn)
}

func TestLoadMalformedFileIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path, "accounts_entity_id")
	require.Error(t, err)
	assert.True(t, sqlwarderrors.IsType(err, sqlwarderrors.ErrTypeConfig))
}

func TestLoadRejectsUnknownRelationshipTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	body := `{
		"tables": {"orders": {"columns": ["id"]}},
		"relationships": [{"from": "orders", "to": "widgets", "on": "widget_id"}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := Load(path, "accounts_entity_id")
	require.Error(t, err)
}

func TestDescribeTablesIncludesScopingInstructions(t *testing.T) {
	m := testModel(t)

	desc := m.DescribeTables([]string{"shipments", "orders"}, true)

	assert.Contains(t, desc, "Table: shipments")
	assert.Contains(t, desc, "Scoped by: accounts_entity_id")
	assert.Contains(t, desc, "shipments.order_id -> orders.id")
	assert.Contains(t, desc, "MUST filter by the scoping column")
	assert.Contains(t, desc, "1900=Delivered")
	assert.NotContains(t, desc, "customers")
}

func TestDescribeTablesOmitsScopingWhenNotRequired(t *testing.T) {
	m := testModel(t)

	desc := m.DescribeTables([]string{"carriers"}, false)

	assert.Contains(t, desc, "Table: carriers")
	assert.NotContains(t, desc, "MUST filter")
	assert.NotContains(t, desc, "tracking_status")
}
