package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	sqlwarderrors "github.com/sqlward/sqlward/internal/errors"
)

// document is the on-disk schema format
type document struct {
	Tables          map[string]Table       `json:"tables"`
	Relationships   []Relationship         `json:"relationships"`
	KeywordMappings map[string][]string    `json:"keyword_mappings,omitempty"`
	CodeMappings    map[string]CodeMapping `json:"code_mappings,omitempty"`
}

// Load reads the schema document at path and builds the graph model. A
// missing file falls back to the built-in default schema with the
// Fallback flag set; a malformed document is an error, not a fallback.
func Load(path, scopingColumn string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultModel(scopingColumn), nil
		}

		return nil, sqlwarderrors.Wrapf(err, sqlwarderrors.ErrTypeConfig, "failed to read schema file %s", path)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, sqlwarderrors.Wrapf(err, sqlwarderrors.ErrTypeConfig, "failed to parse schema file %s", path)
	}

	return buildModel(doc, scopingColumn)
}

func buildModel(doc document, scopingColumn string) (*Model, error) {
	if len(doc.Tables) == 0 {
		return nil, sqlwarderrors.New(sqlwarderrors.ErrTypeConfig, "schema document declares no tables")
	}

	m := newModel(scopingColumn)

	for name, table := range doc.Tables {
		name = strings.ToLower(name)

		t := table
		t.Name = name
		m.tables[name] = &t
		m.tableNames = append(m.tableNames, name)
	}

	for _, rel := range doc.Relationships {
		rel.From = strings.ToLower(rel.From)
		rel.To = strings.ToLower(rel.To)

		if !m.HasTable(rel.From) || !m.HasTable(rel.To) {
			return nil, sqlwarderrors.Newf(sqlwarderrors.ErrTypeConfig,
				"relationship %s.%s -> %s references an undeclared table", rel.From, rel.FromColumn, rel.To)
		}

		m.relationships = append(m.relationships, rel)
	}

	for keyword, tables := range doc.KeywordMappings {
		m.keywordMappings[strings.ToLower(keyword)] = tables
	}

	for fieldPath, mapping := range doc.CodeMappings {
		m.codeMappings[strings.ToLower(fieldPath)] = mapping
	}

	m.finalize()

	return m, nil
}

// DefaultModel returns the built-in three-table schema used when no
// schema document is available. Fallback is set so callers can surface
// the degraded configuration.
func DefaultModel(scopingColumn string) *Model {
	m := newModel(scopingColumn)

	tables := []Table{
		{
			Name:        "shipments",
			Columns:     []string{"id", "order_id", "tracking_status", "carrier", "created_at", scopingColumn},
			Description: "Individual shipments with carrier tracking",
			Scoped:      true,
		},
		{
			Name:        "orders",
			Columns:     []string{"id", "customer_id", "status", "total", "created_at", scopingColumn},
			Description: "Customer orders",
			Scoped:      true,
		},
		{
			Name:        "customers",
			Columns:     []string{"id", "first_name", "last_name", "email", "created_at", scopingColumn},
			Description: "Customer accounts",
			Scoped:      true,
		},
	}

	for i := range tables {
		m.tables[tables[i].Name] = &tables[i]
		m.tableNames = append(m.tableNames, tables[i].Name)
	}

	m.relationships = []Relationship{
		{From: "shipments", To: "orders", FromColumn: "order_id", ToColumn: "id"},
		{From: "orders", To: "customers", FromColumn: "customer_id", ToColumn: "id"},
	}

	m.keywordMappings = map[string][]string{
		"shipment": {"shipments"},
		"package":  {"shipments"},
		"order":    {"orders"},
		"customer": {"customers"},
	}

	m.Fallback = true
	m.finalize()

	return m
}

// Describe renders the full schema as prompt context: tables with
// columns and descriptions, relationships, scoping instructions, and
// code mappings.
func (m *Model) Describe() string {
	return m.DescribeTables(m.TableNames(), true)
}

// DescribeTables renders a focused schema description covering only the
// given tables. Scoping instructions are included when scopingRequired
// is set and any covered table is scoped.
func (m *Model) DescribeTables(names []string, scopingRequired bool) string {
	var b strings.Builder

	b.WriteString("Database schema:\n\n")

	covered := make(map[string]bool)

	sorted := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(name)
		if m.HasTable(name) && !covered[name] {
			covered[name] = true
			sorted = append(sorted, name)
		}
	}

	sort.Strings(sorted)

	var scopedTables []string

	for _, name := range sorted {
		table := m.GetTable(name)

		fmt.Fprintf(&b, "Table: %s\n", table.Name)
		if table.Description != "" {
			fmt.Fprintf(&b, "  Description: %s\n", table.Description)
		}

		fmt.Fprintf(&b, "  Columns: %s\n", strings.Join(table.Columns, ", "))

		if table.Scoped {
			scopedTables = append(scopedTables, table.Name)
			fmt.Fprintf(&b, "  Scoped by: %s\n", m.ScopingColumn(table))
		}

		b.WriteString("\n")
	}

	var rels []string

	for _, rel := range m.relationships {
		if covered[rel.From] && covered[rel.To] {
			rels = append(rels, fmt.Sprintf("%s.%s -> %s.%s", rel.From, rel.FromColumn, rel.To, m.ResolveToColumn(rel)))
		}
	}

	if len(rels) > 0 {
		b.WriteString("Relationships:\n")
		for _, rel := range rels {
			fmt.Fprintf(&b, "  %s\n", rel)
		}

		b.WriteString("\n")
	}

	if scopingRequired && len(scopedTables) > 0 {
		fmt.Fprintf(&b, "IMPORTANT: the tables %s contain multi-tenant data. Every query touching them MUST filter by the scoping column shown above. Never return rows across tenants.\n\n",
			strings.Join(scopedTables, ", "))
	}

	var mappingPaths []string

	for fieldPath := range m.codeMappings {
		table, _, found := strings.Cut(fieldPath, ".")
		if found && covered[table] {
			mappingPaths = append(mappingPaths, fieldPath)
		}
	}

	sort.Strings(mappingPaths)

	if len(mappingPaths) > 0 {
		b.WriteString("Code values (use the code, not the label, in SQL literals):\n")

		for _, fieldPath := range mappingPaths {
			mapping := m.codeMappings[fieldPath]

			codes := make([]string, 0, len(mapping.Values))
			for code := range mapping.Values {
				codes = append(codes, code)
			}

			sort.Strings(codes)

			pairs := make([]string, 0, len(codes))
			for _, code := range codes {
				pairs = append(pairs, fmt.Sprintf("%s=%s", code, mapping.Values[code]))
			}

			fmt.Fprintf(&b, "  %s: %s\n", fieldPath, strings.Join(pairs, ", "))
		}

		b.WriteString("\n")
	}

	return b.String()
}

// ExamplesFor collects curated example pairs from the given tables, up
// to limit, for inclusion in generation prompts.
func (m *Model) ExamplesFor(names []string, limit int) []Example {
	var examples []Example

	seen := make(map[string]bool)

	for _, name := range names {
		table := m.GetTable(name)
		if table == nil || seen[table.Name] {
			continue
		}

		seen[table.Name] = true

		for _, ex := range table.Examples {
			if len(examples) >= limit {
				return examples
			}

			examples = append(examples, ex)
		}
	}

	return examples
}
