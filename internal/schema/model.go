package schema

import (
	"sort"
	"strings"
)

// Example is a curated (question, SQL) pair attached to a table
type Example struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

// Table describes one table in the schema graph. Immutable after load.
type Table struct {
	Name          string    `json:"-"`
	Columns       []string  `json:"columns"`
	Description   string    `json:"description"`
	Scoped        bool      `json:"scoped"`
	ScopingColumn string    `json:"scoping_column,omitempty"`
	Examples      []Example `json:"examples,omitempty"`
}

// HasColumn reports whether the table declares the given column
func (t *Table) HasColumn(name string) bool {
	for _, col := range t.Columns {
		if strings.EqualFold(col, name) {
			return true
		}
	}

	return false
}

// Relationship is a directed edge from_table.from_column -> to_table.to_column.
// Immutable after load.
type Relationship struct {
	From       string `json:"from"`
	To         string `json:"to"`
	FromColumn string `json:"on"`
	ToColumn   string `json:"to_column,omitempty"`
}

// CodeMapping attaches a code->label dictionary to a column (field path
// "table.column"), used to ground literal values like status codes.
type CodeMapping struct {
	Description string            `json:"description"`
	Values      map[string]string `json:"values"`
}

// JoinStep is one relationship-backed join emitted by the join-path solver
type JoinStep struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
	Type       string `json:"type"`
}

// Model owns all tables and relationships and answers graph queries.
// Built once per schema load; safe for unsynchronized concurrent reads.
type Model struct {
	tables          map[string]*Table
	tableNames      []string // deterministic enumeration order
	relationships   []Relationship
	keywordMappings map[string][]string
	codeMappings    map[string]CodeMapping
	scopingColumn   string

	// Fallback reports that the schema source was missing and the
	// built-in default schema is in use. Observable so a misconfigured
	// deployment is visible instead of silently degraded.
	Fallback bool

	out map[string][]string // adjacency by relationship direction
	in  map[string][]string
}

func newModel(scopingColumn string) *Model {
	return &Model{
		tables:          make(map[string]*Table),
		keywordMappings: make(map[string][]string),
		codeMappings:    make(map[string]CodeMapping),
		scopingColumn:   scopingColumn,
		out:             make(map[string][]string),
		in:              make(map[string][]string),
	}
}

// finalize freezes enumeration order and builds the adjacency lists
func (m *Model) finalize() {
	m.tableNames = m.tableNames[:0]
	for name := range m.tables {
		m.tableNames = append(m.tableNames, name)
	}

	sort.Strings(m.tableNames)

	m.out = make(map[string][]string)
	m.in = make(map[string][]string)

	for _, rel := range m.relationships {
		m.out[rel.From] = append(m.out[rel.From], rel.To)
		m.in[rel.To] = append(m.in[rel.To], rel.From)
	}
}

// GetTable returns the table by name, or nil if unknown
func (m *Model) GetTable(name string) *Table {
	return m.tables[strings.ToLower(name)]
}

// HasTable reports whether the table exists in the schema
func (m *Model) HasTable(name string) bool {
	return m.GetTable(name) != nil
}

// TableNames returns all table names in deterministic enumeration order
func (m *Model) TableNames() []string {
	names := make([]string, len(m.tableNames))
	copy(names, m.tableNames)

	return names
}

// Relationships returns all declared relationships in declaration order
func (m *Model) Relationships() []Relationship {
	rels := make([]Relationship, len(m.relationships))
	copy(rels, m.relationships)

	return rels
}

// KeywordMappings returns the configured keyword -> tables mappings
func (m *Model) KeywordMappings() map[string][]string {
	return m.keywordMappings
}

// ScopingColumn returns the table's scoping column, falling back to the
// globally configured column when the table does not name its own.
func (m *Model) ScopingColumn(table *Table) string {
	if table.ScopingColumn != "" {
		return table.ScopingColumn
	}

	return m.scopingColumn
}

// DefaultScopingColumn returns the globally configured scoping column
func (m *Model) DefaultScopingColumn() string {
	return m.scopingColumn
}

// RelatedTables returns the in- and out-neighbors of the given table
func (m *Model) RelatedTables(name string) []string {
	name = strings.ToLower(name)
	seen := make(map[string]bool)

	var related []string

	for _, t := range m.out[name] {
		if !seen[t] {
			seen[t] = true
			related = append(related, t)
		}
	}

	for _, t := range m.in[name] {
		if !seen[t] {
			seen[t] = true
			related = append(related, t)
		}
	}

	sort.Strings(related)

	return related
}

// ShortestPath returns the shortest directed path from a to b following
// declared relationships, or nil when no path exists.
func (m *Model) ShortestPath(a, b string) []string {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if !m.HasTable(a) || !m.HasTable(b) {
		return nil
	}

	if a == b {
		return []string{a}
	}

	// BFS over outgoing edges
	prev := map[string]string{a: ""}
	queue := []string{a}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, next := range m.out[cur] {
			if _, visited := prev[next]; visited {
				continue
			}

			prev[next] = cur
			if next == b {
				var path []string
				for node := b; node != ""; node = prev[node] {
					path = append([]string{node}, path...)
				}

				return path
			}

			queue = append(queue, next)
		}
	}

	return nil
}

// relationship returns the declared relationship from a to b, if any
func (m *Model) relationship(a, b string) *Relationship {
	for i := range m.relationships {
		rel := &m.relationships[i]
		if rel.From == a && rel.To == b {
			return rel
		}
	}

	return nil
}

// ResolveToColumn resolves the target column of a relationship: the
// explicit to_column when declared, the natural column when the target
// table declares it, "id" otherwise.
func (m *Model) ResolveToColumn(rel Relationship) string {
	if rel.ToColumn != "" {
		return rel.ToColumn
	}

	if target := m.GetTable(rel.To); target != nil && target.HasColumn(rel.FromColumn) {
		return rel.FromColumn
	}

	return "id"
}

// JoinPath connects the given tables greedily: each new table is joined to
// the nearest already-connected table via the shortest path, and the
// relationship-backed join steps along that path are emitted. Every step
// corresponds to a declared relationship; the solver never invents a join.
func (m *Model) JoinPath(tables []string) []JoinStep {
	if len(tables) <= 1 {
		return nil
	}

	connected := []string{strings.ToLower(tables[0])}
	connectedSet := map[string]bool{connected[0]: true}

	var joins []JoinStep

	emitted := make(map[[2]string]bool)

	for _, raw := range tables[1:] {
		target := strings.ToLower(raw)
		if connectedSet[target] {
			continue
		}

		// Nearest connection: shortest path from any connected table,
		// scanning in connection order for deterministic ties.
		var best []string

		for _, source := range connected {
			path := m.ShortestPath(source, target)
			if path != nil && (best == nil || len(path) < len(best)) {
				best = path
			}
		}

		if best == nil {
			continue
		}

		for i := 0; i < len(best)-1; i++ {
			from, to := best[i], best[i+1]

			rel := m.relationship(from, to)
			if rel == nil {
				continue
			}

			key := [2]string{from, to}
			if !emitted[key] {
				emitted[key] = true
				joins = append(joins, JoinStep{
					FromTable:  from,
					FromColumn: rel.FromColumn,
					ToTable:    to,
					ToColumn:   m.ResolveToColumn(*rel),
					Type:       "INNER",
				})
			}

			if !connectedSet[to] {
				connectedSet[to] = true
				connected = append(connected, to)
			}
		}
	}

	return joins
}

// DegreeCentrality returns the table's degree centrality in the
// relationship graph: degree / (n-1), the fraction of other tables it is
// directly connected to.
func (m *Model) DegreeCentrality(name string) float64 {
	n := len(m.tableNames)
	if n <= 1 {
		return 0
	}

	name = strings.ToLower(name)
	degree := len(m.out[name]) + len(m.in[name])

	return float64(degree) / float64(n-1)
}

// CodeMapping returns the code mapping for a field path like
// "shipments.tracking_status", or nil when none is configured.
func (m *Model) CodeMapping(fieldPath string) *CodeMapping {
	if mapping, ok := m.codeMappings[fieldPath]; ok {
		return &mapping
	}

	return nil
}

// CodeValue resolves a human-readable label to its code value for the
// given field path (case-insensitive), returning "" when unmapped.
func (m *Model) CodeValue(fieldPath, label string) string {
	mapping := m.CodeMapping(fieldPath)
	if mapping == nil {
		return ""
	}

	for code, mapped := range mapping.Values {
		if strings.EqualFold(mapped, label) {
			return code
		}
	}

	return ""
}

// CodeMappings returns all configured code mappings keyed by field path
func (m *Model) CodeMappings() map[string]CodeMapping {
	return m.codeMappings
}
