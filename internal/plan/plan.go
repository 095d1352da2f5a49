// Package plan defines the typed query plan produced by the LLM and
// the validator that repairs plans against the schema before SQL
// generation.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sqlward/sqlward/internal/schema"
)

// Filter is one predicate of a plan
type Filter struct {
	Table    string `json:"table"`
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// OrderBy is one ordering term of a plan
type OrderBy struct {
	Column    string `json:"column"`
	Direction string `json:"direction,omitempty"`
}

// Plan is the structured query plan the model emits before SQL is
// written. Limit is a pointer so "no limit" and "limit 0" stay
// distinguishable.
type Plan struct {
	Tables       []string            `json:"tables"`
	Columns      map[string][]string `json:"columns"`
	Joins        []schema.JoinStep   `json:"joins"`
	Filters      []Filter            `json:"filters"`
	GroupBy      []string            `json:"group_by"`
	OrderBy      []OrderBy           `json:"order_by"`
	Limit        *int                `json:"limit"`
	NeedsScoping bool                `json:"needs_scoping"`
}

// requiredFields in reporting order
var requiredFields = []string{"tables", "columns", "joins", "filters", "group_by", "order_by", "limit", "needs_scoping"}

// Summary renders a short human-readable description of the plan for
// logs and CLI output.
func (p *Plan) Summary() string {
	var parts []string

	if len(p.Tables) > 0 {
		parts = append(parts, fmt.Sprintf("Tables: %s", strings.Join(p.Tables, ", ")))
	}

	if len(p.Columns) > 0 {
		tables := make([]string, 0, len(p.Columns))
		for table := range p.Columns {
			tables = append(tables, table)
		}

		sort.Strings(tables)

		var colParts []string

		for _, table := range tables {
			cols := p.Columns[table]
			if len(cols) == 0 {
				continue
			}

			shown := cols
			suffix := ""

			if len(shown) > 3 {
				shown = shown[:3]
				suffix = "..."
			}

			colParts = append(colParts, fmt.Sprintf("%s(%s%s)", table, strings.Join(shown, ", "), suffix))
		}

		if len(colParts) > 0 {
			parts = append(parts, fmt.Sprintf("Columns: %s", strings.Join(colParts, ", ")))
		}
	}

	if len(p.Joins) > 0 {
		var joinParts []string

		for _, j := range p.Joins {
			joinParts = append(joinParts, fmt.Sprintf("%s.%s -> %s.%s", j.FromTable, j.FromColumn, j.ToTable, j.ToColumn))
		}

		parts = append(parts, fmt.Sprintf("Joins: %s", strings.Join(joinParts, ", ")))
	}

	if p.NeedsScoping {
		parts = append(parts, "Scoping: Required")
	}

	return strings.Join(parts, " | ")
}

// ExtractJSONObject returns the first balanced JSON object embedded in
// text. Markdown code fences are stripped first; brace matching is
// string- and escape-aware. When no object is found the trimmed input
// is returned so the JSON decoder produces the real error.
func ExtractJSONObject(text string) string {
	s := strings.TrimSpace(text)
	if s == "" {
		return s
	}

	if strings.HasPrefix(s, "```") {
		if newline := strings.IndexByte(s, '\n'); newline != -1 {
			s = s[newline+1:]
		} else {
			s = s[3:]
		}

		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	if start == -1 {
		return s
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		ch := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}

			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}

	return strings.TrimSpace(s[start:])
}
