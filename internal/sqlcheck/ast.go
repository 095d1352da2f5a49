package sqlcheck

import (
	"strings"

	"github.com/xwb1989/sqlparser"

	sqlwarderrors "github.com/sqlward/sqlward/internal/errors"
)

// astInfo is what the parser-backed pass learns about a statement
type astInfo struct {
	tables        []string          // base tables in first-seen order
	aliasToTable  map[string]string // alias (or bare name) -> base table
	selectAliases map[string]bool   // SELECT-list aliases, usable in ORDER BY
}

// parseStatement runs the statement through the SQL parser and gates on
// statement type. Anything that does not parse, or is not a SELECT or
// UNION, is rejected here before the cheaper checks run.
func parseStatement(sql string) (sqlparser.Statement, *astInfo, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, nil, sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeSchemaMismatch, "invalid SQL syntax")
	}

	switch stmt.(type) {
	case *sqlparser.Select, *sqlparser.Union:
	default:
		return nil, nil, sqlwarderrors.New(sqlwarderrors.ErrTypePolicyViolation,
			"only SELECT statements are allowed")
	}

	info := &astInfo{
		aliasToTable:  make(map[string]string),
		selectAliases: make(map[string]bool),
	}

	seen := make(map[string]bool)

	err = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.AliasedTableExpr:
			table, ok := n.Expr.(sqlparser.TableName)
			if !ok {
				return true, nil
			}

			name := strings.ToLower(table.Name.String())
			if name == "" {
				return true, nil
			}

			if !seen[name] {
				seen[name] = true
				info.tables = append(info.tables, name)
			}

			alias := strings.ToLower(n.As.String())
			if alias == "" {
				alias = name
			}

			info.aliasToTable[alias] = name
		case *sqlparser.AliasedExpr:
			if !n.As.IsEmpty() {
				info.selectAliases[strings.ToLower(n.As.String())] = true
			}
		}

		return true, nil
	}, stmt)
	if err != nil {
		return nil, nil, sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeInternal, "failed to walk SQL AST")
	}

	return stmt, info, nil
}

// checkColumns verifies every column reference against the schema.
// Qualified references resolve through the alias map; unqualified
// references must exist in at least one used table or be a SELECT-list
// alias.
func (v *Validator) checkColumns(stmt sqlparser.Statement, info *astInfo) error {
	var violation error

	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		col, ok := node.(*sqlparser.ColName)
		if !ok {
			return true, nil
		}

		name := strings.ToLower(col.Name.String())
		qualifier := strings.ToLower(col.Qualifier.Name.String())

		if qualifier != "" {
			base := info.aliasToTable[qualifier]
			if base == "" {
				base = qualifier
			}

			table := v.model.GetTable(base)
			if table != nil && !table.HasColumn(name) {
				violation = sqlwarderrors.Newf(sqlwarderrors.ErrTypeSchemaMismatch,
					"column '%s' not in table '%s'", name, base)

				return false, violation
			}

			return true, nil
		}

		if info.selectAliases[name] {
			return true, nil
		}

		for _, tableName := range info.tables {
			if table := v.model.GetTable(tableName); table != nil && table.HasColumn(name) {
				return true, nil
			}
		}

		violation = sqlwarderrors.Newf(sqlwarderrors.ErrTypeSchemaMismatch,
			"column '%s' not found in used tables", name)

		return false, violation
	}, stmt)

	return violation
}
