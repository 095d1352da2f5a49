package sqlcheck

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sqlward/sqlward/internal/access"
	sqlwarderrors "github.com/sqlward/sqlward/internal/errors"
)

// ValidateWithAccuracy runs the standard gate and then a set of
// schema-accuracy heuristics that catch queries which are syntactically
// fine but semantically wrong: display columns referenced without their
// owning table, human labels used where the schema stores codes, and
// date columns that do not exist. The heuristics produce errors with
// concrete suggestions so a regeneration attempt can fix the query.
func (v *Validator) ValidateWithAccuracy(sql string, user *access.UserContext) (*Result, error) {
	result, err := v.Validate(sql, user)
	if err != nil {
		return nil, err
	}

	var issues []string

	issues = append(issues, v.checkDisplayColumnJoins(result.SQL, result.Tables)...)
	issues = append(issues, v.checkCodeLabels(result.SQL)...)
	issues = append(issues, v.checkPhantomDateColumns(result.SQL, result.Tables)...)

	if len(issues) > 0 {
		return nil, sqlwarderrors.Newf(sqlwarderrors.ErrTypeSchemaMismatch,
			"schema accuracy issues: %s", strings.Join(issues, "; "))
	}

	if err := v.checkScopedAncestor(result, user); err != nil {
		return nil, err
	}

	return result, nil
}

var nameColumnPattern = regexp.MustCompile(`\b(\w+_name)\b`)

// checkDisplayColumnJoins flags *_name columns whose owning table is
// not part of the query, which usually means a missing lookup join.
func (v *Validator) checkDisplayColumnJoins(sql string, tables []string) []string {
	lower := strings.ToLower(sql)
	used := make(map[string]bool, len(tables))

	for _, t := range tables {
		used[t] = true
	}

	var issues []string

	seen := make(map[string]bool)

	for _, m := range nameColumnPattern.FindAllStringSubmatch(lower, -1) {
		col := m[1]
		if seen[col] {
			continue
		}

		seen[col] = true

		inUsedTable := false

		for _, t := range tables {
			if table := v.model.GetTable(t); table != nil && table.HasColumn(col) {
				inUsedTable = true
				break
			}
		}

		if inUsedTable {
			continue
		}

		for _, owner := range v.model.TableNames() {
			if used[owner] {
				continue
			}

			if v.model.GetTable(owner).HasColumn(col) {
				issues = append(issues, fmt.Sprintf(
					"column '%s' belongs to table '%s', add a JOIN to it", col, owner))

				break
			}
		}
	}

	return issues
}

// checkCodeLabels flags literals that use a human-readable label where
// the schema stores a code, e.g. 'Delivered' instead of '1900'.
func (v *Validator) checkCodeLabels(sql string) []string {
	lower := strings.ToLower(sql)

	var issues []string

	fieldPaths := make([]string, 0, len(v.model.CodeMappings()))
	for fieldPath := range v.model.CodeMappings() {
		fieldPaths = append(fieldPaths, fieldPath)
	}

	sort.Strings(fieldPaths)

	for _, fieldPath := range fieldPaths {
		mapping := v.model.CodeMappings()[fieldPath]

		_, column, found := strings.Cut(fieldPath, ".")
		if !found || !strings.Contains(lower, strings.ToLower(column)) {
			continue
		}

		labels := make([]string, 0, len(mapping.Values))
		for _, label := range mapping.Values {
			labels = append(labels, label)
		}

		sort.Strings(labels)

		for _, label := range labels {
			if strings.Contains(lower, "'"+strings.ToLower(label)+"'") {
				issues = append(issues, fmt.Sprintf(
					"use %s = '%s' for '%s', not the label", column, v.model.CodeValue(fieldPath, label), label))
			}
		}
	}

	return issues
}

var phantomDateColumns = []string{"delivery_date", "order_date"}

// checkPhantomDateColumns flags date columns the model likes to invent
// when the used tables do not declare them, and points at a real one.
func (v *Validator) checkPhantomDateColumns(sql string, tables []string) []string {
	lower := strings.ToLower(sql)

	var issues []string

	for _, phantom := range phantomDateColumns {
		if !regexp.MustCompile(`\b` + phantom + `\b`).MatchString(lower) {
			continue
		}

		exists := false

		var replacement string

		for _, t := range tables {
			table := v.model.GetTable(t)
			if table == nil {
				continue
			}

			if table.HasColumn(phantom) {
				exists = true
				break
			}

			if replacement == "" {
				for _, col := range table.Columns {
					colLower := strings.ToLower(col)
					if strings.Contains(colLower, "date") || strings.Contains(colLower, "created") {
						replacement = col
						break
					}
				}
			}
		}

		if !exists {
			issue := fmt.Sprintf("column '%s' doesn't exist", phantom)
			if replacement != "" {
				issue += fmt.Sprintf(", use %s", replacement)
			}

			issues = append(issues, issue)
		}
	}

	return issues
}

// checkScopedAncestor fires when a query touches only unscoped tables
// that hang off a scoped parent. Such a query leaks data across tenants
// even though no scoped table appears in it, so the fix is to join the
// parent and filter there.
func (v *Validator) checkScopedAncestor(result *Result, user *access.UserContext) error {
	reqs := v.perms.ScopingRequirements(user)
	if !reqs.Required || len(result.ScopedTables) > 0 || len(result.Tables) == 0 {
		return nil
	}

	if strings.Contains(strings.ToLower(result.SQL), strings.ToLower(reqs.ScopingColumn)) {
		return nil
	}

	for _, t := range result.Tables {
		for _, rel := range v.model.Relationships() {
			var parent string

			var hint string

			switch {
			case rel.From == t:
				parent = rel.To
				hint = fmt.Sprintf("JOIN %s p ON %s.%s = p.%s AND p.%s = '%s'",
					parent, t, rel.FromColumn, v.model.ResolveToColumn(rel), reqs.ScopingColumn, reqs.ScopingValue)
			case rel.To == t:
				parent = rel.From
				hint = fmt.Sprintf("JOIN %s p ON p.%s = %s.%s AND p.%s = '%s'",
					parent, rel.FromColumn, t, v.model.ResolveToColumn(rel), reqs.ScopingColumn, reqs.ScopingValue)
			default:
				continue
			}

			parentTable := v.model.GetTable(parent)
			if parentTable == nil || !parentTable.Scoped {
				continue
			}

			return sqlwarderrors.Newf(sqlwarderrors.ErrTypeScopingViolation,
				"missing tenant scoping, join '%s' and filter on %s", parent, reqs.ScopingColumn).
				WithSuggestion(hint)
		}
	}

	return nil
}
