// Package sqlcheck validates generated SQL before it can reach a
// database. A lexical pre-filter rejects obviously unsafe statements,
// then a real SQL parser enforces statement type, column existence, and
// alias-aware tenant scoping. Scoping filters are synthesized when the
// statement is missing one and auto-scoping is enabled.
package sqlcheck

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sqlward/sqlward/internal/access"
	"github.com/sqlward/sqlward/internal/config"
	sqlwarderrors "github.com/sqlward/sqlward/internal/errors"
	"github.com/sqlward/sqlward/internal/schema"
)

// Result is the outcome of a successful validation. SQL may differ from
// the input when a scoping filter was synthesized.
type Result struct {
	SQL            string
	Tables         []string
	ScopedTables   []string
	ScopingApplied bool
}

// Validator is the SQL gate. Built once; safe for concurrent use.
type Validator struct {
	model *schema.Model
	cfg   *config.SecurityConfig
	perms *access.PermissionManager
}

// NewValidator wires the validator to the schema, security policy, and
// permission manager.
func NewValidator(model *schema.Model, cfg *config.SecurityConfig, perms *access.PermissionManager) *Validator {
	return &Validator{model: model, cfg: cfg, perms: perms}
}

// Validate runs the full gate over one statement for the given user.
// The returned Result carries the (possibly repaired) SQL and the
// tables it touches. Validation is idempotent: feeding the repaired SQL
// back through returns it unchanged.
func (v *Validator) Validate(sql string, user *access.UserContext) (*Result, error) {
	if err := safetyChecks(sql); err != nil {
		return nil, err
	}

	stmt, info, err := parseStatement(sql)
	if err != nil {
		return nil, err
	}

	if err := v.checkColumns(stmt, info); err != nil {
		return nil, err
	}

	if err := v.checkPolicy(sql, info.tables); err != nil {
		return nil, err
	}

	if err := v.checkJoinDirections(sql, info.tables); err != nil {
		return nil, err
	}

	result := &Result{SQL: sql, Tables: info.tables}

	for _, name := range info.tables {
		if table := v.model.GetTable(name); table != nil && table.Scoped {
			result.ScopedTables = append(result.ScopedTables, name)
		}
	}

	if err := v.enforceScoping(result, info, user); err != nil {
		return nil, err
	}

	return result, nil
}

// checkPolicy applies the configured table budget and operation
// allow-list.
func (v *Validator) checkPolicy(sql string, tables []string) error {
	if v.cfg.MaxTables > 0 && len(tables) > v.cfg.MaxTables {
		return sqlwarderrors.Newf(sqlwarderrors.ErrTypePolicyViolation,
			"query uses too many tables, maximum allowed: %d, found: %d", v.cfg.MaxTables, len(tables))
	}

	allowed := make(map[string]bool)
	for _, op := range v.cfg.AllowedOperationList() {
		allowed[strings.ToUpper(op)] = true
	}

	upper := strings.ToUpper(sql)

	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER"} {
		if keywordPattern(op).MatchString(upper) && !allowed[op] {
			return sqlwarderrors.Newf(sqlwarderrors.ErrTypePolicyViolation,
				"operation '%s' is not allowed, allowed operations: %s",
				op, strings.Join(v.cfg.AllowedOperationList(), ", "))
		}
	}

	return nil
}

// checkJoinDirections flags joins that target a relationship's table on
// .id when the schema declares a different target column.
func (v *Validator) checkJoinDirections(sql string, tables []string) error {
	used := make(map[string]bool, len(tables))
	for _, t := range tables {
		used[t] = true
	}

	lower := strings.ToLower(sql)

	for _, rel := range v.model.Relationships() {
		if !used[rel.From] || !used[rel.To] {
			continue
		}

		expectedRight := v.model.ResolveToColumn(rel)
		if expectedRight == "id" {
			continue
		}

		wrongPatterns := []string{
			fmt.Sprintf(`%s\.%s\s*=\s*%s\.id\b`, rel.From, rel.FromColumn, rel.To),
			fmt.Sprintf(`%s\.id\s*=\s*%s\.%s\b`, rel.To, rel.From, rel.FromColumn),
		}

		for _, pat := range wrongPatterns {
			if regexp.MustCompile(pat).MatchString(lower) {
				return sqlwarderrors.Newf(sqlwarderrors.ErrTypeJoinInconsistency,
					"incorrect join between %s and %s", rel.From, rel.To).
					WithSuggestion(fmt.Sprintf("use %s.%s = %s.%s", rel.From, rel.FromColumn, rel.To, expectedRight))
			}
		}
	}

	return nil
}

// scopedAlias is one instance of a scoped table in the statement. The
// same table aliased twice yields two entries, each needing its own
// tenant predicate.
type scopedAlias struct {
	alias string
	table string
	col   string
}

// enforceScoping checks that every alias of a scoped table carries a
// tenant filter and synthesizes the missing ones when allowed. A
// predicate on one alias never covers another alias of the same table.
// Users whose role does not require scoping pass through untouched.
func (v *Validator) enforceScoping(result *Result, info *astInfo, user *access.UserContext) error {
	reqs := v.perms.ScopingRequirements(user)
	if !reqs.Required || len(result.ScopedTables) == 0 {
		return nil
	}

	if reqs.ScopingValue == "" {
		return sqlwarderrors.New(sqlwarderrors.ErrTypeScopingViolation,
			"scoping is required but no scoping value is available")
	}

	unbound := v.unboundScopedAliases(result.SQL, info, reqs)
	if len(unbound) == 0 {
		result.ScopingApplied = true
		return nil
	}

	if !v.cfg.EnableAutoScoping {
		names := make([]string, 0, len(unbound))
		for _, ua := range unbound {
			names = append(names, ua.alias)
		}

		return sqlwarderrors.Newf(sqlwarderrors.ErrTypeScopingViolation,
			"scoped tables %s must include a scoping filter", strings.Join(names, ", ")).
			WithSuggestion(fmt.Sprintf("add %s = '<entity>' to the WHERE clause", reqs.ScopingColumn))
	}

	// a lone unaliased table gets the plain predicate; anything with
	// several table instances gets alias-qualified ones so the column
	// reference cannot be ambiguous
	multiple := len(info.aliasToTable) > 1

	conditions := make([]string, 0, len(unbound))

	for _, ua := range unbound {
		if multiple || ua.alias != ua.table {
			conditions = append(conditions, fmt.Sprintf("%s.%s = '%s'", ua.alias, ua.col, reqs.ScopingValue))
			continue
		}

		conditions = append(conditions, fmt.Sprintf("%s = '%s'", ua.col, reqs.ScopingValue))
	}

	result.SQL = appendScopingFilter(result.SQL, strings.Join(conditions, " AND "))
	result.ScopingApplied = true

	return nil
}

// unboundScopedAliases returns the scoped-table aliases that carry no
// tenant predicate, in deterministic alias order.
func (v *Validator) unboundScopedAliases(sql string, info *astInfo, reqs access.ScopingRequirements) []scopedAlias {
	lower := strings.ToLower(sql)
	value := regexp.QuoteMeta(strings.ToLower(reqs.ScopingValue))

	aliases := make([]string, 0, len(info.aliasToTable))
	for alias := range info.aliasToTable {
		aliases = append(aliases, alias)
	}

	sort.Strings(aliases)

	var unbound []scopedAlias

	for _, alias := range aliases {
		table := v.model.GetTable(info.aliasToTable[alias])
		if table == nil || !table.Scoped {
			continue
		}

		col := strings.ToLower(v.model.ScopingColumn(table))
		if aliasHasScopingFilter(lower, alias, col, value) {
			continue
		}

		unbound = append(unbound, scopedAlias{alias: alias, table: table.Name, col: col})
	}

	return unbound
}

// aliasHasScopingFilter looks for a tenant predicate bound to the given
// alias: a literal equality with the scoping value, a parameter
// placeholder, or an IN list containing the value. The column may be
// qualified with this alias or genuinely unqualified; a qualifier
// belonging to another alias does not count.
func aliasHasScopingFilter(sql, alias, col, value string) bool {
	qualified := `\b` + regexp.QuoteMeta(alias) + `\.` + col
	unqualified := `(?:^|[^.\w])` + col

	for _, ref := range []string{qualified, unqualified} {
		patterns := []string{
			ref + `\s*=\s*['"]?` + value + `['"]?`,
			ref + `\s*=\s*%s`,
			ref + `\s*=\s*\?`,
			ref + `\s*=\s*\$\d+`,
			ref + `\s+in\s*\([^)]*['"]?` + value + `['"]?[^)]*\)`,
		}

		for _, pat := range patterns {
			if regexp.MustCompile(pat).MatchString(sql) {
				return true
			}
		}
	}

	return false
}
