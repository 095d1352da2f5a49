package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	sqlwarderrors "github.com/sqlward/sqlward/internal/errors"
	"github.com/sqlward/sqlward/internal/schema"
)

// Validator repairs model-emitted plans against the schema. It drops
// unknown tables and columns, rewrites joins onto declared
// relationships, bridges disconnected table sets, recomputes scoping,
// and applies intent-based repairs derived from the question.
type Validator struct {
	model *schema.Model
}

// NewValidator wires the validator to a schema model
func NewValidator(model *schema.Model) *Validator {
	return &Validator{model: model}
}

// Validate parses and repairs the raw plan text. The returned plan is
// always schema-consistent; an error means the plan was unusable and
// generation should retry.
func (v *Validator) Validate(rawPlan, userQuery string) (*Plan, error) {
	candidate := ExtractJSONObject(rawPlan)

	// Required fields are checked on the raw object so a missing key is
	// reported as missing rather than silently zero-valued.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &fields); err != nil {
		return nil, sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeMalformedPlan, "invalid JSON plan format")
	}

	var missing []string

	for _, field := range requiredFields {
		if _, ok := fields[field]; !ok {
			missing = append(missing, field)
		}
	}

	if len(missing) > 0 {
		return nil, sqlwarderrors.Newf(sqlwarderrors.ErrTypeMalformedPlan,
			"missing required fields: %s", strings.Join(missing, ", "))
	}

	var p Plan
	if err := json.Unmarshal([]byte(candidate), &p); err != nil {
		return nil, sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeMalformedPlan, "plan fields have wrong types")
	}

	normalizeTableCase(&p)

	v.synthesizeJoinBridges(&p)

	if err := v.repairTables(&p); err != nil {
		return nil, err
	}

	v.repairColumns(&p)
	v.repairJoins(&p)

	p.NeedsScoping = v.computeScoping(p.Tables)

	v.applyIntentRepairs(&p, userQuery)

	return &p, nil
}

// normalizeTableCase lowercases every table reference in the plan so
// repair steps match regardless of how the model capitalized them: the
// table list, the column map keys, and the join endpoints.
func normalizeTableCase(p *Plan) {
	for i, table := range p.Tables {
		p.Tables[i] = strings.ToLower(table)
	}

	if len(p.Columns) > 0 {
		columns := make(map[string][]string, len(p.Columns))
		for table, cols := range p.Columns {
			key := strings.ToLower(table)
			columns[key] = append(columns[key], cols...)
		}

		p.Columns = columns
	}

	for i := range p.Joins {
		p.Joins[i].FromTable = strings.ToLower(p.Joins[i].FromTable)
		p.Joins[i].ToTable = strings.ToLower(p.Joins[i].ToTable)
	}
}

// synthesizeJoinBridges connects disconnected plan tables through the
// schema graph, adding implied bridge tables and their joins.
func (v *Validator) synthesizeJoinBridges(p *Plan) {
	if len(p.Tables) < 2 {
		return
	}

	havePair := make(map[[2]string]bool)
	for _, j := range p.Joins {
		havePair[[2]string{j.FromTable, j.ToTable}] = true
	}

	connected := []string{p.Tables[0]}
	connectedSet := map[string]bool{p.Tables[0]: true}

	for _, target := range p.Tables[1:] {
		if connectedSet[target] {
			continue
		}

		path := v.model.ShortestPath(connected[len(connected)-1], target)
		if path == nil {
			continue
		}

		for i := 0; i < len(path)-1; i++ {
			from, to := path[i], path[i+1]

			mark := func(table string) {
				if !connectedSet[table] {
					connectedSet[table] = true
					connected = append(connected, table)
				}
			}

			if havePair[[2]string{from, to}] {
				mark(to)
				continue
			}

			var rel *schema.Relationship

			for _, r := range v.model.Relationships() {
				if r.From == from && r.To == to {
					found := r
					rel = &found

					break
				}
			}

			if rel == nil {
				continue
			}

			p.Joins = append(p.Joins, schema.JoinStep{
				FromTable:  from,
				FromColumn: rel.FromColumn,
				ToTable:    to,
				ToColumn:   v.model.ResolveToColumn(*rel),
				Type:       "INNER",
			})
			havePair[[2]string{from, to}] = true
			mark(to)
		}
	}

	// Bridge tables implied by joins join the plan's table set
	inPlan := make(map[string]bool, len(p.Tables))
	for _, t := range p.Tables {
		inPlan[t] = true
	}

	for _, j := range p.Joins {
		for _, t := range []string{j.FromTable, j.ToTable} {
			if t != "" && !inPlan[t] {
				inPlan[t] = true
				p.Tables = append(p.Tables, t)
			}
		}
	}
}

// repairTables drops tables the schema does not know. A plan with no
// surviving tables cannot be repaired.
func (v *Validator) repairTables(p *Plan) error {
	var valid, invalid []string

	seen := make(map[string]bool)

	for _, table := range p.Tables {
		if seen[table] {
			continue
		}

		seen[table] = true

		if v.model.HasTable(table) {
			valid = append(valid, table)
		} else {
			invalid = append(invalid, table)
		}
	}

	if len(valid) == 0 {
		return sqlwarderrors.Newf(sqlwarderrors.ErrTypeSchemaMismatch,
			"no valid tables found, invalid tables: %s", strings.Join(invalid, ", "))
	}

	p.Tables = valid

	return nil
}

// repairColumns keeps only columns that exist in their table
func (v *Validator) repairColumns(p *Plan) {
	validated := make(map[string][]string, len(p.Tables))

	for _, tableName := range p.Tables {
		table := v.model.GetTable(tableName)

		valid := []string{}

		for _, col := range p.Columns[tableName] {
			if table.HasColumn(col) {
				valid = append(valid, col)
			}
		}

		validated[tableName] = valid
	}

	p.Columns = validated
}

// repairJoins rewrites joins onto declared relationships, forcing the
// schema's join columns, and drops joins the schema does not back.
func (v *Validator) repairJoins(p *Plan) {
	if len(p.Joins) == 0 {
		return
	}

	inPlan := make(map[string]bool, len(p.Tables))
	for _, t := range p.Tables {
		inPlan[t] = true
	}

	validated := p.Joins[:0]

	for _, j := range p.Joins {
		if !inPlan[j.FromTable] || !inPlan[j.ToTable] {
			continue
		}

		for _, rel := range v.model.Relationships() {
			if rel.From == j.FromTable && rel.To == j.ToTable {
				joinType := j.Type
				if joinType == "" {
					joinType = "INNER"
				}

				validated = append(validated, schema.JoinStep{
					FromTable:  j.FromTable,
					FromColumn: rel.FromColumn,
					ToTable:    j.ToTable,
					ToColumn:   v.model.ResolveToColumn(rel),
					Type:       joinType,
				})

				break
			}
		}
	}

	p.Joins = validated
}

func (v *Validator) computeScoping(tables []string) bool {
	for _, name := range tables {
		if table := v.model.GetTable(name); table != nil && table.Scoped {
			return true
		}
	}

	return false
}

var (
	countIntentWords = []string{"how many", "count", "number of", "total"}
	listIntentWords  = []string{"list", "show", "get", "find"}
	timeIntentWords  = []string{"today", "yesterday", "week", "month", "day"}
)

// IsCountIntent reports whether the question asks for a count rather
// than rows.
func IsCountIntent(question string) bool {
	return containsAny(strings.ToLower(question), countIntentWords)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}

	return false
}

// applyIntentRepairs reshapes the plan to match the question's intent.
// Count questions drop projection, grouping, and limit. List questions
// get display columns. Time-referencing questions get a date column,
// unless the question is a count, where extra columns would break the
// aggregate.
func (v *Validator) applyIntentRepairs(p *Plan, userQuery string) {
	query := strings.ToLower(userQuery)

	isCount := containsAny(query, countIntentWords)

	switch {
	case isCount:
		p.Columns = map[string][]string{}
		p.GroupBy = []string{}
		p.Limit = nil
	case containsAny(query, listIntentWords):
		v.ensureDisplayColumns(p)
	}

	if !isCount && containsAny(query, timeIntentWords) {
		v.ensureTimeColumns(p)
	}
}

func (v *Validator) ensureDisplayColumns(p *Plan) {
	for _, tableName := range p.Tables {
		table := v.model.GetTable(tableName)

		var displayColumns []string

		for _, col := range table.Columns {
			lower := strings.ToLower(col)
			if strings.Contains(lower, "name") || strings.Contains(lower, "title") {
				displayColumns = append(displayColumns, col)
			}
		}

		// people tables read better as first + last name
		if table.HasColumn("first_name") && table.HasColumn("last_name") {
			for _, col := range []string{"first_name", "last_name"} {
				if !contains(p.Columns[tableName], col) {
					p.Columns[tableName] = append(p.Columns[tableName], col)
				}
			}

			continue
		}

		if len(p.Columns[tableName]) == 0 && len(displayColumns) > 0 {
			if len(displayColumns) > 2 {
				displayColumns = displayColumns[:2]
			}

			p.Columns[tableName] = append(p.Columns[tableName], displayColumns...)
		}
	}
}

func (v *Validator) ensureTimeColumns(p *Plan) {
	for _, tableName := range p.Tables {
		table := v.model.GetTable(tableName)

		var timeColumns []string

		for _, col := range table.Columns {
			lower := strings.ToLower(col)
			if strings.Contains(lower, "date") || strings.Contains(lower, "created") {
				timeColumns = append(timeColumns, col)
			}
		}

		if len(timeColumns) == 0 {
			continue
		}

		hasTime := false

		for _, col := range p.Columns[tableName] {
			if contains(timeColumns, col) {
				hasTime = true
				break
			}
		}

		if !hasTime {
			p.Columns[tableName] = append(p.Columns[tableName], timeColumns[0])
		}
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}

	return false
}

// MarshalIndentJSON renders the plan as indented JSON for prompts
func (p *Plan) MarshalIndentJSON() (string, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plan: %w", err)
	}

	return string(data), nil
}
