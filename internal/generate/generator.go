// Package generate runs the plan-then-SQL orchestration loop: retrieve
// relevant tables, ask the LLM for a plan, validate and repair it, ask
// for SQL, gate the SQL, and retry with a refined schema context when a
// step fails. Attempts are bounded.
package generate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sqlward/sqlward/internal/access"
	"github.com/sqlward/sqlward/internal/config"
	sqlwarderrors "github.com/sqlward/sqlward/internal/errors"
	"github.com/sqlward/sqlward/internal/llm"
	"github.com/sqlward/sqlward/internal/logging"
	"github.com/sqlward/sqlward/internal/plan"
	"github.com/sqlward/sqlward/internal/retrieval"
	"github.com/sqlward/sqlward/internal/schema"
	"github.com/sqlward/sqlward/internal/sqlcheck"
)

// Oracle checks a candidate statement against the live database, giving
// the loop feedback the static gate cannot. Optional.
type Oracle interface {
	Explain(ctx context.Context, sql string) error
}

// Result is a validated generation outcome. On retry exhaustion the
// generator returns a Result alongside the error so callers can surface
// the last candidate SQL.
type Result struct {
	SQL      string
	Plan     *plan.Plan
	Tables   []string
	Attempts int
	Scoped   bool
}

// Generator owns the generation loop and its collaborators. Built once;
// safe for concurrent use.
type Generator struct {
	model  *schema.Model
	index  *retrieval.Index
	plans  *plan.Validator
	gate   *sqlcheck.Validator
	svc    llm.Service
	perms  *access.PermissionManager
	oracle Oracle
	cache  *contextCache
	logger *logging.Logger

	maxAttempts int
	topK        int
	minScore    float64
	maxTables   int
	sampleCount int
}

// NewGenerator wires the loop to the schema model, LLM service, and
// security policy. The retrieval index and validators are built here.
func NewGenerator(model *schema.Model, svc llm.Service, perms *access.PermissionManager, logger *logging.Logger, cfg *config.Config) *Generator {
	maxAttempts := cfg.Pipeline.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Generator{
		model:       model,
		index:       retrieval.NewIndex(model),
		plans:       plan.NewValidator(model),
		gate:        sqlcheck.NewValidator(model, &cfg.Security, perms),
		svc:         svc,
		perms:       perms,
		cache:       newContextCache(cfg.Pipeline.CacheSize),
		logger:      logger,
		maxAttempts: maxAttempts,
		topK:        cfg.Retrieval.TopK,
		minScore:    cfg.Retrieval.MinScore,
		maxTables:   cfg.Security.MaxTables,
		sampleCount: 3,
	}
}

// SetOracle enables database feedback on validated candidates.
func (g *Generator) SetOracle(oracle Oracle) {
	g.oracle = oracle
}

// Generate turns a natural-language question into validated SQL for the
// given user. Each attempt runs plan generation, plan validation, SQL
// generation, and the SQL gate; a failed attempt refines the schema
// context before retrying. Non-retryable failures stop the loop
// immediately.
func (g *Generator) Generate(ctx context.Context, question string, user *access.UserContext) (*Result, error) {
	reqs := g.perms.ScopingRequirements(user)
	tables := g.selectTables(question)

	var (
		lastErr error
		lastSQL string
	)

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		g.logger.Debug("generation attempt", map[string]interface{}{
			"attempt": attempt,
			"tables":  strings.Join(tables, ","),
		})

		result, err := g.attempt(ctx, question, user, reqs, tables, attempt)
		if err == nil {
			return result, nil
		}

		if !sqlwarderrors.Retryable(err) {
			return nil, err
		}

		lastErr = err
		if result != nil && result.SQL != "" {
			lastSQL = result.SQL
		}

		tables = g.refineTables(tables, question, err)

		g.logger.Warn("attempt failed", map[string]interface{}{
			"attempt": attempt,
			"error":   err.Error(),
		})
	}

	err := sqlwarderrors.Wrapf(lastErr, sqlwarderrors.ErrTypeRetryExhausted,
		"no valid SQL after %d attempts", g.maxAttempts)

	return &Result{SQL: lastSQL, Attempts: g.maxAttempts}, err
}

// attempt runs one full pass. A returned Result alongside an error
// carries the failing candidate SQL when one was produced.
func (g *Generator) attempt(ctx context.Context, question string, user *access.UserContext, reqs access.ScopingRequirements, tables []string, attempt int) (*Result, error) {
	description := g.schemaContext(question, tables, reqs.Required)

	rawPlan, err := g.svc.GeneratePlan(ctx, question, description, reqs.Required)
	if err != nil {
		return nil, err
	}

	p, err := g.plans.Validate(rawPlan, question)
	if err != nil {
		return nil, err
	}

	planJSON, err := p.MarshalIndentJSON()
	if err != nil {
		return nil, sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeInternal, "failed to encode plan")
	}

	rawSQL, err := g.svc.GenerateSQLFromPlan(ctx, question, planJSON, description, g.scopingHint(reqs, p))
	if err != nil {
		return nil, err
	}

	candidate, err := reconcileCountIntent(question, strings.TrimSpace(rawSQL))
	if err != nil {
		return nil, err
	}

	gated, err := g.gate.ValidateWithAccuracy(candidate, user)
	if err != nil {
		return &Result{SQL: candidate, Attempts: attempt}, err
	}

	if err := checkPlanContainment(gated.Tables, p); err != nil {
		return &Result{SQL: gated.SQL, Attempts: attempt}, err
	}

	if g.oracle != nil {
		if err := g.oracle.Explain(ctx, gated.SQL); err != nil {
			return &Result{SQL: gated.SQL, Attempts: attempt}, err
		}
	}

	return &Result{
		SQL:      gated.SQL,
		Plan:     p,
		Tables:   gated.Tables,
		Attempts: attempt,
		Scoped:   gated.ScopingApplied,
	}, nil
}

// selectTables picks the initial schema slice from the retrieval index,
// falling back to priority ordering when nothing scores.
func (g *Generator) selectTables(question string) []string {
	matches := g.index.Search(question, g.topK, g.minScore)
	if len(matches) == 0 {
		return g.index.FallbackTables(g.topK)
	}

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.Table)
	}

	return names
}

// schemaContext renders the schema description for the given tables,
// memoized in the LRU cache, plus the curated examples most relevant to
// the question. Examples are question-dependent and stay out of the
// cache.
func (g *Generator) schemaContext(question string, tables []string, scopingRequired bool) string {
	key := cacheKey(tables, scopingRequired)

	description, ok := g.cache.Get(key)
	if !ok {
		description = g.model.DescribeTables(tables, scopingRequired)
		g.cache.Put(key, description)
	}

	examples := g.relevantExamples(question, tables)
	if len(examples) == 0 {
		return description
	}

	var b strings.Builder

	b.WriteString(description)
	b.WriteString("\nExample queries:\n")

	for _, ex := range examples {
		fmt.Fprintf(&b, "-- %s\n%s\n", ex.Question, ex.SQL)
	}

	return b.String()
}

var wordPattern = regexp.MustCompile(`\w+`)

// relevantExamples ranks the tables' curated examples by token overlap
// with the question and keeps the best few. Falls back to enumeration
// order when nothing overlaps.
func (g *Generator) relevantExamples(question string, tables []string) []schema.Example {
	candidates := g.model.ExamplesFor(tables, 50)
	if len(candidates) <= g.sampleCount {
		return candidates
	}

	questionTokens := make(map[string]bool)
	for _, tok := range wordPattern.FindAllString(strings.ToLower(question), -1) {
		questionTokens[tok] = true
	}

	type scored struct {
		example schema.Example
		overlap int
	}

	ranked := make([]scored, 0, len(candidates))

	for _, ex := range candidates {
		overlap := 0
		for _, tok := range wordPattern.FindAllString(strings.ToLower(ex.Question), -1) {
			if questionTokens[tok] {
				overlap++
			}
		}

		ranked = append(ranked, scored{example: ex, overlap: overlap})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].overlap > ranked[j].overlap
	})

	picked := make([]schema.Example, 0, g.sampleCount)
	for _, s := range ranked[:g.sampleCount] {
		picked = append(picked, s.example)
	}

	return picked
}

func cacheKey(tables []string, scopingRequired bool) string {
	sorted := append([]string(nil), tables...)
	sort.Strings(sorted)

	return fmt.Sprintf("%s|scoped=%t", strings.Join(sorted, ","), scopingRequired)
}

// refineTables widens the schema slice based on what went wrong.
// Scoping failures pull in scoped tables so the next plan can route
// through them; join failures pull in neighbors of the current slice;
// anything else widens the retrieval cut.
func (g *Generator) refineTables(current []string, question string, cause error) []string {
	msg := strings.ToLower(cause.Error())
	next := append([]string(nil), current...)

	switch {
	case strings.Contains(msg, "scoping"):
		for _, name := range g.model.TableNames() {
			if table := g.model.GetTable(name); table != nil && table.Scoped {
				next = appendUnique(next, name)
			}
		}
	case strings.Contains(msg, "count"):
		// shape mismatch, not a schema problem: replan over the same
		// focused tables
		return next
	case strings.Contains(msg, "join") || strings.Contains(msg, "relationship"):
		for _, name := range current {
			for _, neighbor := range g.model.RelatedTables(name) {
				next = appendUnique(next, neighbor)
			}
		}
	default:
		for _, m := range g.index.Search(question, g.topK*2, 0) {
			next = appendUnique(next, m.Table)
		}
	}

	if g.maxTables > 0 && len(next) > g.maxTables {
		next = next[:g.maxTables]
	}

	return next
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if strings.EqualFold(existing, s) {
			return list
		}
	}

	return append(list, s)
}

// scopingHint builds the prompt rule reminding the model to filter
// scoped tables by the caller's entity.
func (g *Generator) scopingHint(reqs access.ScopingRequirements, p *plan.Plan) string {
	if !reqs.Required || !p.NeedsScoping {
		return ""
	}

	return fmt.Sprintf("Every scoped table must be filtered by %s = '%s'.",
		reqs.ScopingColumn, reqs.ScopingValue)
}

var (
	fromTablePattern   = regexp.MustCompile(`(?i)\bFROM\s+([A-Za-z_][\w.]*)`)
	whereClausePattern = regexp.MustCompile(`(?is)\bWHERE\s+(.+?)(?:\s+GROUP\s+BY|\s+ORDER\s+BY|\s+LIMIT\b|\s+OFFSET\b|;|$)`)
)

// reconcileCountIntent lines the SQL shape up with the question: a
// count question must produce a COUNT(*) statement, and a row question
// must not.
func reconcileCountIntent(question, sql string) (string, error) {
	isCount := plan.IsCountIntent(question)
	startsCount := strings.HasPrefix(strings.ToUpper(sql), "SELECT COUNT(")

	switch {
	case isCount && !startsCount:
		return fixCountQuery(sql)
	case !isCount && startsCount:
		return "", sqlwarderrors.New(sqlwarderrors.ErrTypeSchemaMismatch,
			"query returns a count but the question asks for rows")
	}

	return sql, nil
}

// fixCountQuery rewrites a row-returning statement into a COUNT(*) over
// the same source table and WHERE clause.
func fixCountQuery(sql string) (string, error) {
	from := fromTablePattern.FindStringSubmatch(sql)
	if from == nil {
		return "", sqlwarderrors.New(sqlwarderrors.ErrTypeSchemaMismatch,
			"cannot rewrite query as a count: no FROM clause")
	}

	rewritten := "SELECT COUNT(*) FROM " + from[1]

	if where := whereClausePattern.FindStringSubmatch(sql); where != nil {
		rewritten += " WHERE " + strings.TrimSpace(where[1])
	}

	return rewritten, nil
}

// checkPlanContainment rejects SQL that reaches tables the validated
// plan never approved.
func checkPlanContainment(sqlTables []string, p *plan.Plan) error {
	planned := make(map[string]bool, len(p.Tables))
	for _, t := range p.Tables {
		planned[strings.ToLower(t)] = true
	}

	for _, t := range sqlTables {
		if !planned[strings.ToLower(t)] {
			return sqlwarderrors.Newf(sqlwarderrors.ErrTypeSchemaMismatch,
				"query uses table '%s' outside the validated plan", t)
		}
	}

	return nil
}
