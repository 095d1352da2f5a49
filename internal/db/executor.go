// Package db executes validated SQL against PostgreSQL. Queries run
// read-only with a statement timeout and a row-limit guardrail; the
// EXPLAIN path gives the generation loop cheap database feedback
// without touching data.
package db

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sqlward/sqlward/internal/config"
	sqlwarderrors "github.com/sqlward/sqlward/internal/errors"
	"github.com/sqlward/sqlward/internal/sqlcheck"
)

// QueryResult holds the rows of one executed query
type QueryResult struct {
	Columns  []string
	Rows     [][]interface{}
	RowCount int
	Duration time.Duration
}

// Pool is the subset of pgxpool.Pool the executor needs, split out so
// tests can stub the database.
type Pool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Executor runs validated statements against the database
type Executor struct {
	pool         Pool
	queryTimeout time.Duration
	defaultLimit int
}

// NewExecutor connects a pgx pool and verifies connectivity
func NewExecutor(ctx context.Context, cfg config.DatabaseConfig, defaultLimit int) (*Executor, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeConfig, "invalid database DSN")
	}

	poolCfg.MaxConns = int32(cfg.MaxConnections)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeDatabase, "failed to create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeDatabase, "failed to connect to database")
	}

	return &Executor{
		pool:         pool,
		queryTimeout: cfg.QueryTimeoutDuration(),
		defaultLimit: defaultLimit,
	}, nil
}

// Close releases the connection pool
func (e *Executor) Close() {
	e.pool.Close()
}

var limitClause = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)

// ApplyLimitGuardrail appends the default LIMIT to statements that have
// none, so an unbounded SELECT cannot drag a whole table back.
func ApplyLimitGuardrail(sql string, defaultLimit int) string {
	if defaultLimit <= 0 || limitClause.MatchString(sql) {
		return sql
	}

	trimmed := strings.TrimRight(strings.TrimSpace(sql), ";")

	return trimmed + " LIMIT " + strconv.Itoa(defaultLimit)
}

// CheckReadOnly is the last line of defense before execution. The gate
// already validated the statement; this rejects anything that slipped
// past it or was handed to the executor directly.
func CheckReadOnly(sql string) error {
	sql = sqlcheck.Sanitize(sql)

	upper := strings.ToUpper(strings.TrimSpace(sql))
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return sqlwarderrors.New(sqlwarderrors.ErrTypeSecurityViolation,
			"only SELECT statements may be executed")
	}

	return nil
}

// Execute runs one SELECT in a read-only transaction and materializes
// the rows. The statement is re-checked, gets the limit guardrail, and
// runs under the configured query timeout.
func (e *Executor) Execute(ctx context.Context, sql string) (*QueryResult, error) {
	if err := CheckReadOnly(sql); err != nil {
		return nil, err
	}

	sql = ApplyLimitGuardrail(sql, e.defaultLimit)

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeDatabase, "failed to begin read-only transaction")
	}
	defer tx.Rollback(ctx)

	start := time.Now()

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeDatabase, "query execution failed")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()

	columns := make([]string, len(fields))
	for i, field := range fields {
		columns[i] = field.Name
	}

	result := &QueryResult{Columns: columns}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeDatabase, "failed to read row")
		}

		result.Rows = append(result.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeDatabase, "row iteration failed")
	}

	result.RowCount = len(result.Rows)
	result.Duration = time.Since(start)

	return result, nil
}

// Explain runs EXPLAIN over the statement. A nil return means the
// database accepts the query; the error carries the planner's
// complaint otherwise.
func (e *Executor) Explain(ctx context.Context, sql string) error {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeDatabase, "failed to begin read-only transaction")
	}
	defer tx.Rollback(ctx)

	explainSQL := "EXPLAIN " + strings.TrimRight(strings.TrimSpace(sql), ";")

	rows, err := tx.Query(ctx, explainSQL)
	if err != nil {
		return sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeDatabase, "database rejected the query")
	}
	defer rows.Close()

	for rows.Next() {
	}

	if err := rows.Err(); err != nil {
		return sqlwarderrors.Wrap(err, sqlwarderrors.ErrTypeDatabase, "database rejected the query")
	}

	return nil
}

// SampleRows renders up to n result rows as compact text for the
// explanation prompt.
func (r *QueryResult) SampleRows(n int) string {
	var b strings.Builder

	b.WriteString(strings.Join(r.Columns, " | "))

	for i, row := range r.Rows {
		if i >= n {
			break
		}

		b.WriteString("\n")

		parts := make([]string, len(row))
		for j, v := range row {
			parts[j] = toString(v)
		}

		b.WriteString(strings.Join(parts, " | "))
	}

	return b.String()
}

func toString(v interface{}) string {
	if v == nil {
		return "NULL"
	}

	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	}

	return fmt.Sprint(v)
}
