package sqlcheck

import (
	"regexp"
	"strings"

	sqlwarderrors "github.com/sqlward/sqlward/internal/errors"
)

var tablePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bFROM\s+([` + "`" + `\w\.]+)`),
	regexp.MustCompile(`(?i)\bJOIN\s+([` + "`" + `\w\.]+)`),
	regexp.MustCompile(`(?i)\bUPDATE\s+([` + "`" + `\w\.]+)`),
	regexp.MustCompile(`(?i)\bINTO\s+([` + "`" + `\w\.]+)`),
	regexp.MustCompile(`(?i)\bDELETE\s+FROM\s+([` + "`" + `\w\.]+)`),
}

// columnLike filters identifiers that show up after FROM/JOIN in
// fragments but are clearly not table names
var columnLike = regexp.MustCompile(`^(id|count|sum|avg|min|max)$`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// ExtractTables pulls table names out of a SQL string by keyword
// position. Qualifiers and backticks are stripped. This is the cheap
// lexical tier; the parser-backed extraction is authoritative.
func ExtractTables(sql string) []string {
	norm := whitespaceRun.ReplaceAllString(sql, " ")

	seen := make(map[string]bool)

	var tables []string

	for _, pattern := range tablePatterns {
		for _, m := range pattern.FindAllStringSubmatch(norm, -1) {
			raw := m[1]

			parts := strings.Split(raw, ".")
			name := strings.ToLower(strings.Trim(parts[len(parts)-1], "`"))

			if name == "" || columnLike.MatchString(name) || seen[name] {
				continue
			}

			seen[name] = true
			tables = append(tables, name)
		}
	}

	return tables
}

var (
	dangerousKeywords = []string{"DROP", "DELETE", "TRUNCATE", "ALTER", "CREATE", "INSERT", "UPDATE"}

	multiStatement = regexp.MustCompile(`;\s*[A-Za-z]`)
	lineComment    = regexp.MustCompile(`--\s*[A-Za-z]`)
	blockComment   = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

func keywordPattern(keyword string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + keyword + `\b`)
}

// safetyChecks rejects statements that could mutate data or smuggle a
// second statement past the gate. Word boundaries keep table names like
// "updates" from tripping the keyword check.
func safetyChecks(sql string) error {
	upper := strings.ToUpper(sql)

	for _, keyword := range dangerousKeywords {
		if keywordPattern(keyword).MatchString(upper) {
			return sqlwarderrors.Newf(sqlwarderrors.ErrTypeSecurityViolation,
				"operation '%s' is not allowed for security reasons", keyword)
		}
	}

	if multiStatement.MatchString(sql) {
		return sqlwarderrors.New(sqlwarderrors.ErrTypeSecurityViolation,
			"multiple statements detected, potential SQL injection")
	}

	if lineComment.MatchString(sql) {
		return sqlwarderrors.New(sqlwarderrors.ErrTypeSecurityViolation,
			"SQL comments detected, potential injection")
	}

	if blockComment.MatchString(sql) {
		return sqlwarderrors.New(sqlwarderrors.ErrTypeSecurityViolation,
			"block comments detected, potential injection")
	}

	return nil
}

var (
	stripLineComments  = regexp.MustCompile(`(?m)--.*$`)
	stripBlockComments = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// Sanitize strips comments and everything after the first statement
func Sanitize(sql string) string {
	sql = stripLineComments.ReplaceAllString(sql, "")
	sql = stripBlockComments.ReplaceAllString(sql, "")

	if idx := strings.IndexByte(sql, ';'); idx != -1 {
		sql = sql[:idx+1]
	}

	return strings.TrimSpace(sql)
}

var clauseBoundary = regexp.MustCompile(`(?i)\b(ORDER\s+BY|GROUP\s+BY|LIMIT|OFFSET)\b`)

var whereKeyword = regexp.MustCompile(`(?i)\bWHERE\b`)

// appendScopingFilter injects the scoping predicate. An existing WHERE
// clause gets "AND (...)" appended at its end; otherwise a WHERE clause
// is inserted before ORDER BY/GROUP BY/LIMIT/OFFSET, or appended at the
// end of the statement with a terminating semicolon. The result must
// parse, so the predicate always lands at a clause boundary.
func appendScopingFilter(sql, filterClause string) string {
	hadSemicolon := strings.HasSuffix(strings.TrimSpace(sql), ";")

	trimmed := strings.TrimRight(strings.TrimSpace(sql), "; ")

	var out string

	if loc := whereKeyword.FindStringIndex(trimmed); loc != nil {
		clause := " AND (" + filterClause + ")"

		if end := clauseBoundary.FindStringIndex(trimmed[loc[1]:]); end != nil {
			cut := loc[1] + end[0]
			out = strings.TrimRight(trimmed[:cut], " ") + clause + " " + trimmed[cut:]
		} else {
			out = trimmed + clause
		}
	} else if loc := clauseBoundary.FindStringIndex(trimmed); loc != nil {
		out = strings.TrimRight(trimmed[:loc[0]], " ") + " WHERE " + filterClause + " " + trimmed[loc[0]:]
	} else {
		// end-of-statement WHERE always terminates the statement
		return trimmed + " WHERE " + filterClause + ";"
	}

	if hadSemicolon {
		out += ";"
	}

	return out
}
