package llm

import (
	"fmt"
)

func buildPlanPrompt(question, schemaDescription string, scopingRequired bool) string {
	prompt := `You are an expert at planning SQL queries over a logistics database.
Analyze the user's question and the schema, then respond with ONLY a JSON object describing the query plan.

The JSON object MUST contain exactly these fields:
- tables: array of table names needed
- columns: object mapping each table to an array of columns to select
- joins: array of {"from_table", "from_column", "to_table", "to_column", "type"} objects, one per join
- filters: array of {"table", "column", "operator", "value"} objects
- group_by: array of columns to group by
- order_by: array of {"column", "direction"} objects
- limit: row limit as a number, or null
- needs_scoping: boolean, true when any table contains tenant data

Rules:
1. Only use tables and columns that appear in the schema below
2. Joins must follow the declared relationships
3. For counting questions leave columns empty and limit null
`

	if scopingRequired {
		prompt += "4. Set needs_scoping to true for any table marked as scoped\n"
	}

	return fmt.Sprintf("%s\n%s\nQuestion: %s", prompt, schemaDescription, question)
}

func buildSQLPrompt(question, planJSON, schemaDescription, scopingHint string) string {
	prompt := `You are an expert SQL writer. Write ONE SELECT statement that implements the query plan below.

Rules:
1. Respond with ONLY the SQL statement, no explanation and no markdown
2. Only reference tables and columns from the schema
3. Use the joins exactly as specified in the plan
4. Use code values, not labels, for coded columns
`

	if scopingHint != "" {
		prompt += "5. " + scopingHint + "\n"
	}

	return fmt.Sprintf("%s\n%s\nQuery plan:\n%s\n\nQuestion: %s", prompt, schemaDescription, planJSON, question)
}

func buildExplainPrompt(question, sql string, rowCount int, sampleRows string) string {
	return fmt.Sprintf(`Answer the user's question in one or two sentences using only the query results below.

Question: %s
SQL: %s
Rows returned: %d
Sample rows:
%s`, question, sql, rowCount, sampleRows)
}
