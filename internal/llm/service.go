// Package llm talks to LLM providers for plan generation, SQL
// generation, and result explanation. OpenAI, Anthropic, and Ollama are
// supported through their HTTP APIs; every call goes through a
// per-provider circuit breaker.
package llm

import (
	"context"
)

// Service is the interface the generation pipeline depends on
type Service interface {
	// GeneratePlan asks the model for a structured query plan as JSON
	GeneratePlan(ctx context.Context, question, schemaDescription string, scopingRequired bool) (string, error)

	// GenerateSQLFromPlan asks the model for a single SELECT statement
	// implementing the given plan
	GenerateSQLFromPlan(ctx context.Context, question, planJSON, schemaDescription, scopingHint string) (string, error)

	// ExplainResults asks the model for a short natural-language answer
	// grounded in the returned rows
	ExplainResults(ctx context.Context, question, sql string, rowCount int, sampleRows string) (string, error)
}
