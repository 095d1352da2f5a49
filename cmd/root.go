package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sqlward",
	Short: "Generate and validate SQL from natural-language questions",
	Long: `sqlward turns natural-language questions into validated SQL. Questions are
planned against a schema graph, generated by an LLM, and gated by a SQL
validator that enforces table existence, column existence, join direction,
and per-entity scoping before anything reaches the database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	ctx := context.Background()
	return rootCmd.ExecuteContext(ctx)
}
