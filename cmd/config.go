package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display the active configuration",
	Long:  `Show the current active configuration including all settings from file and environment variables. Secrets are masked.`,
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	a, err := newApp()
	if err != nil {
		return err
	}

	cfg := a.cfg

	fmt.Fprintln(out, "Active Configuration:")

	fmt.Fprintln(out, "\nSchema:")
	fmt.Fprintf(out, "  Path: %s\n", cfg.Schema.Path)
	fmt.Fprintf(out, "  Loaded Tables: %d\n", len(a.model.TableNames()))

	fmt.Fprintln(out, "\nSecurity:")
	fmt.Fprintf(out, "  Scoping Column: %s\n", cfg.Security.ScopingColumn)
	fmt.Fprintf(out, "  Auto Scoping: %t\n", cfg.Security.EnableAutoScoping)
	fmt.Fprintf(out, "  Max Tables: %d\n", cfg.Security.MaxTables)
	fmt.Fprintf(out, "  Allowed Operations: %s\n", strings.Join(cfg.Security.AllowedOperationList(), ", "))
	fmt.Fprintf(out, "  Default Role: %s\n", cfg.Security.DefaultRole)
	fmt.Fprintf(out, "  Roles: %s\n", strings.Join(a.perms.Roles(), ", "))
	fmt.Fprintf(out, "  Rate Limit: %d/min\n", cfg.Security.RateLimitPerMin)
	fmt.Fprintf(out, "  Default Row Limit: %d\n", cfg.Security.DefaultLimit)

	fmt.Fprintln(out, "\nRetrieval:")
	fmt.Fprintf(out, "  Top K: %d\n", cfg.Retrieval.TopK)
	fmt.Fprintf(out, "  Min Score: %.2f\n", cfg.Retrieval.MinScore)

	fmt.Fprintln(out, "\nLLM:")
	fmt.Fprintf(out, "  Provider: %s\n", cfg.LLM.Provider)
	fmt.Fprintf(out, "  Model: %s\n", cfg.LLM.Model)
	fmt.Fprintf(out, "  API Key: %s\n", maskSecret(cfg.LLM.APIKey))
	fmt.Fprintf(out, "  Timeout: %s\n", cfg.LLM.Timeout)
	fmt.Fprintf(out, "  Max Tokens: %d\n", cfg.LLM.MaxTokens)
	fmt.Fprintf(out, "  Breaker: trips after %d failures, resets after %ds\n",
		cfg.LLM.BreakerTrips, cfg.LLM.BreakerResetS)

	fmt.Fprintln(out, "\nDatabase:")
	fmt.Fprintf(out, "  DSN: %s\n", maskSecret(cfg.Database.DSN))
	fmt.Fprintf(out, "  Max Connections: %d\n", cfg.Database.MaxConnections)
	fmt.Fprintf(out, "  Query Timeout: %s\n", cfg.Database.QueryTimeout)
	fmt.Fprintf(out, "  Feedback: %t\n", cfg.Database.EnableFeedback)

	fmt.Fprintln(out, "\nPipeline:")
	fmt.Fprintf(out, "  Max Attempts: %d\n", cfg.Pipeline.MaxAttempts)
	fmt.Fprintf(out, "  Cache Size: %d\n", cfg.Pipeline.CacheSize)

	fmt.Fprintln(out, "\nLogging:")
	fmt.Fprintf(out, "  Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  Format: %s\n", cfg.Logging.Format)

	return nil
}

// maskSecret keeps just enough of a secret to recognize it.
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return "********"
	}

	return s[:4] + "..." + s[len(s)-4:]
}
