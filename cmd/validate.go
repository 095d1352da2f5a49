package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sqlward/sqlward/internal/sqlcheck"
)

var (
	validateRole   string
	validateEntity string
)

var validateCmd = &cobra.Command{
	Use:   "validate <sql>",
	Short: "Run a SQL statement through the validation gate",
	Long: `Validate a statement without generating or executing anything. The gate
checks safety, syntax, table and column existence, join direction, policy,
and scoping, and prints the repaired statement when a scoping filter was
added.

Examples:
  sqlward validate "SELECT COUNT(*) FROM shipments"
  sqlward validate --role customer --entity E100 "SELECT * FROM orders"`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateRole, "role", "", "Role to validate as (defaults to the configured default role)")
	validateCmd.Flags().StringVar(&validateEntity, "entity", "", "Entity to scope the statement to")

	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	statement := strings.TrimSpace(args[0])
	if statement == "" {
		return fmt.Errorf("statement must not be empty")
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	user, err := a.userContext(validateRole, validateEntity)
	if err != nil {
		return err
	}

	validator := sqlcheck.NewValidator(a.model, &a.cfg.Security, a.perms)

	result, err := validator.ValidateWithAccuracy(statement, user)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "OK")
	fmt.Fprintf(out, "Tables: %s\n", strings.Join(result.Tables, ", "))

	if result.ScopingApplied {
		fmt.Fprintln(out, "A scoping filter was added:")
	}

	if result.SQL != statement {
		fmt.Fprintln(out, result.SQL)
	}

	return nil
}
