package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var schemaCmdTables []string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Display the loaded schema model",
	Long: `Show the schema model the generator plans against: tables, columns,
relationships, scoping rules, and code mappings.

Examples:
  sqlward schema
  sqlward schema --tables shipments,orders`,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().StringSliceVar(&schemaCmdTables, "tables", nil, "Limit output to these tables")

	rootCmd.AddCommand(schemaCmd)
}

func runSchema(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	a, err := newApp()
	if err != nil {
		return err
	}

	if a.model.Fallback {
		fmt.Fprintf(out, "WARNING: schema file %q not found, showing the built-in fallback schema\n\n", a.cfg.Schema.Path)
	}

	if len(schemaCmdTables) > 0 {
		fmt.Fprintln(out, a.model.DescribeTables(schemaCmdTables, false))
		return nil
	}

	fmt.Fprintf(out, "%d table(s), %d relationship(s)\n\n", len(a.model.TableNames()), len(a.model.Relationships()))
	fmt.Fprintln(out, a.model.Describe())

	return nil
}
