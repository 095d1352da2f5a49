package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sqlward/sqlward/internal/db"
	sqlwarderrors "github.com/sqlward/sqlward/internal/errors"
	"github.com/sqlward/sqlward/internal/generate"
	"github.com/sqlward/sqlward/internal/llm"
	"github.com/sqlward/sqlward/internal/resilience"
)

var (
	askRole     string
	askEntity   string
	askExecute  bool
	askShowPlan bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Generate validated SQL for a natural-language question",
	Long: `Generate SQL for a question. The question is planned against the schema
graph, turned into SQL by the configured LLM provider, and validated before
it is shown. With --execute the statement runs read-only against the
configured database and the rows are summarized.

Examples:
  sqlward ask "how many shipments are delivered"
  sqlward ask --role customer --entity E100 "list my recent orders"
  sqlward ask --execute "which carriers delivered late this month"`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askRole, "role", "", "Role to run as (defaults to the configured default role)")
	askCmd.Flags().StringVar(&askEntity, "entity", "", "Entity to scope the query to")
	askCmd.Flags().BoolVar(&askExecute, "execute", false, "Execute the validated SQL read-only and summarize the rows")
	askCmd.Flags().BoolVar(&askShowPlan, "plan", false, "Print the validated query plan")

	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	question := strings.TrimSpace(args[0])
	if question == "" {
		return fmt.Errorf("question must not be empty")
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	user, err := a.userContext(askRole, askEntity)
	if err != nil {
		return err
	}

	if !a.limiter.Allow(clientKey(user)) {
		return sqlwarderrors.New(sqlwarderrors.ErrTypeRateLimit, "rate limit exceeded").
			WithSuggestion("wait a minute before asking again")
	}

	a.logger.Info("processing question", map[string]interface{}{
		"request_id": user.RequestID,
		"role":       user.Role,
	})

	breakers := resilience.NewBreakerRegistry(
		a.cfg.LLM.BreakerTrips,
		time.Duration(a.cfg.LLM.BreakerResetS)*time.Second,
	)

	svc, err := llm.NewClient(a.cfg.LLM, breakers)
	if err != nil {
		return err
	}

	gen := generate.NewGenerator(a.model, svc, a.perms, a.logger, a.cfg)

	var executor *db.Executor

	if askExecute || a.cfg.Database.EnableFeedback {
		executor, err = db.NewExecutor(ctx, a.cfg.Database, a.cfg.Security.DefaultLimit)
		if err != nil {
			return err
		}
		defer executor.Close()

		if a.cfg.Database.EnableFeedback {
			gen.SetOracle(executor)
		}
	}

	result, err := gen.Generate(ctx, question, user)
	if err != nil {
		if result != nil && result.SQL != "" {
			fmt.Fprintf(out, "Last candidate (failed validation):\n%s\n", result.SQL)
		}

		return err
	}

	if askShowPlan && result.Plan != nil {
		fmt.Fprintln(out, result.Plan.Summary())
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, result.SQL)

	if result.Attempts > 1 {
		a.logger.Debug("generation needed retries", map[string]interface{}{
			"attempts": result.Attempts,
		})
	}

	if !askExecute {
		return nil
	}

	queryResult, err := executor.Execute(ctx, result.SQL)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d row(s) in %s\n", queryResult.RowCount, queryResult.Duration)

	if sample := queryResult.SampleRows(10); sample != "" {
		fmt.Fprintln(out, sample)
	}

	answer, err := svc.ExplainResults(ctx, question, result.SQL, queryResult.RowCount, queryResult.SampleRows(5))
	if err != nil {
		a.logger.Warn("result explanation failed", map[string]interface{}{
			"error": err.Error(),
		})

		return nil
	}

	fmt.Fprintf(out, "\n%s\n", answer)

	return nil
}
