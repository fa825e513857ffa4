package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecfuse/internal/usecase/evaluation"
)

func newEvalCmd(rt *runtimeEnv) *cobra.Command {
	var (
		printCount int
		searchEach int
	)

	cmd := &cobra.Command{
		Use:   "eval [query;query;...]",
		Short: "Compare raw, per-source and fused rankings over a query set",
		Long: `Run each query against every configured collection and print the top K
hits of each collection next to the fused ranking.

Queries are separated by ';'. Without arguments the evaluation.queries from
the config are used, or a built-in vendor query set.

Examples:
  vecfuse eval
  vecfuse eval "reliable vendor;active vendor with high completion" -k 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ec := rt.cfg.Evaluation
			if cmd.Flags().Changed("k") {
				ec.PrintCount = printCount
				if !cmd.Flags().Changed("search-each") {
					ec.SearchEach = 0
				}
			}
			if cmd.Flags().Changed("search-each") {
				ec.SearchEach = searchEach
			}

			queries := evaluation.ParseQueries(args)
			if len(args) == 0 && len(ec.Queries) > 0 {
				queries = ec.Queries
			}

			a, err := newApp(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			fields := make(map[string]string, len(rt.cfg.Collections))
			for _, col := range rt.cfg.Collections {
				fields[col.Name] = col.EntityField
			}
			runner := evaluation.New(a.pipeline, evaluation.Config{
				Collections:  rt.cfg.CollectionNames(),
				EntityFields: fields,
				PrintCount:   ec.PrintCount,
				SearchEach:   ec.SearchEach,
			}, cmd.OutOrStdout(), rt.logger)

			sum, err := runner.Run(cmd.Context(), queries)
			if err != nil {
				return fmt.Errorf("evaluation: %w", err)
			}
			rt.logger.Info("evaluation finished", zap.Int("queries", sum.Queries), zap.Int("failed", sum.Failed))
			if sum.Failed > 0 {
				return fmt.Errorf("%d of %d queries failed", sum.Failed, sum.Queries)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&printCount, "k", "k", evaluation.DefaultPrintCount, "Rows printed per section")
	cmd.Flags().IntVar(&searchEach, "search-each", 0, "Hits fetched per collection (default: max(10, k))")
	return cmd
}
