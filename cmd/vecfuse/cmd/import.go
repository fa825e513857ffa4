package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecfuse/internal/repository/flatstore"
)

func newImportCmd(rt *runtimeEnv) *cobra.Command {
	var collection string

	cmd := &cobra.Command{
		Use:   "import <file.jsonl>",
		Short: "Load a JSON Lines export into a configured collection",
		Long: `Read {"id":..,"vector":[..],"payload":{..}} lines and save them to the
collection's backend: a flat collection is rewritten, a remote collection is
upserted by id and its index created on first write.

Unparseable lines are skipped and counted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			col, ok := rt.cfg.Collection(collection)
			if !ok {
				return fmt.Errorf("collection %q is not configured", collection)
			}

			points, skipped, err := flatstore.ReadFile(args[0])
			if err != nil {
				return err //nolint:wrapcheck // carries the path
			}

			a, err := newStores(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.pointStore(col.Backend).Save(cmd.Context(), col.Name, points); err != nil {
				return fmt.Errorf("save %s: %w", col.Name, err)
			}

			rt.logger.Info("import finished",
				zap.String("collection", col.Name),
				zap.String("backend", col.Backend),
				zap.Int("points", len(points)),
				zap.Int("skipped", skipped),
			)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d points into %s (%s), skipped %d lines\n",
				len(points), col.Name, col.Backend, skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&collection, "collection", "", "Target collection name")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}
