package cmd

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	healthuc "github.com/kailas-cloud/vecfuse/internal/usecase/health"
)

func newHealthCmd(rt *runtimeEnv) *cobra.Command {
	var probeEmbedding bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check storage, database and embedding provider",
		Long: `Report, per collection, where it is stored, whether it exists and how
many points it holds. The database is pinged when a remote backend is
configured; the embedding provider only with --embedding.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newStores(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var svc *healthuc.Service
			if probeEmbedding {
				svc = a.buildHealth(a.buildEmbedder())
			} else {
				svc = a.buildHealth(nil)
			}

			report := svc.Check(cmd.Context())
			writeHealth(cmd.OutOrStdout(), &report)
			if report.Status == healthuc.Unhealthy {
				return errors.New("unhealthy")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&probeEmbedding, "embedding", false, "Also call the embedding provider")
	return cmd
}

func writeHealth(w io.Writer, r *healthuc.Report) {
	_, _ = fmt.Fprintf(w, "status: %s\n", r.Status)

	names := make([]string, 0, len(r.Checks))
	for k := range r.Checks {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		_, _ = fmt.Fprintf(w, "  %-32s %s\n", k, r.Checks[k])
	}

	for _, c := range r.Collections {
		_, _ = fmt.Fprintf(w, "\n%s (%s)\n", c.Name, c.Backend)
		_, _ = fmt.Fprintf(w, "  location: %s\n", c.Location)
		_, _ = fmt.Fprintf(w, "  exists:   %t\n", c.Exists)
		if c.Err != "" {
			_, _ = fmt.Fprintf(w, "  error:    %s\n", c.Err)
			continue
		}
		_, _ = fmt.Fprintf(w, "  points:   %d\n", c.Points)
		if c.Backend != "remote" {
			_, _ = fmt.Fprintf(w, "  lines:    %d\n", c.Lines)
			_, _ = fmt.Fprintf(w, "  size:     %d bytes\n", c.SizeBytes)
		}
	}
}
