package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/vecfuse/internal/domain/query"
	"github.com/kailas-cloud/vecfuse/internal/usecase/evaluation"
	"github.com/kailas-cloud/vecfuse/internal/usecase/pipeline"
	"github.com/kailas-cloud/vecfuse/internal/usecase/present"
)

// queryOptions holds CLI flags for query.
type queryOptions struct {
	collections []string
	limit       int
	fuse        bool
	topK        int
	rerank      bool
	threshold   float64
	display     int
	debug       bool
	format      string // "text", "json"
}

func newQueryCmd(rt *runtimeEnv) *cobra.Command {
	return newQueryCmdWithOpts(rt, &queryOptions{})
}

func newQueryCmdWithOpts(rt *runtimeEnv, opts *queryOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run one query through the pipeline",
		Long: `Embed the query, search the collections in parallel, optionally fuse
by entity and rerank, then print the results that pass the threshold or,
when none does, the top results as a fallback.

Examples:
  vecfuse query "reliable diesel supplier"
  vecfuse query "vendors with cancelled orders" --fuse --top-k 20
  vecfuse query "active vendor" -C vendors-enriched --rerank --threshold 0.6
  vecfuse query "pending orders" --debug --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := queryParams(cmd, rt, opts, strings.Join(args, " "))
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.Query(cmd.Context(), p)
			if err != nil {
				return err //nolint:wrapcheck // pipeline errors are already descriptive
			}
			if opts.format == "json" {
				return writeQueryJSON(cmd.OutOrStdout(), &res)
			}
			writeQueryText(cmd.OutOrStdout(), &res, opts.debug)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&opts.collections, "collections", "C", nil,
		"Collections to search in order (default: all configured)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Hits fetched per collection (default: collection limit)")
	cmd.Flags().BoolVar(&opts.fuse, "fuse", false, "Fuse collections by entity id (default: pipeline.fuse)")
	cmd.Flags().IntVar(&opts.topK, "top-k", 0, "Fused list size (default: pipeline.fuse_top_k)")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Rerank with the relevance model (default: rerank.enabled)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "Display score threshold (default: pipeline.threshold)")
	cmd.Flags().IntVarP(&opts.display, "display", "k", 0, "Maximum results shown (default: pipeline.display_count)")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Also print the top raw similarity hits")
	cmd.Flags().StringVar(&opts.format, "format", "text", "Output format: text, json")

	return cmd
}

// queryParams merges flags over the pipeline config. Only flags the user set override.
func queryParams(cmd *cobra.Command, rt *runtimeEnv, opts *queryOptions, text string) (query.Params, error) {
	pc := rt.cfg.Pipeline
	p := query.Params{
		Text:         text,
		Targets:      configTargets(rt),
		Fuse:         pc.Fuse,
		FuseTopK:     pc.FuseTopK,
		Rerank:       rt.cfg.Rerank.Enabled,
		Threshold:    pc.Threshold,
		DisplayCount: pc.DisplayCount,
	}

	flags := cmd.Flags()
	if flags.Changed("collections") {
		p.Targets = make([]query.Target, len(opts.collections))
		for i, name := range opts.collections {
			t := query.Target{Collection: name}
			if c, ok := rt.cfg.Collection(name); ok {
				t.Limit = c.Limit
			}
			p.Targets[i] = t
		}
	}
	if flags.Changed("limit") {
		limit, err := query.Depth("limit", opts.limit)
		if err != nil {
			return query.Params{}, err
		}
		for i := range p.Targets {
			p.Targets[i].Limit = limit
		}
	}
	if flags.Changed("fuse") {
		p.Fuse = opts.fuse
	}
	if flags.Changed("top-k") {
		topK, err := query.Depth("top-k", opts.topK)
		if err != nil {
			return query.Params{}, err
		}
		p.FuseTopK = topK
	}
	if flags.Changed("rerank") {
		p.Rerank = opts.rerank
	}
	if flags.Changed("threshold") {
		t := opts.threshold
		p.Threshold = &t
	}
	if flags.Changed("display") {
		display, err := query.Depth("display", opts.display)
		if err != nil {
			return query.Params{}, err
		}
		p.DisplayCount = display
	}
	return p, nil
}

func writeQueryText(w io.Writer, res *pipeline.Result, debug bool) {
	pres := res.Presentation
	scoreName := "similarity"
	if res.Reranked {
		scoreName = "relevance"
	}

	for _, b := range res.Branches {
		if b.Err != nil || len(b.Hits) == 0 {
			_, _ = fmt.Fprintf(w, "[hint] %s: %d hits (%s)\n", b.Collection, len(b.Hits), b.Status)
		}
	}

	switch {
	case len(pres.Items) == 0:
		_, _ = fmt.Fprintln(w, "No results.")
	case pres.Mode == present.ModeFallback:
		_, _ = fmt.Fprintf(w, "No %s score >= %.2f; showing top %d of %d:\n",
			scoreName, pres.Threshold, len(pres.Items), pres.Considered)
	default:
		_, _ = fmt.Fprintf(w, "%d of %d results with %s score >= %.2f:\n",
			len(pres.Items), pres.Considered, scoreName, pres.Threshold)
	}

	for i := range pres.Items {
		c := &pres.Items[i]
		v := evaluation.VendorOf(c.Payload)
		prior := ""
		if res.Reranked {
			prior = fmt.Sprintf(" prior=%.4f", c.PriorScore)
		}
		_, _ = fmt.Fprintf(w, "%2d. vid=%d score=%.4f%s src=%s | %s | %s | %s\n",
			i+1, c.EntityID, c.Score, prior, c.Source, v.Name, v.Email, v.Status)
	}

	if debug {
		_, _ = fmt.Fprintf(w, "\nTop %d raw similarity hits:\n", len(res.Debug))
		for i, h := range res.Debug {
			_, _ = fmt.Fprintf(w, "%2d. %s id=%d score=%.4f\n", i+1, h.Collection, h.ID, h.Score)
		}
	}
}

type jsonItem struct {
	Rank       int     `json:"rank"`
	Key        string  `json:"key"`
	EntityID   int64   `json:"entity_id"`
	Score      float64 `json:"score"`
	PriorScore float64 `json:"prior_score"`
	Source     string  `json:"source"`
	Name       string  `json:"name,omitempty"`
	Email      string  `json:"email,omitempty"`
	Status     string  `json:"status,omitempty"`
}

type jsonOutput struct {
	Query    string     `json:"query"`
	Mode     string     `json:"mode"`
	Reranked bool       `json:"reranked"`
	Items    []jsonItem `json:"items"`
}

func writeQueryJSON(w io.Writer, res *pipeline.Result) error {
	out := jsonOutput{
		Query:    res.Query,
		Mode:     string(res.Presentation.Mode),
		Reranked: res.Reranked,
		Items:    make([]jsonItem, len(res.Presentation.Items)),
	}
	for i := range res.Presentation.Items {
		c := &res.Presentation.Items[i]
		v := evaluation.VendorOf(c.Payload)
		out.Items[i] = jsonItem{
			Rank:       i + 1,
			Key:        c.Key,
			EntityID:   c.EntityID,
			Score:      c.Score,
			PriorScore: c.PriorScore,
			Source:     c.Source,
			Name:       v.Name,
			Email:      v.Email,
			Status:     v.Status,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
