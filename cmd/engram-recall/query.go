package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/thebtf/engram-recall/internal/embedding"
	"github.com/thebtf/engram-recall/internal/pipeline"
	"github.com/thebtf/engram-recall/internal/search"
)

type queryOptions struct {
	fixtures  string
	text      string
	scope     string
	intent    string
	strategy  string
	format    string
	types     []string
	related   []string
	limit     int
	threshold float64
	timeout   time.Duration
	semantic  bool
	noInherit bool
	jsonOut   bool
	stats     bool
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Rank entries for a scope and optional query text",
		Example: `  engram-recall query --fixtures entries.yaml --scope project:api "wrap errors"
  engram-recall query --fixtures entries.yaml --types guideline,tool --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := opts.text
			if len(args) == 1 {
				text = args[0]
			}
			return runQuery(cmd, opts, text)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.fixtures, "fixtures", "f", "", "YAML file with scopes and entries")
	f.StringVar(&opts.text, "text", "", "Query text (alternative to the positional argument)")
	f.StringVarP(&opts.scope, "scope", "s", "", "Scope to search, as type:id (default global)")
	f.StringVarP(&opts.intent, "intent", "i", "", "Intent (default: classified from the query text)")
	f.StringVar(&opts.strategy, "strategy", "", "Relevance strategy: hybrid, semantic or lexical")
	f.StringVar(&opts.format, "format", "", "Set to full to include entry content")
	f.StringSliceVarP(&opts.types, "types", "t", nil, "Entry types to include")
	f.StringSliceVar(&opts.related, "related", nil, "Entry IDs related to the current task")
	f.IntVarP(&opts.limit, "limit", "n", 0, "Maximum results (default from settings)")
	f.Float64Var(&opts.threshold, "threshold", 0, "Minimum semantic similarity")
	f.DurationVar(&opts.timeout, "timeout", 0, "Overall deadline for the request")
	f.BoolVar(&opts.semantic, "semantic", true, "Use vector similarity when available")
	f.BoolVar(&opts.noInherit, "no-inherit", false, "Search only the given scope")
	f.BoolVar(&opts.jsonOut, "json", false, "Print the response as JSON")
	f.BoolVar(&opts.stats, "stats", false, "Print pipeline and embedding statistics")
	_ = cmd.MarkFlagRequired("fixtures")
	return cmd
}

func runQuery(cmd *cobra.Command, opts queryOptions, text string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, loadConfig(), opts.fixtures)
	if err != nil {
		return err
	}
	defer a.Close()

	params := search.Params{
		Scope:             opts.scope,
		Text:              text,
		Intent:            opts.intent,
		Strategy:          opts.strategy,
		Format:            opts.format,
		Types:             opts.types,
		RelatedIDs:        opts.related,
		Limit:             opts.limit,
		SemanticThreshold: opts.threshold,
		Timeout:           opts.timeout,
		Inherit:           !opts.noInherit && a.cfg.Retrieval.InheritScopes,
	}
	if cmd.Flags().Changed("semantic") {
		params.Semantic = &opts.semantic
	}

	resp, err := a.manager.Search(ctx, params)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOut {
		if err := writeJSON(out, resp); err != nil {
			return err
		}
	} else {
		printResponse(out, resp)
	}
	if opts.stats {
		printStats(out, a.orch.Metrics().GetSnapshot(), a.embedder.Stats(), a.indexed)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printResponse(w io.Writer, resp *search.Response) {
	d := resp.Diagnostics
	fmt.Fprintf(w, "Request %s  intent=%s  scopes=%s  candidates=%d\n",
		resp.RequestID, d.Intent, strings.Join(d.ScopeChain, " > "), d.CandidateCount)
	switch {
	case d.SemanticSkipped != "":
		fmt.Fprintf(w, "Semantic: skipped (%s)\n", d.SemanticSkipped)
	case d.SemanticDegraded != "":
		fmt.Fprintf(w, "Semantic: degraded (%s)\n", d.SemanticDegraded)
	default:
		fmt.Fprintf(w, "Semantic: %d matches, fusion=%s\n", d.SemanticMatches, d.Fusion)
	}

	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "No matching entries.")
		return
	}
	fmt.Fprintln(w)
	for i, r := range resp.Results {
		fmt.Fprintf(w, "%2d. [%s] %s  %.4f  (%s)\n", i+1, r.EntryType, r.Title, r.FinalScore, r.Scope)
		fmt.Fprintf(w, "    id=%s intent_weight=%.2f text_match=%.2f", r.EntryID, r.IntentWeight, r.TextMatch)
		if r.SemanticScore != nil {
			fmt.Fprintf(w, " semantic=%.3f", *r.SemanticScore)
		}
		if r.SmartPriority != nil {
			fmt.Fprintf(w, " smart=%.3f", r.SmartPriority.CompositePriorityScore)
		}
		fmt.Fprintln(w)
		if r.Content != "" {
			fmt.Fprintf(w, "    %s\n", r.Content)
		}
	}
}

func printStats(w io.Writer, snap pipeline.MetricsSnapshot, emb embedding.Stats, indexed int) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, snap.String())
	fmt.Fprintf(w, "Embedding: indexed=%d calls=%d shared=%d cache_hits=%d failures=%d\n",
		indexed, emb.Calls, emb.Shared, emb.CacheHits, emb.Failures)
}
