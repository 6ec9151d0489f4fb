package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/engram-recall/internal/search"
	"github.com/thebtf/engram-recall/pkg/models"
)

func newFeedbackCmd() *cobra.Command {
	var (
		fb       search.Feedback
		outcomes []string
	)

	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Record whether retrieved entries were useful",
		Long: `Record per-entry outcomes for a past query. Outcomes feed the smart
priority signal of later searches in the same intent and scope.

Each --outcome is type:id=result, where result is success, partial or failure.`,
		Example: `  engram-recall feedback --intent debug --scope project:api \
    --query "panic in handler" --outcome guideline:wrap-errors=success`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := parseOutcomes(outcomes)
			if err != nil {
				return err
			}
			fb.Outcomes = parsed

			a, err := newApp(cmd.Context(), loadConfig(), "")
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.manager.RecordFeedback(cmd.Context(), fb); err != nil {
				return err
			}
			log.Info().Int("outcomes", len(parsed)).Str("intent", fb.Intent).Msg("Feedback recorded")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&fb.Query, "query", "q", "", "Query text the entries were retrieved for")
	f.StringVarP(&fb.Intent, "intent", "i", "", "Intent of the query")
	f.StringVarP(&fb.Scope, "scope", "s", "", "Scope of the query, as type:id")
	f.StringArrayVarP(&outcomes, "outcome", "o", nil, "Entry outcome as type:id=result (repeatable)")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func parseOutcomes(raw []string) ([]search.EntryOutcome, error) {
	out := make([]search.EntryOutcome, 0, len(raw))
	for _, r := range raw {
		o, err := parseOutcome(r)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func parseOutcome(raw string) (search.EntryOutcome, error) {
	key, result, ok := strings.Cut(raw, "=")
	if !ok {
		return search.EntryOutcome{}, fmt.Errorf("outcome %q: expected type:id=result", raw)
	}
	typ, id, ok := strings.Cut(key, ":")
	if !ok || strings.TrimSpace(id) == "" {
		return search.EntryOutcome{}, fmt.Errorf("outcome %q: expected type:id before '='", raw)
	}
	et, err := models.ParseEntryType(typ)
	if err != nil {
		return search.EntryOutcome{}, fmt.Errorf("outcome %q: %w", raw, err)
	}

	outcome := models.Outcome(strings.ToLower(strings.TrimSpace(result)))
	switch outcome {
	case models.OutcomeSuccess, models.OutcomePartial, models.OutcomeFailure:
	default:
		return search.EntryOutcome{}, fmt.Errorf("outcome %q: unknown result %q", raw, result)
	}
	return search.EntryOutcome{EntryID: strings.TrimSpace(id), EntryType: et, Outcome: outcome}, nil
}
