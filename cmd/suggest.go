package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rgoodman/agentcal/internal/models"
	"github.com/rgoodman/agentcal/internal/store"
)

var (
	suggestMetric string
	suggestApply  bool
)

var suggestCmd = &cobra.Command{
	Use:   "suggest <agent-ref>",
	Short: "Draft scoring rules for a metric with an LLM",
	Long: `Draft candidate scoring rules for one metric using the Anthropic API.

The prompt is grounded in the agent's current description and, when
available, the rejection notes from the agent's most recent calibration
run. Suggestions are previews by default; pass --apply to append them
to the agent's criteria (subject to the per-metric rule cap).

Requires ANTHROPIC_API_KEY environment variable or anthropic.api_key in config.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return suggestRun(cmd.Context(), args[0])
	},
}

func init() {
	suggestCmd.Flags().StringVar(&suggestMetric, "metric", "correctness", "Metric to draft rules for")
	suggestCmd.Flags().BoolVar(&suggestApply, "apply", false, "Append suggested rules to the agent's criteria")
	rootCmd.AddCommand(suggestCmd)
}

func suggestRun(ctx context.Context, agentRef string) error {
	client := newLLMClient()
	if client == nil {
		return fmt.Errorf("no Anthropic API key configured (set ANTHROPIC_API_KEY or anthropic.api_key in config)")
	}

	in, err := loadIntake(ctx, agentRef)
	if err != nil {
		return err
	}
	doc := in.Document()

	notes := recentRejectionNotes(ctx, agentRef)
	if len(notes) > 0 {
		ui.VerboseLog("Grounding suggestions in %d rejection notes from the last run", len(notes))
	}

	ui.Info("Drafting %s rules for %s...", suggestMetric, agentRef)
	rules, err := client.SuggestRules(ctx, suggestMetric, doc.Description, notes)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		ui.Info("No rules suggested")
		return nil
	}

	table := ui.Table([]string{"#", "Rule", "Rationale"})
	for i, r := range rules {
		table.Append([]string{strconv.Itoa(i + 1), r.Rule, r.Rationale})
	}
	if err := table.Render(); err != nil {
		return err
	}

	if !suggestApply {
		ui.Info("Preview only. Re-run with --apply to append these rules.")
		return nil
	}
	if dryRun {
		ui.DryRunMsg("Would append %d rules to metric %q", len(rules), suggestMetric)
		return nil
	}

	added := 0
	for _, r := range rules {
		if err := in.AddRule(suggestMetric, r.Rule); err != nil {
			ui.Warning("Skipping rule: %v", err)
			continue
		}
		added++
	}
	if added == 0 {
		ui.Warning("No rules could be added (metric may be at its rule cap)")
		return nil
	}

	reEvaluated, err := in.Save(ctx)
	if err != nil {
		return err
	}
	ui.Success("Added %d rules to metric %q", added, suggestMetric)
	if reEvaluated {
		ui.Info("Rule set changed; backend re-evaluation requested")
	}
	return nil
}

// recentRejectionNotes returns the non-empty notes from the agent's most
// recent recorded run. Best-effort; suggestions work without history.
func recentRejectionNotes(ctx context.Context, agentRef string) []string {
	s, err := getStore()
	if err != nil {
		return nil
	}

	runs, err := s.ListCalibrationRuns(ctx, store.RunListFilter{AgentRef: agentRef, Limit: 1})
	if err != nil || len(runs) == 0 {
		return nil
	}

	feedback, err := s.ListRunFeedback(ctx, runs[0].ID)
	if err != nil {
		return nil
	}

	var notes []string
	for _, fb := range feedback {
		if fb.Vote == models.VoteReject && fb.Note != "" {
			notes = append(notes, fb.Note)
		}
	}
	return notes
}
