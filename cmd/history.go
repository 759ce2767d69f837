package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rgoodman/agentcal/internal/models"
	"github.com/rgoodman/agentcal/internal/output"
	"github.com/rgoodman/agentcal/internal/store"
)

var (
	historyAgent   string
	historyOutcome string
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past calibration runs",
	Long: `Show the local record of past calibration runs.

Running bare 'agentcal history' is the same as 'agentcal history list'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyListRun(cmd.Context())
	},
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List calibration runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyListRun(cmd.Context())
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its per-span feedback",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyShowRun(cmd.Context(), args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{historyCmd, historyListCmd} {
		c.Flags().StringVar(&historyAgent, "agent", "", "Filter by agent reference")
		c.Flags().StringVar(&historyOutcome, "outcome", "", "Filter by outcome (converged, exhausted, abandoned, error)")
		c.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to show")
	}
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

func historyListRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	runs, err := s.ListCalibrationRuns(ctx, store.RunListFilter{
		AgentRef: historyAgent,
		Outcome:  models.RunOutcome(historyOutcome),
		Limit:    historyLimit,
	})
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		ui.Info("No calibration runs recorded yet. Run 'agentcal review <agent-ref>' to start one.")
		return nil
	}

	table := ui.Table([]string{"ID", "Agent", "Outcome", "Rounds", "Spans", "Approved", "Rejected", "Started"})
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.AgentRef,
			output.OutcomeColor(string(r.Outcome)),
			strconv.Itoa(r.RoundsCompleted),
			strconv.Itoa(r.SpanCount),
			strconv.Itoa(r.ApprovedCount),
			strconv.Itoa(r.RejectedCount),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return table.Render()
}

func historyShowRun(ctx context.Context, runID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	run, err := s.GetCalibrationRun(ctx, runID)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "\nRun %s\n", output.Cyan(run.ID))
	fmt.Fprintf(ui.Out, "  agent:    %s\n", run.AgentRef)
	fmt.Fprintf(ui.Out, "  outcome:  %s\n", output.OutcomeColor(string(run.Outcome)))
	fmt.Fprintf(ui.Out, "  rounds:   %d\n", run.RoundsCompleted)
	fmt.Fprintf(ui.Out, "  spans:    %d (%d approved, %d rejected)\n", run.SpanCount, run.ApprovedCount, run.RejectedCount)
	fmt.Fprintf(ui.Out, "  started:  %s\n", run.StartedAt.Local().Format(time.RFC822))
	if run.EndedAt != nil {
		fmt.Fprintf(ui.Out, "  ended:    %s\n", run.EndedAt.Local().Format(time.RFC822))
	}
	fmt.Fprintln(ui.Out)

	feedback, err := s.ListRunFeedback(ctx, runID)
	if err != nil {
		return err
	}
	if len(feedback) == 0 {
		ui.Info("No feedback recorded for this run")
		return nil
	}

	table := ui.Table([]string{"Span", "Round", "Vote", "Note"})
	for _, fb := range feedback {
		table.Append([]string{
			fb.SpanID,
			strconv.Itoa(fb.Round + 1),
			output.VoteColor(string(fb.Vote)),
			fb.Note,
		})
	}
	return table.Render()
}
