package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rgoodman/agentcal/internal/output"
	"github.com/rgoodman/agentcal/internal/session"
)

var reviewCmd = &cobra.Command{
	Use:   "review <agent-ref>",
	Short: "Run a calibration review session for an agent",
	Long: `Run an interactive calibration review against an agent's scored spans.

The backend samples the agent's worst and best scored spans. Approve or
reject each one; rejections require a note. When every span is approved
the review converges and completes. Otherwise the rejection notes drive
a description refresh and re-score, and a fresh round begins, up to the
round limit (review.max_rounds, default 3).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRun(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}

func reviewRun(ctx context.Context, agentRef string) error {
	be, err := getBackend()
	if err != nil {
		return err
	}

	// History is best-effort: a broken local db should not block the review.
	var recorder session.Recorder
	if s, err := getStore(); err == nil {
		recorder = s
	} else {
		ui.Warning("History disabled: %v", err)
	}

	cfg := session.DefaultConfig()
	sess := session.New(be, recorder, agentRef, cfg)
	completed := make(chan struct{})
	sess.OnComplete = func() { close(completed) }
	defer sess.Close(ctx)

	ui.Info("Loading review spans for %s...", agentRef)
	if err := sess.Start(ctx); err != nil {
		ui.Error("%v", err)
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		switch sess.State() {
		case session.StateReviewing:
			if sess.Spans().Len() == 0 {
				ui.Info("No spans available to review for %s", agentRef)
				return nil
			}
			if quit := reviewPrompt(ctx, sess, reader, cfg.MaxRounds); quit {
				return nil
			}
		case session.StateError:
			ui.Error("Session error: %v", sess.Err())
			if !promptYesNo(reader, "Retry?") {
				return nil
			}
			if err := sess.Dispatch(ctx, session.EventRetry{}); err != nil {
				ui.Error("%v", err)
			}
		case session.StateDone:
			ui.Success("All spans approved — calibration converged in round %d", sess.Round()+1)
			<-completed
			return nil
		case session.StateThanked:
			ui.Info("Round limit reached. Your feedback was recorded — thank you.")
			_ = sess.Dispatch(ctx, session.EventDismiss{})
			return nil
		default:
			return fmt.Errorf("unexpected session state: %s", sess.State())
		}
	}
}

// reviewPrompt renders the round and handles one command. Returns true to quit.
func reviewPrompt(ctx context.Context, sess *session.Session, reader *bufio.Reader, maxRounds int) bool {
	printRound(sess, maxRounds)

	fmt.Fprint(ui.Out, "[a]pprove [r]eject [n]ext [p]rev [g N] goto [s]ubmit [q]uit > ")
	line, err := reader.ReadString('\n')
	if err != nil {
		return true
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	cur := sess.Spans().Span(sess.Cursor())

	switch fields[0] {
	case "a":
		dispatch(ctx, sess, session.EventVoteApprove{SpanID: cur.ID})
		advance(ctx, sess)
	case "r":
		dispatch(ctx, sess, session.EventStartReject{SpanID: cur.ID})
		fmt.Fprint(ui.Out, "Rejection note (empty to cancel): ")
		note, err := reader.ReadString('\n')
		if err != nil {
			return true
		}
		note = strings.TrimSpace(note)
		if note == "" {
			dispatch(ctx, sess, session.EventCancelReject{})
			ui.Info("Rejection cancelled")
			break
		}
		dispatch(ctx, sess, session.EventSetDraftText{Text: note})
		dispatch(ctx, sess, session.EventConfirmReject{})
		advance(ctx, sess)
	case "n":
		advance(ctx, sess)
	case "p":
		if sess.Cursor() > 0 {
			dispatch(ctx, sess, session.EventNavigate{Index: sess.Cursor() - 1})
		}
	case "g":
		if len(fields) < 2 {
			ui.Warning("Usage: g <span number>")
			break
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 || n > sess.Spans().Len() {
			ui.Warning("Span number out of range")
			break
		}
		dispatch(ctx, sess, session.EventNavigate{Index: n - 1})
	case "s":
		if err := sess.Dispatch(ctx, session.EventSubmit{}); err != nil {
			if errors.Is(err, session.ErrNotAllVoted) {
				ui.Warning("Every span needs a vote before submitting")
			} else {
				ui.Error("%v", err)
			}
		}
	case "q":
		return true
	default:
		ui.Warning("Unknown command: %s", fields[0])
	}
	return false
}

func dispatch(ctx context.Context, sess *session.Session, ev session.Event) {
	if err := sess.Dispatch(ctx, ev); err != nil {
		ui.Error("%v", err)
	}
}

// advance moves the cursor to the next span, wrapping at the end.
func advance(ctx context.Context, sess *session.Session) {
	next := (sess.Cursor() + 1) % sess.Spans().Len()
	dispatch(ctx, sess, session.EventNavigate{Index: next})
}

func printRound(sess *session.Session, maxRounds int) {
	fmt.Fprintf(ui.Out, "\nRound %d of %d\n", sess.Round()+1, maxRounds)

	table := ui.Table([]string{"", "#", "Span", "Score", "Vote", "Note"})
	for i, sp := range sess.Spans().Spans() {
		marker := " "
		if i == sess.Cursor() {
			marker = ">"
		}

		vote, note := "", ""
		if e, ok := sess.Ledger().Entry(sp.ID); ok {
			vote = string(e.Vote)
			note = e.Note
		}

		table.Append([]string{
			marker,
			strconv.Itoa(i + 1),
			sp.ID,
			output.ScoreColor(sp.CorrectnessScore),
			output.VoteColor(vote),
			note,
		})
	}
	_ = table.Render()

	cur := sess.Spans().Span(sess.Cursor())
	fmt.Fprintf(ui.Out, "\nSpan %s\n  input:  %s\n  output: %s\n\n",
		output.Cyan(cur.ID), truncate(string(cur.Input), 200), truncate(string(cur.Output), 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func promptYesNo(reader *bufio.Reader, q string) bool {
	fmt.Fprintf(ui.Out, "%s [y/N] ", q)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
