package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/rgoodman/agentcal/internal/backend"
	"github.com/rgoodman/agentcal/internal/models"
	"github.com/rgoodman/agentcal/internal/poller"
)

// Validation and state errors. These never reach the network.
var (
	ErrNoDraft      = errors.New("no rejection draft open")
	ErrEmptyNote    = errors.New("rejection note must not be empty")
	ErrNotAllVoted  = errors.New("every span needs a confirmed vote")
	ErrBadIndex     = errors.New("span index out of range")
	ErrInvalidState = errors.New("event not valid in current state")
	ErrClosed       = errors.New("session is closed")
)

// Config holds review session configuration.
type Config struct {
	MaxRounds       int
	PollInterval    time.Duration
	PollTimeout     time.Duration
	CompletionDelay time.Duration
}

// DefaultConfig returns the default session config, reading from viper when available.
func DefaultConfig() Config {
	maxRounds := viper.GetInt("review.max_rounds")
	if maxRounds <= 0 {
		maxRounds = 3
	}

	interval := viper.GetDuration("review.poll_interval")
	if interval <= 0 {
		interval = poller.DefaultInterval
	}

	timeout := viper.GetDuration("review.poll_timeout")
	if timeout <= 0 {
		timeout = poller.DefaultTimeout
	}

	return Config{
		MaxRounds:       maxRounds,
		PollInterval:    interval,
		PollTimeout:     timeout,
		CompletionDelay: 1500 * time.Millisecond,
	}
}

// Recorder is the subset of the history store the session writes to. Records
// are written only at terminal persistence points, never for in-progress state.
type Recorder interface {
	CreateCalibrationRun(ctx context.Context, run *models.CalibrationRun) error
	CreateRunFeedback(ctx context.Context, fb *models.RunFeedback) error
}

// errScope says which fetch a retry should re-run.
type errScope int

const (
	scopeNone errScope = iota
	scopeInitialLoad
	scopeRoundRefetch
)

// Session orchestrates one agent calibration review: it owns the span sample
// and the feedback ledger, drives navigation, evaluates convergence, and
// sequences refinement rounds. All state is owned by this instance; two
// concurrent sessions never share anything.
type Session struct {
	backend  backend.Client
	recorder Recorder
	agentRef string
	cfg      Config

	// OnComplete is invoked once, after a short fixed delay, when the session
	// reaches Done. Optional.
	OnComplete func()

	state    State
	stateErr error
	scope    errScope

	spans  *SpanStore
	ledger *Ledger
	round  int
	cursor int

	startedAt time.Time
	closed    bool
}

// New creates a session for the given agent. recorder may be nil to disable
// local history.
func New(c backend.Client, recorder Recorder, agentRef string, cfg Config) *Session {
	return &Session{
		backend:  c,
		recorder: recorder,
		agentRef: agentRef,
		cfg:      cfg,
		state:    StateLoading,
		spans:    NewSpanStore(),
		ledger:   NewLedger(),
	}
}

// State returns the current display state.
func (s *Session) State() State { return s.state }

// Err returns the display error when the session is in StateError.
func (s *Session) Err() error { return s.stateErr }

// Round returns the zero-based round index.
func (s *Session) Round() int { return s.round }

// Cursor returns the index of the span currently in focus.
func (s *Session) Cursor() int { return s.cursor }

// Spans returns the span store.
func (s *Session) Spans() *SpanStore { return s.spans }

// Ledger returns the feedback ledger.
func (s *Session) Ledger() *Ledger { return s.ledger }

// FinalRound reports whether no further refinement round may run.
func (s *Session) FinalRound() bool { return s.round == s.cfg.MaxRounds-1 }

// Start performs the initial span fetch. A fetch failure is fatal to this load
// attempt only: the session enters StateError and EventRetry re-invokes it.
func (s *Session) Start(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	s.state = StateLoading
	s.startedAt = time.Now().UTC()

	sample, err := s.backend.FetchReviewSpans(ctx, s.agentRef)
	if err != nil {
		s.state = StateError
		s.stateErr = err
		s.scope = scopeInitialLoad
		return fmt.Errorf("load review spans: %w", err)
	}

	s.spans.SetInitial(sample.Spans())
	s.ledger.Reset()
	s.round = 0
	s.cursor = 0
	s.state = StateReviewing
	s.stateErr = nil
	s.scope = scopeNone
	return nil
}

// Dispatch applies one event. Events invalid in the current state return
// ErrInvalidState; validation failures return their sentinel and leave the
// session unchanged. Only EventSubmit and EventRetry touch the network.
func (s *Session) Dispatch(ctx context.Context, ev Event) error {
	if s.closed {
		return ErrClosed
	}

	switch ev := ev.(type) {
	case EventVoteApprove:
		return s.inReviewing(func() error {
			if !s.hasSpan(ev.SpanID) {
				return fmt.Errorf("%w: %s", ErrBadIndex, ev.SpanID)
			}
			s.ledger.Approve(ev.SpanID)
			return nil
		})
	case EventStartReject:
		return s.inReviewing(func() error {
			if !s.hasSpan(ev.SpanID) {
				return fmt.Errorf("%w: %s", ErrBadIndex, ev.SpanID)
			}
			s.ledger.StartReject(ev.SpanID)
			return nil
		})
	case EventSetDraftText:
		return s.inReviewing(func() error {
			s.ledger.SetDraftText(ev.Text)
			return nil
		})
	case EventConfirmReject:
		return s.inReviewing(func() error {
			return s.ledger.ConfirmReject()
		})
	case EventCancelReject:
		return s.inReviewing(func() error {
			s.ledger.CancelReject()
			return nil
		})
	case EventNavigate:
		return s.inReviewing(func() error {
			if ev.Index < 0 || ev.Index >= s.spans.Len() {
				return ErrBadIndex
			}
			s.ledger.ResolveDraft()
			s.cursor = ev.Index
			return nil
		})
	case EventSubmit:
		if s.state != StateReviewing {
			return ErrInvalidState
		}
		return s.submit(ctx)
	case EventRetry:
		if s.state != StateError {
			return ErrInvalidState
		}
		return s.retry(ctx)
	case EventDismiss:
		if s.state != StateThanked {
			return ErrInvalidState
		}
		s.closed = true
		return nil
	default:
		return fmt.Errorf("unknown event %T", ev)
	}
}

func (s *Session) inReviewing(fn func() error) error {
	if s.state != StateReviewing {
		return ErrInvalidState
	}
	return fn()
}

func (s *Session) hasSpan(id string) bool {
	for _, sp := range s.spans.Spans() {
		if sp.ID == id {
			return true
		}
	}
	return false
}

// submit evaluates convergence and either terminates the session or runs a
// refinement round.
func (s *Session) submit(ctx context.Context) error {
	s.ledger.ResolveDraft()

	ids := s.spans.IDs()
	if !s.ledger.AllVoted(ids) {
		return ErrNotAllVoted
	}

	if s.ledger.AllApproved(ids) {
		return s.finish(ctx, StateDone, models.RunOutcomeConverged)
	}
	if s.FinalRound() {
		return s.finish(ctx, StateThanked, models.RunOutcomeExhausted)
	}
	return s.refine(ctx)
}

// finish persists the round's feedback, marks the review complete, and enters
// a terminal state. Feedback submission happens-before mark-complete, which
// happens-before the state transition. On any failure the round does not
// advance and the session stays in Reviewing.
func (s *Session) finish(ctx context.Context, terminal State, outcome models.RunOutcome) error {
	s.state = StateRefreshing

	if err := s.persistFeedback(ctx); err != nil {
		s.state = StateReviewing
		return fmt.Errorf("submit feedback: %w", err)
	}
	if err := s.backend.MarkReviewComplete(ctx, s.agentRef); err != nil {
		s.state = StateReviewing
		return fmt.Errorf("mark review complete: %w", err)
	}

	s.recordRun(ctx, outcome, s.round+1)
	s.state = terminal

	if terminal == StateDone && s.OnComplete != nil {
		// Short fixed delay so the host surface can show a success indicator
		// before control returns to the caller.
		time.AfterFunc(s.cfg.CompletionDelay, s.OnComplete)
	}
	return nil
}

// persistFeedback writes one feedback entry per span, all issued concurrently.
// The round only proceeds once every write succeeded; partial failures are not
// individually retried.
func (s *Session) persistFeedback(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range s.spans.IDs() {
		entry, ok := s.ledger.Entry(id)
		if !ok {
			return ErrNotAllVoted
		}
		g.Go(func() error {
			return s.backend.SubmitSpanFeedback(ctx, id, entry)
		})
	}
	return g.Wait()
}

// refine runs one refinement round: rejected-span notes go inline to the
// description refresh (not persisted as span feedback, which would be stale
// once spans are re-sampled), then a re-score job covers exactly those spans,
// then the sample is re-fetched and reconciled.
func (s *Session) refine(ctx context.Context) error {
	s.state = StateRefreshing

	rejected := s.ledger.Rejections(s.spans.IDs())
	ids := make([]string, len(rejected))
	notes := make(map[string]string, len(rejected))
	for i, r := range rejected {
		ids[i] = r.SpanID
		notes[r.SpanID] = r.Note
	}

	if err := s.backend.RefreshDescription(ctx, s.agentRef, ids, notes); err != nil {
		s.state = StateReviewing
		return fmt.Errorf("refresh description: %w", err)
	}

	jobID, err := s.backend.TriggerReScore(ctx, ids)
	if err != nil {
		s.state = StateReviewing
		return fmt.Errorf("trigger re-score: %w", err)
	}

	// Completed, failed, and timed-out all proceed to the re-fetch; the poller
	// already swallowed transient status errors.
	p := poller.New(s.backend.GetJobStatus, s.cfg.PollInterval, s.cfg.PollTimeout)
	if _, err := p.Poll(ctx, jobID); err != nil {
		return fmt.Errorf("poll re-score job: %w", err)
	}

	return s.refetch(ctx)
}

// refetch reloads the span sample after a refinement round. A failure here
// fails the round visibly: the session enters StateError and EventRetry
// re-runs only the re-fetch.
func (s *Session) refetch(ctx context.Context) error {
	sample, err := s.backend.FetchReviewSpans(ctx, s.agentRef)
	if err != nil {
		s.state = StateError
		s.stateErr = err
		s.scope = scopeRoundRefetch
		return fmt.Errorf("reload review spans: %w", err)
	}

	s.spans.Replace(sample.Spans())
	s.ledger.Reset()
	s.round++
	s.cursor = 0
	s.state = StateReviewing
	s.stateErr = nil
	s.scope = scopeNone
	return nil
}

func (s *Session) retry(ctx context.Context) error {
	switch s.scope {
	case scopeInitialLoad:
		return s.Start(ctx)
	case scopeRoundRefetch:
		s.state = StateRefreshing
		return s.refetch(ctx)
	default:
		return ErrInvalidState
	}
}

// Close abandons the session. Local-only state for the current round is
// discarded; any in-flight backend call is left to resolve unobserved. Safe to
// call after a terminal state, in which case nothing extra is recorded.
func (s *Session) Close(ctx context.Context) {
	if s.closed {
		return
	}
	s.closed = true
	if !s.state.Terminal() {
		s.recordRun(ctx, models.RunOutcomeAbandoned, s.round)
	}
}

// recordRun writes the history record for a terminated session. Best-effort:
// the audit trail never blocks the calibration flow.
func (s *Session) recordRun(ctx context.Context, outcome models.RunOutcome, rounds int) {
	if s.recorder == nil {
		return
	}

	ids := s.spans.IDs()
	approved, rejected := 0, 0
	for _, id := range ids {
		if e, ok := s.ledger.Entry(id); ok {
			switch e.Vote {
			case models.VoteApprove:
				approved++
			case models.VoteReject:
				rejected++
			}
		}
	}

	now := time.Now().UTC()
	run := &models.CalibrationRun{
		AgentRef:        s.agentRef,
		Outcome:         outcome,
		RoundsCompleted: rounds,
		SpanCount:       len(ids),
		ApprovedCount:   approved,
		RejectedCount:   rejected,
		StartedAt:       s.startedAt,
		EndedAt:         &now,
	}
	if err := s.recorder.CreateCalibrationRun(ctx, run); err != nil {
		return
	}

	for _, id := range ids {
		e, ok := s.ledger.Entry(id)
		if !ok {
			continue
		}
		_ = s.recorder.CreateRunFeedback(ctx, &models.RunFeedback{
			RunID:   run.ID,
			SpanID:  id,
			Round:   s.round,
			Vote:    e.Vote,
			Note:    e.Note,
			VotedAt: now,
		})
	}
}
