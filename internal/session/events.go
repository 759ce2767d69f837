package session

// State is the review session's display state.
type State string

const (
	StateLoading    State = "loading"
	StateReviewing  State = "reviewing"
	StateRefreshing State = "refreshing"
	StateDone       State = "done"
	StateThanked    State = "thanked"
	StateError      State = "error"
)

// Terminal reports whether the session instance is finished; a new session
// requires a fresh load.
func (s State) Terminal() bool {
	return s == StateDone || s == StateThanked
}

// Event is a single input to the session state machine. All session mutation
// flows through Dispatch(event), keeping the transition rules in one place.
type Event interface {
	isEvent()
}

// EventVoteApprove approves the span with the given id.
type EventVoteApprove struct{ SpanID string }

// EventStartReject opens a rejection draft for the span with the given id.
type EventStartReject struct{ SpanID string }

// EventSetDraftText replaces the open draft's note text.
type EventSetDraftText struct{ Text string }

// EventConfirmReject confirms the open draft; the note must be non-empty.
type EventConfirmReject struct{}

// EventCancelReject discards the open draft.
type EventCancelReject struct{}

// EventNavigate moves focus to the span at Index, auto-resolving any open
// draft first.
type EventNavigate struct{ Index int }

// EventSubmit advances the round once every span has a confirmed vote.
type EventSubmit struct{}

// EventRetry re-runs the fetch that put the session into the error state.
type EventRetry struct{}

// EventDismiss acknowledges the thanked state and ends the session.
type EventDismiss struct{}

func (EventVoteApprove) isEvent()   {}
func (EventStartReject) isEvent()   {}
func (EventSetDraftText) isEvent()  {}
func (EventConfirmReject) isEvent() {}
func (EventCancelReject) isEvent()  {}
func (EventNavigate) isEvent()      {}
func (EventSubmit) isEvent()        {}
func (EventRetry) isEvent()         {}
func (EventDismiss) isEvent()       {}
