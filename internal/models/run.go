package models

import "time"

// RunOutcome is how a calibration run ended.
type RunOutcome string

const (
	// RunOutcomeConverged: every span approved, review marked complete.
	RunOutcomeConverged RunOutcome = "converged"
	// RunOutcomeExhausted: the round limit was reached with rejections remaining.
	RunOutcomeExhausted RunOutcome = "exhausted"
	// RunOutcomeAbandoned: the reviewer closed the session mid-round.
	RunOutcomeAbandoned RunOutcome = "abandoned"
	// RunOutcomeError: the session ended in an unrecoverable fetch failure.
	RunOutcomeError RunOutcome = "error"
)

// CalibrationRun is the local audit record of one review session. It is written
// only when a session terminates; in-progress session state is never persisted.
type CalibrationRun struct {
	ID              string
	AgentRef        string
	Outcome         RunOutcome
	RoundsCompleted int
	SpanCount       int
	ApprovedCount   int
	RejectedCount   int
	StartedAt       time.Time
	EndedAt         *time.Time
	CreatedAt       time.Time
}

// RunFeedback is one recorded vote within a calibration run.
type RunFeedback struct {
	ID      string
	RunID   string
	SpanID  string
	Round   int
	Vote    Vote
	Note    string
	VotedAt time.Time
}
