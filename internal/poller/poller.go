package poller

import (
	"context"
	"time"

	"github.com/rgoodman/agentcal/internal/models"
)

// StatusFunc fetches the current status of a job.
type StatusFunc func(ctx context.Context, jobID string) (models.JobStatus, error)

// Outcome is the result of one polling run. When TimedOut is set, Status holds
// the last status observed (possibly empty if every fetch errored).
type Outcome struct {
	Status   models.JobStatus
	TimedOut bool
}

// Poller waits for an asynchronous job to reach a terminal status.
//
// Individual status-fetch errors are ignored and polling continues until the
// deadline. Callers treat completed, failed, and timed-out identically (proceed
// to reload spans), so the poller reports which happened but does not turn any
// of them into an error.
type Poller struct {
	fetch    StatusFunc
	interval time.Duration
	timeout  time.Duration
}

const (
	// DefaultInterval between status checks.
	DefaultInterval = 2 * time.Second
	// DefaultTimeout after which polling gives up and the caller proceeds.
	DefaultTimeout = 60 * time.Second
)

// New creates a poller. Zero interval or timeout fall back to the defaults.
func New(fetch StatusFunc, interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Poller{fetch: fetch, interval: interval, timeout: timeout}
}

// Poll checks the job status at the fixed interval until it is terminal or the
// deadline passes. The only error returned is the context's, when the caller
// cancels mid-poll.
func (p *Poller) Poll(ctx context.Context, jobID string) (Outcome, error) {
	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last models.JobStatus
	for {
		status, err := p.fetch(ctx, jobID)
		if err == nil {
			last = status
			if status.Terminal() {
				return Outcome{Status: status}, nil
			}
		} else if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}

		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-deadline.C:
			return Outcome{Status: last, TimedOut: true}, nil
		case <-ticker.C:
		}
	}
}
