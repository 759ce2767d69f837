package store

import (
	"context"

	"github.com/rgoodman/agentcal/internal/models"
)

// RunListFilter specifies filters for listing calibration runs.
type RunListFilter struct {
	AgentRef string
	Outcome  models.RunOutcome
	Limit    int
}

// Store defines the local persistence interface for calibration history.
// Sessions write here only at their terminal persistence points; in-progress
// session state (ledgers, drafts, span samples) is never stored.
type Store interface {
	// Calibration runs
	CreateCalibrationRun(ctx context.Context, run *models.CalibrationRun) error
	GetCalibrationRun(ctx context.Context, id string) (*models.CalibrationRun, error)
	ListCalibrationRuns(ctx context.Context, filter RunListFilter) ([]*models.CalibrationRun, error)

	// Per-run feedback
	CreateRunFeedback(ctx context.Context, fb *models.RunFeedback) error
	ListRunFeedback(ctx context.Context, runID string) ([]*models.RunFeedback, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
