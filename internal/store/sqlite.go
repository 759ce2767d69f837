package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rgoodman/agentcal/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Calibration runs ---

func (s *SQLiteStore) CreateCalibrationRun(ctx context.Context, run *models.CalibrationRun) error {
	if run.ID == "" {
		run.ID = newULID()
	}
	run.CreatedAt = time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = run.CreatedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calibration_runs (id, agent_ref, outcome, rounds_completed, span_count, approved_count, rejected_count, started_at, ended_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.AgentRef, run.Outcome, run.RoundsCompleted, run.SpanCount,
		run.ApprovedCount, run.RejectedCount, run.StartedAt, run.EndedAt, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create calibration run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCalibrationRun(ctx context.Context, id string) (*models.CalibrationRun, error) {
	run := &models.CalibrationRun{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, agent_ref, outcome, rounds_completed, span_count, approved_count, rejected_count, started_at, ended_at, created_at
		FROM calibration_runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.AgentRef, &run.Outcome, &run.RoundsCompleted, &run.SpanCount,
		&run.ApprovedCount, &run.RejectedCount, &run.StartedAt, &run.EndedAt, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("calibration run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get calibration run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) ListCalibrationRuns(ctx context.Context, filter RunListFilter) ([]*models.CalibrationRun, error) {
	query := `SELECT id, agent_ref, outcome, rounds_completed, span_count, approved_count, rejected_count, started_at, ended_at, created_at
		FROM calibration_runs`
	var conds []string
	var args []any
	if filter.AgentRef != "" {
		conds = append(conds, "agent_ref = ?")
		args = append(args, filter.AgentRef)
	}
	if filter.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list calibration runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*models.CalibrationRun
	for rows.Next() {
		run := &models.CalibrationRun{}
		if err := rows.Scan(&run.ID, &run.AgentRef, &run.Outcome, &run.RoundsCompleted, &run.SpanCount,
			&run.ApprovedCount, &run.RejectedCount, &run.StartedAt, &run.EndedAt, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan calibration run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Run feedback ---

func (s *SQLiteStore) CreateRunFeedback(ctx context.Context, fb *models.RunFeedback) error {
	if fb.ID == "" {
		fb.ID = newULID()
	}
	if fb.VotedAt.IsZero() {
		fb.VotedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_feedback (id, run_id, span_id, round, vote, note, voted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fb.ID, fb.RunID, fb.SpanID, fb.Round, fb.Vote, fb.Note, fb.VotedAt,
	)
	if err != nil {
		return fmt.Errorf("create run feedback: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRunFeedback(ctx context.Context, runID string) ([]*models.RunFeedback, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, span_id, round, vote, note, voted_at
		FROM run_feedback WHERE run_id = ? ORDER BY round, span_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.RunFeedback
	for rows.Next() {
		fb := &models.RunFeedback{}
		if err := rows.Scan(&fb.ID, &fb.RunID, &fb.SpanID, &fb.Round, &fb.Vote, &fb.Note, &fb.VotedAt); err != nil {
			return nil, fmt.Errorf("scan run feedback: %w", err)
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}
