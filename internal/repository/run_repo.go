package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Vayra-9/uiprobe/internal/models"
)

// ErrRunNotFound is returned when no run has the requested id
var ErrRunNotFound = errors.New("run not found")

// RunRepository handles database operations for run history
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{
		db: db,
	}
}

// SaveResult stores a finished run and its assertion results in one
// transaction
func (r *RunRepository) SaveResult(ctx context.Context, result *models.RunResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO runs (id, scenario, profile, source, outcome, attempts, error_kind, error, screenshot, video, tolerated, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = tx.ExecContext(ctx, query,
		result.RunID,
		result.Scenario,
		result.Profile,
		result.Source,
		string(result.Outcome),
		result.Attempts,
		result.ErrorKind,
		result.Error,
		result.Screenshot,
		result.Video,
		result.Tolerated,
		result.StartedAt.UTC(),
		result.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	assertionQuery := `
		INSERT INTO assertion_results (run_id, position, description, kind, passed, severity, presence, expected, actual, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for i, a := range result.Assertions {
		_, err := tx.ExecContext(ctx, assertionQuery,
			result.RunID,
			i,
			a.Description,
			string(a.Kind),
			a.Passed,
			string(a.Severity),
			string(a.Presence),
			a.Expected,
			a.Actual,
			a.Message,
		)
		if err != nil {
			return fmt.Errorf("failed to store assertion result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, scenario, profile, outcome, attempts, error_kind, error, started_at, duration_ms
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunSummary
	for rows.Next() {
		var (
			s          models.RunSummary
			outcome    string
			durationMS int64
		)
		if err := rows.Scan(&s.RunID, &s.Scenario, &s.Profile, &outcome, &s.Attempts, &s.ErrorKind, &s.Error, &s.StartedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		s.Outcome = models.Outcome(outcome)
		s.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRun retrieves a run and its assertion results by id
func (r *RunRepository) GetRun(ctx context.Context, id string) (*models.RunResult, error) {
	query := `
		SELECT id, scenario, profile, source, outcome, attempts, error_kind, error, screenshot, video, tolerated, started_at, duration_ms
		FROM runs
		WHERE id = $1
	`
	var (
		res        models.RunResult
		outcome    string
		durationMS int64
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&res.RunID,
		&res.Scenario,
		&res.Profile,
		&res.Source,
		&outcome,
		&res.Attempts,
		&res.ErrorKind,
		&res.Error,
		&res.Screenshot,
		&res.Video,
		&res.Tolerated,
		&res.StartedAt,
		&durationMS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	res.Outcome = models.Outcome(outcome)
	res.Duration = time.Duration(durationMS) * time.Millisecond

	rows, err := r.db.QueryContext(ctx, `
		SELECT description, kind, passed, severity, presence, expected, actual, message
		FROM assertion_results
		WHERE run_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get assertion results: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			a                        models.AssertionResult
			kind, severity, presence string
		)
		if err := rows.Scan(&a.Description, &kind, &a.Passed, &severity, &presence, &a.Expected, &a.Actual, &a.Message); err != nil {
			return nil, fmt.Errorf("failed to scan assertion result: %w", err)
		}
		a.Kind = models.AssertionKind(kind)
		a.Severity = models.Severity(severity)
		a.Presence = models.Presence(presence)
		res.Assertions = append(res.Assertions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get assertion results: %w", err)
	}
	return &res, nil
}
