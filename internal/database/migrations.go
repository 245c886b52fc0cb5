package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Schema creates the run history tables
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	id UUID PRIMARY KEY,
	scenario VARCHAR(255) NOT NULL,
	profile VARCHAR(64) NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	outcome VARCHAR(16) NOT NULL,
	attempts INTEGER NOT NULL,
	error_kind VARCHAR(64) NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	screenshot TEXT NOT NULL DEFAULT '',
	video TEXT NOT NULL DEFAULT '',
	tolerated INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMP NOT NULL,
	duration_ms BIGINT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

ALTER TABLE runs ADD COLUMN IF NOT EXISTS profile VARCHAR(64) NOT NULL DEFAULT '';
ALTER TABLE runs ADD COLUMN IF NOT EXISTS video TEXT NOT NULL DEFAULT '';

CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS assertion_results (
	run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	description TEXT NOT NULL,
	kind VARCHAR(64) NOT NULL,
	passed BOOLEAN NOT NULL,
	severity VARCHAR(16) NOT NULL DEFAULT '',
	presence VARCHAR(32) NOT NULL DEFAULT '',
	expected TEXT NOT NULL DEFAULT '',
	actual TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, position)
);
`

// RunMigrations creates the necessary database tables
func RunMigrations(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	if db == nil {
		return fmt.Errorf("database connection not initialized")
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create run history tables: %w", err)
	}
	if logger != nil {
		logger.Info("database migrations completed successfully")
	}
	return nil
}
