package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stageforge/backend/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			brief TEXT NOT NULL,
			state TEXT NOT NULL,
			stage_retries JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			id UUID PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES runs(id),
			artifact_type TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS artifacts_run_idx ON artifacts(run_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS gates (
			run_id UUID NOT NULL REFERENCES runs(id),
			gate_id TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (run_id, gate_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateRun persists a new run and stamps its timestamps.
func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run) error {
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.StageRetries == nil {
		run.StageRetries = map[string]int{}
	}
	retries, err := json.Marshal(run.StageRetries)
	if err != nil {
		return fmt.Errorf("failed to marshal retry counters: %w", err)
	}
	_, err = s.db.Exec(ctx,
		"INSERT INTO runs (id, brief, state, stage_retries, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)",
		run.ID, run.Brief, run.State, retries, run.CreatedAt, run.UpdatedAt)
	return err
}

// GetRun retrieves a run by id.
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run
	var retries []byte
	err := s.db.QueryRow(ctx,
		"SELECT id, brief, state, stage_retries, created_at, updated_at FROM runs WHERE id = $1", id).
		Scan(&run.ID, &run.Brief, &run.State, &retries, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(retries, &run.StageRetries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal retry counters: %w", err)
	}
	return &run, nil
}

// UpdateRun persists the run's state and retry counters.
func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.Run) error {
	run.UpdatedAt = time.Now().UTC()
	retries, err := json.Marshal(run.StageRetries)
	if err != nil {
		return fmt.Errorf("failed to marshal retry counters: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		"UPDATE runs SET state = $1, stage_retries = $2, updated_at = $3 WHERE id = $4",
		run.State, retries, run.UpdatedAt, run.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrRunNotFound
	}
	return nil
}

// ListRuns returns all runs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context) ([]*models.Run, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, brief, state, stage_retries, created_at, updated_at FROM runs ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		var run models.Run
		var retries []byte
		if err := rows.Scan(&run.ID, &run.Brief, &run.State, &retries, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(retries, &run.StageRetries); err != nil {
			return nil, fmt.Errorf("failed to unmarshal retry counters: %w", err)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// CreateArtifact appends one artifact row.
func (s *PostgresStore) CreateArtifact(ctx context.Context, artifact *models.Artifact) error {
	artifact.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx,
		"INSERT INTO artifacts (id, run_id, artifact_type, content, created_at) VALUES ($1, $2, $3, $4, $5)",
		artifact.ID, artifact.RunID, artifact.Type, artifact.Content, artifact.CreatedAt)
	return err
}

// ListArtifactsByRun returns a run's artifacts, newest first.
func (s *PostgresStore) ListArtifactsByRun(ctx context.Context, runID string) ([]*models.Artifact, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, run_id, artifact_type, content, created_at FROM artifacts WHERE run_id = $1 ORDER BY created_at DESC, id DESC",
		runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*models.Artifact
	for rows.Next() {
		var a models.Artifact
		if err := rows.Scan(&a.ID, &a.RunID, &a.Type, &a.Content, &a.CreatedAt); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, &a)
	}
	return artifacts, rows.Err()
}

// UpsertGate records a gate decision, overwriting any prior record for the
// same (run, gate) pair.
func (s *PostgresStore) UpsertGate(ctx context.Context, gate *models.Gate) error {
	gate.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO gates (run_id, gate_id, status, reason, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, gate_id)
		DO UPDATE SET status = EXCLUDED.status, reason = EXCLUDED.reason, updated_at = EXCLUDED.updated_at`,
		gate.RunID, gate.GateID, gate.Status, gate.Reason, gate.UpdatedAt)
	return err
}

// ListGatesByRun returns a run's recorded gate decisions.
func (s *PostgresStore) ListGatesByRun(ctx context.Context, runID string) ([]*models.Gate, error) {
	rows, err := s.db.Query(ctx,
		"SELECT run_id, gate_id, status, reason, updated_at FROM gates WHERE run_id = $1 ORDER BY gate_id",
		runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gates []*models.Gate
	for rows.Next() {
		var g models.Gate
		if err := rows.Scan(&g.RunID, &g.GateID, &g.Status, &g.Reason, &g.UpdatedAt); err != nil {
			return nil, err
		}
		gates = append(gates, &g)
	}
	return gates, rows.Err()
}

// Ping verifies the store is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
