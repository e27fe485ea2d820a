package repository

import (
	"context"

	"stageforge/backend/pkg/models"
)

// Store is the persistence boundary the pipeline depends on. Runs are
// mutated through state updates only; artifacts are append-only; gates are
// upserted by (run, gate) pair.
type Store interface {
	// CreateRun persists a new run and stamps its timestamps.
	CreateRun(ctx context.Context, run *models.Run) error
	// GetRun retrieves a run by id, or models.ErrRunNotFound.
	GetRun(ctx context.Context, id string) (*models.Run, error)
	// UpdateRun persists the run's state and retry counters.
	UpdateRun(ctx context.Context, run *models.Run) error
	// ListRuns returns all runs, newest first.
	ListRuns(ctx context.Context) ([]*models.Run, error)

	// CreateArtifact appends one artifact row.
	CreateArtifact(ctx context.Context, artifact *models.Artifact) error
	// ListArtifactsByRun returns a run's artifacts, newest first.
	ListArtifactsByRun(ctx context.Context, runID string) ([]*models.Artifact, error)

	// UpsertGate records a gate decision, overwriting any prior record for
	// the same (run, gate) pair.
	UpsertGate(ctx context.Context, gate *models.Gate) error
	// ListGatesByRun returns a run's recorded gate decisions.
	ListGatesByRun(ctx context.Context, runID string) ([]*models.Gate, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
