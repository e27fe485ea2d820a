package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"stageforge/backend/pkg/models"
)

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresStore(pool)
	require.NoError(t, store.Migrate(ctx))

	runID := uuid.New().String()

	t.Run("CreateRun and GetRun", func(t *testing.T) {
		run := &models.Run{
			ID:    runID,
			Brief: "build me a todo app",
			State: models.StageState("INTAKE", models.PhasePending),
		}
		require.NoError(t, store.CreateRun(ctx, run))

		got, err := store.GetRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, run.Brief, got.Brief)
		assert.Equal(t, run.State, got.State)
		assert.NotNil(t, got.StageRetries)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("GetRun not found", func(t *testing.T) {
		_, err := store.GetRun(ctx, uuid.New().String())
		assert.ErrorIs(t, err, models.ErrRunNotFound)
	})

	t.Run("UpdateRun persists state and retries", func(t *testing.T) {
		run, err := store.GetRun(ctx, runID)
		require.NoError(t, err)

		run.State = models.StageState("PM", models.PhaseFailed)
		run.StageRetries["PM"] = 2
		require.NoError(t, store.UpdateRun(ctx, run))

		got, err := store.GetRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, models.StageState("PM", models.PhaseFailed), got.State)
		assert.Equal(t, 2, got.StageRetries["PM"])
	})

	t.Run("UpdateRun missing run", func(t *testing.T) {
		err := store.UpdateRun(ctx, &models.Run{ID: uuid.New().String(), StageRetries: map[string]int{}})
		assert.ErrorIs(t, err, models.ErrRunNotFound)
	})

	t.Run("Artifacts append-only, newest first", func(t *testing.T) {
		first := &models.Artifact{ID: uuid.New().String(), RunID: runID, Type: models.ArtifactPRD, Content: "v1"}
		require.NoError(t, store.CreateArtifact(ctx, first))
		second := &models.Artifact{ID: uuid.New().String(), RunID: runID, Type: models.ArtifactPRD, Content: "v2"}
		require.NoError(t, store.CreateArtifact(ctx, second))

		artifacts, err := store.ListArtifactsByRun(ctx, runID)
		require.NoError(t, err)
		require.Len(t, artifacts, 2)
		assert.Equal(t, "v2", artifacts[0].Content, "newest artifact comes first")
	})

	t.Run("UpsertGate overwrites prior decision", func(t *testing.T) {
		gate := &models.Gate{RunID: runID, GateID: "g2_prd", Status: models.GateFail, Reason: "missing artifacts: [prd]"}
		require.NoError(t, store.UpsertGate(ctx, gate))

		gate.Status = models.GatePass
		gate.Reason = "all required artifacts present"
		require.NoError(t, store.UpsertGate(ctx, gate))

		gates, err := store.ListGatesByRun(ctx, runID)
		require.NoError(t, err)
		require.Len(t, gates, 1)
		assert.Equal(t, models.GatePass, gates[0].Status)
	})
}
