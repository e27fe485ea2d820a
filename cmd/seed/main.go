package main

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"stageforge/backend/internal/config"
	"stageforge/backend/internal/logging"
	"stageforge/backend/internal/registry"
	"stageforge/backend/internal/repository"
	"stageforge/backend/pkg/models"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to DB
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Check for existing runs to prevent duplicates
	existingRuns, err := store.ListRuns(ctx)
	if err != nil {
		log.Fatalf("Failed to list existing runs: %v", err)
	}

	existingMap := make(map[string]bool)
	for _, r := range existingRuns {
		existingMap[r.Brief] = true
	}

	firstStage := registry.Default().First()

	briefs := []string{
		"A todo application with offline sync and shared lists.",
		"A recipe box that suggests weekly meal plans from pantry contents.",
		"An internal tool that summarizes support tickets into weekly digests.",
	}

	for _, brief := range briefs {
		if existingMap[brief] {
			logger.Info("Skipping existing run", "brief", brief)
			continue
		}

		run := &models.Run{
			ID:           uuid.New().String(),
			Brief:        brief,
			State:        models.StageState(firstStage.ID, models.PhasePending),
			StageRetries: map[string]int{},
		}

		if err := store.CreateRun(ctx, run); err != nil {
			log.Printf("Failed to create run %q: %v", brief, err)
		} else {
			logger.Info("Seeded run", "id", run.ID, "state", run.State)
		}
	}
	logger.Info("Seeding complete!")
}
