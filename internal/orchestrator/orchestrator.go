// Package orchestrator drives one workflow run end to end: it transitions
// the run through the fixed stage chain, builds each stage's generation
// request from accumulated artifacts, invokes the backend router, persists
// parsed outputs, records gate decisions, and retries or halts on failure.
package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"stageforge/backend/internal/events"
	"stageforge/backend/internal/gate"
	"stageforge/backend/internal/registry"
	"stageforge/backend/internal/repository"
	"stageforge/backend/internal/router"
	"stageforge/backend/pkg/models"

	"github.com/google/uuid"
)

// DefaultMaxRetries is the automatic retry budget per (run, stage): a stage
// is attempted at most 1+DefaultMaxRetries times before settling in _FAILED.
const DefaultMaxRetries = 2

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 8192
)

// Logger is the logging interface the orchestrator accepts, compatible with
// the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Router is the single-call execution capability the orchestrator depends on.
type Router interface {
	Execute(ctx context.Context, candidates []models.Candidate, req router.Request) (string, error)
}

// Options tune the orchestrator. Zero values select the defaults.
type Options struct {
	MaxRetries  int
	Temperature float64
	MaxTokens   int
}

// Orchestrator owns run state transitions. At most one ExecuteStage per
// (run, stage) may be active at a time; serializing concurrent triggers for
// the same run is the caller's responsibility.
type Orchestrator struct {
	store  repository.Store
	reg    *registry.Registry
	gates  *gate.Engine
	router Router
	bus    *events.Bus
	logger Logger

	maxRetries  int
	temperature float64
	maxTokens   int

	stageAttempts metric.Int64Counter
	stageFailures metric.Int64Counter
}

// New creates an Orchestrator.
func New(store repository.Store, reg *registry.Registry, gates *gate.Engine, rt Router, bus *events.Bus, logger Logger, opts Options) *Orchestrator {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}

	meter := otel.Meter("stageforge/orchestrator")
	attempts, err := meter.Int64Counter("pipeline.stage.attempts")
	if err != nil {
		logger.Error("failed to create attempts counter", "error", err)
	}
	failures, err := meter.Int64Counter("pipeline.stage.failures")
	if err != nil {
		logger.Error("failed to create failures counter", "error", err)
	}

	return &Orchestrator{
		store:         store,
		reg:           reg,
		gates:         gates,
		router:        rt,
		bus:           bus,
		logger:        logger,
		maxRetries:    opts.MaxRetries,
		temperature:   opts.Temperature,
		maxTokens:     opts.MaxTokens,
		stageAttempts: attempts,
		stageFailures: failures,
	}
}

// StartRun moves a run to the first stage's _PENDING state, clears its
// retry counters and executes the first stage. The stage chain then runs
// synchronously until COMPLETED or a terminal _FAILED.
func (o *Orchestrator) StartRun(ctx context.Context, runID string) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	first := o.reg.First()
	run.State = models.StageState(first.ID, models.PhasePending)
	run.StageRetries = map[string]int{}
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	o.logger.Info("run started", "run_id", runID, "stage", first.ID)
	return o.ExecuteStage(ctx, runID, first.ID)
}

// RetryStage is the external retry trigger for a run stuck in a stage's
// _FAILED state. It resets only that stage's retry counter and re-executes
// the stage.
func (o *Orchestrator) RetryStage(ctx context.Context, runID, stageID string) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if _, ok := o.reg.Stage(stageID); !ok {
		return models.ErrStageUnknown
	}
	if run.State != models.StageState(stageID, models.PhaseFailed) {
		return fmt.Errorf("%w: run %s is in state %s", models.ErrNotRetryable, runID, run.State)
	}

	delete(run.StageRetries, stageID)
	run.State = models.StageState(stageID, models.PhasePending)
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	o.logger.Info("external retry", "run_id", runID, "stage", stageID)
	return o.ExecuteStage(ctx, runID, stageID)
}

// ExecuteStage runs one stage: generation call, artifact extraction and
// persistence, gate check, then advance or failure handling.
func (o *Orchestrator) ExecuteStage(ctx context.Context, runID, stageID string) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	def, ok := o.reg.Stage(stageID)
	if !ok {
		return models.ErrStageUnknown
	}

	run.State = models.StageState(def.ID, models.PhaseRunning)
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return err
	}
	o.emit(run.ID, models.EventStageStarted, def.ID, nil)
	o.count(o.stageAttempts, def.ID)

	existing, err := o.store.ListArtifactsByRun(ctx, run.ID)
	if err != nil {
		return o.failStage(ctx, run, def, fmt.Errorf("failed to load artifacts: %w", err))
	}
	latest := latestByType(existing)

	req := router.Request{
		System:      def.Instruction,
		Payload:     buildPayload(run.Brief, def, latest),
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	}

	content, err := o.router.Execute(ctx, def.Candidates, req)
	if err != nil {
		return o.failStage(ctx, run, def, err)
	}

	parsed := extractArtifacts(content, def)
	available := make(map[models.ArtifactType]bool, len(latest)+len(parsed))
	for t := range latest {
		available[t] = true
	}
	for _, p := range parsed {
		artifact := &models.Artifact{
			ID:      uuid.New().String(),
			RunID:   run.ID,
			Type:    p.Type,
			Content: p.Content,
		}
		if err := o.store.CreateArtifact(ctx, artifact); err != nil {
			return o.failStage(ctx, run, def, fmt.Errorf("failed to persist artifact %q: %w", p.Type, err))
		}
		available[p.Type] = true
		o.emit(run.ID, models.EventArtifactCreated, def.ID, map[string]any{
			"artifact_id":   artifact.ID,
			"artifact_type": string(p.Type),
		})
	}

	res := o.gates.CheckStageGate(def.ID, available)
	gateRecord := &models.Gate{RunID: run.ID, GateID: def.ID, Status: models.GatePass, Reason: "all required artifacts present"}
	if !res.Satisfied {
		gateRecord.Status = models.GateFail
		gateRecord.Reason = fmt.Sprintf("missing artifacts: %v", res.Missing)
	}
	if err := o.store.UpsertGate(ctx, gateRecord); err != nil {
		return o.failStage(ctx, run, def, fmt.Errorf("failed to record gate: %w", err))
	}
	o.emit(run.ID, models.EventGateChecked, def.ID, map[string]any{
		"satisfied": res.Satisfied,
		"missing":   typeNames(res.Missing),
	})

	if !res.Satisfied {
		return o.failStage(ctx, run, def, fmt.Errorf("gate unsatisfied: %s", gateRecord.Reason))
	}

	run.State = models.StageState(def.ID, models.PhaseDone)
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return err
	}
	o.emit(run.ID, models.EventStageCompleted, def.ID, nil)
	o.logger.Info("stage completed", "run_id", run.ID, "stage", def.ID)

	return o.Advance(ctx, run.ID)
}

// Advance moves a run whose current stage is _DONE to the next stage and
// executes it, or marks the run COMPLETED after the last stage. Any other
// state is a no-op.
func (o *Orchestrator) Advance(ctx context.Context, runID string) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !run.State.IsDone() {
		return nil
	}

	next := o.gates.NextStage(run.State)
	if next == "" {
		run.State = models.StateCompleted
		if err := o.store.UpdateRun(ctx, run); err != nil {
			return err
		}
		o.emit(run.ID, models.EventRunCompleted, "", nil)
		o.logger.Info("run completed", "run_id", run.ID)
		return nil
	}

	run.State = models.StageState(next, models.PhasePending)
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return err
	}
	return o.ExecuteStage(ctx, run.ID, next)
}

// failStage applies the failure policy: record _FAILED, then either consume
// one automatic retry and re-execute the whole stage, or leave the run in
// the terminal _FAILED state awaiting an external RetryStage.
func (o *Orchestrator) failStage(ctx context.Context, run *models.Run, def registry.StageDef, cause error) error {
	o.count(o.stageFailures, def.ID)
	o.logger.Error("stage failed", "run_id", run.ID, "stage", def.ID, "error", cause)

	run.State = models.StageState(def.ID, models.PhaseFailed)
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to record stage failure: %w (original: %v)", err, cause)
	}
	o.emit(run.ID, models.EventStageFailed, def.ID, map[string]any{"error": cause.Error()})

	if run.StageRetries[def.ID] < o.maxRetries {
		run.StageRetries[def.ID]++
		run.State = models.StageState(def.ID, models.PhasePending)
		if err := o.store.UpdateRun(ctx, run); err != nil {
			return fmt.Errorf("failed to schedule retry: %w (original: %v)", err, cause)
		}
		o.logger.Warn("retrying stage", "run_id", run.ID, "stage", def.ID,
			"attempt", run.StageRetries[def.ID]+1)
		return o.ExecuteStage(ctx, run.ID, def.ID)
	}

	return fmt.Errorf("stage %s failed after %d attempts: %w", def.ID, o.maxRetries+1, cause)
}

func (o *Orchestrator) emit(runID, eventType, stageID string, detail map[string]any) {
	o.bus.Emit(models.Event{
		RunID:     runID,
		Type:      eventType,
		Stage:     stageID,
		Detail:    detail,
		Timestamp: nowUTC(),
	})
}

func (o *Orchestrator) count(counter metric.Int64Counter, stageID string) {
	if counter == nil {
		return
	}
	counter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("stage", stageID)))
}

// latestByType deduplicates artifacts by type, newest wins. The store
// returns artifacts newest first, so the first occurrence of a type is the
// authoritative one.
func latestByType(artifacts []*models.Artifact) map[models.ArtifactType]*models.Artifact {
	latest := make(map[models.ArtifactType]*models.Artifact, len(artifacts))
	for _, a := range artifacts {
		if _, seen := latest[a.Type]; !seen {
			latest[a.Type] = a
		}
	}
	return latest
}

func typeNames(types []models.ArtifactType) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}
