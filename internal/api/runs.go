package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"stageforge/backend/internal/events"
	"stageforge/backend/internal/orchestrator"
	"stageforge/backend/internal/registry"
	"stageforge/backend/internal/repository"
	"stageforge/backend/internal/router"
	"stageforge/backend/pkg/models"
)

// Logger is the logging interface the API accepts, compatible with the
// application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Server holds the dependencies for the API server.
type Server struct {
	store  repository.Store
	orch   *orchestrator.Orchestrator
	bus    *events.Bus
	router *router.Router
	reg    *registry.Registry
	logger Logger
}

// NewServer creates a new Server.
func NewServer(store repository.Store, orch *orchestrator.Orchestrator, bus *events.Bus, rt *router.Router, reg *registry.Registry, logger Logger) *Server {
	return &Server{store: store, orch: orch, bus: bus, router: rt, reg: reg, logger: logger}
}

// RegisterRoutes mounts all handlers on the given group.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.POST("/runs", s.CreateRun)
	g.GET("/runs", s.ListRuns)
	g.GET("/runs/:id", s.GetRun)
	g.GET("/runs/:id/artifacts", s.ListArtifacts)
	g.GET("/runs/:id/gates", s.ListGates)
	g.POST("/runs/:id/retry", s.RetryStage)
	g.GET("/runs/:id/events", s.StreamEvents)
	g.GET("/providers", s.ListProviders)
}

// CreateRunRequest is the body of POST /runs.
type CreateRunRequest struct {
	Brief string `json:"brief"`
}

// CreateRun creates a run from a brief and starts its stage chain in the
// background. Returns 202 with the created run.
// (POST /api/v1/runs)
func (s *Server) CreateRun(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "invalid request", "invalid request body: "+err.Error())
	}
	if req.Brief == "" {
		return problem(c, http.StatusBadRequest, "invalid request", "brief is required")
	}

	run := &models.Run{
		ID:           uuid.New().String(),
		Brief:        req.Brief,
		State:        models.StageState(s.reg.First().ID, models.PhasePending),
		StageRetries: map[string]int{},
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return problem(c, http.StatusInternalServerError, "store error", "failed to create run: "+err.Error())
	}

	// The chain runs to completion or terminal failure on its own goroutine;
	// progress is observable via GET /runs/:id and the event stream.
	go func() {
		if err := s.orch.StartRun(context.Background(), run.ID); err != nil {
			s.logger.Error("run halted", "run_id", run.ID, "error", err)
		}
	}()

	return c.JSON(http.StatusAccepted, run)
}

// ListRuns returns all runs, newest first.
// (GET /api/v1/runs)
func (s *Server) ListRuns(c echo.Context) error {
	runs, err := s.store.ListRuns(c.Request().Context())
	if err != nil {
		return problem(c, http.StatusInternalServerError, "store error", err.Error())
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

// GetRun returns one run by id.
// (GET /api/v1/runs/:id)
func (s *Server) GetRun(c echo.Context) error {
	run, err := s.store.GetRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, models.ErrRunNotFound) {
		return problem(c, http.StatusNotFound, "not found", "no run with id "+c.Param("id"))
	}
	if err != nil {
		return problem(c, http.StatusInternalServerError, "store error", err.Error())
	}
	return c.JSON(http.StatusOK, run)
}

// ListArtifacts returns a run's artifacts, newest first.
// (GET /api/v1/runs/:id/artifacts)
func (s *Server) ListArtifacts(c echo.Context) error {
	artifacts, err := s.store.ListArtifactsByRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return problem(c, http.StatusInternalServerError, "store error", err.Error())
	}
	if artifacts == nil {
		artifacts = []*models.Artifact{}
	}
	return c.JSON(http.StatusOK, artifacts)
}

// ListGates returns a run's recorded gate decisions.
// (GET /api/v1/runs/:id/gates)
func (s *Server) ListGates(c echo.Context) error {
	gates, err := s.store.ListGatesByRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return problem(c, http.StatusInternalServerError, "store error", err.Error())
	}
	if gates == nil {
		gates = []*models.Gate{}
	}
	return c.JSON(http.StatusOK, gates)
}

// RetryStageRequest is the body of POST /runs/:id/retry.
type RetryStageRequest struct {
	Stage string `json:"stage"`
}

// RetryStage re-executes a failed stage with a fresh retry budget. The run
// must currently be in that stage's _FAILED state.
// (POST /api/v1/runs/:id/retry)
func (s *Server) RetryStage(c echo.Context) error {
	var req RetryStageRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "invalid request", "invalid request body: "+err.Error())
	}
	if req.Stage == "" {
		return problem(c, http.StatusBadRequest, "invalid request", "stage is required")
	}

	// Check the precondition synchronously so the caller gets a 409 instead
	// of a silent background failure.
	runID := c.Param("id")
	run, err := s.store.GetRun(c.Request().Context(), runID)
	if errors.Is(err, models.ErrRunNotFound) {
		return problem(c, http.StatusNotFound, "not found", "no run with id "+runID)
	}
	if err != nil {
		return problem(c, http.StatusInternalServerError, "store error", err.Error())
	}
	if run.State != models.StageState(req.Stage, models.PhaseFailed) {
		return problem(c, http.StatusConflict, "not retryable",
			fmt.Sprintf("run is in state %s, stage %s is not retryable", run.State, req.Stage))
	}

	go func() {
		if err := s.orch.RetryStage(context.Background(), runID, req.Stage); err != nil {
			s.logger.Error("retry halted", "run_id", runID, "stage", req.Stage, "error", err)
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID, "stage": req.Stage})
}

// StreamEvents streams a run's progress events as server-sent events until
// the client disconnects.
// (GET /api/v1/runs/:id/events)
func (s *Server) StreamEvents(c echo.Context) error {
	runID := c.Param("id")
	if _, err := s.store.GetRun(c.Request().Context(), runID); err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			return problem(c, http.StatusNotFound, "not found", "no run with id "+runID)
		}
		return problem(c, http.StatusInternalServerError, "store error", err.Error())
	}

	ch, cancel := s.bus.Subscribe(runID)
	defer cancel()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("failed to marshal event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}

// ProviderStatus reports one candidate's configuration state.
type ProviderStatus struct {
	Candidate  models.Candidate `json:"candidate"`
	Configured bool             `json:"configured"`
}

// ListProviders reports configured vs unconfigured candidates across the
// whole pipeline, for diagnostics. No backend is called.
// (GET /api/v1/providers)
func (s *Server) ListProviders(c echo.Context) error {
	seen := map[models.Candidate]bool{}
	var all []models.Candidate
	for _, stage := range s.reg.Stages() {
		for _, cand := range stage.Candidates {
			if !seen[cand] {
				seen[cand] = true
				all = append(all, cand)
			}
		}
	}

	configured, unconfigured := s.router.Available(all)
	statuses := make([]ProviderStatus, 0, len(all))
	for _, cand := range configured {
		statuses = append(statuses, ProviderStatus{Candidate: cand, Configured: true})
	}
	for _, cand := range unconfigured {
		statuses = append(statuses, ProviderStatus{Candidate: cand, Configured: false})
	}
	return c.JSON(http.StatusOK, statuses)
}
