package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"stageforge/backend/internal/orchestrator"
	"stageforge/backend/internal/registry"
	"stageforge/backend/internal/repository"
	"stageforge/backend/pkg/models"
)

// Server exposes the pipeline over the MCP tool protocol.
type Server struct {
	mcpServer *server.MCPServer
	store     repository.Store
	orch      *orchestrator.Orchestrator
	reg       *registry.Registry
}

// NewServer creates the MCP server and registers its tools.
func NewServer(store repository.Store, orch *orchestrator.Orchestrator, reg *registry.Registry) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"StageForge Pipeline",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		store: store,
		orch:  orch,
		reg:   reg,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"start_run",
			mcp.WithDescription("Create a pipeline run from a brief and start its stage chain"),
			mcp.WithString("brief", mcp.Required(), mcp.Description("The free-text project brief")),
		),
		s.handleStartRun,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_status",
			mcp.WithDescription("Get a run's state, artifacts and gate decisions"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The ID of the run")),
		),
		s.handleRunStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"retry_stage",
			mcp.WithDescription("Retry a failed stage of a run with a fresh retry budget"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The ID of the run")),
			mcp.WithString("stage", mcp.Required(), mcp.Description("The stage to retry, e.g. PM")),
		),
		s.handleRetryStage,
	)
}

func (s *Server) handleStartRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	brief, ok := args["brief"].(string)
	if !ok || brief == "" {
		return mcp.NewToolResultError("Missing required parameter: brief"), nil
	}

	run := &models.Run{
		ID:           uuid.New().String(),
		Brief:        brief,
		State:        models.StageState(s.reg.First().ID, models.PhasePending),
		StageRetries: map[string]int{},
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create run: %v", err)), nil
	}

	go func() {
		// The tool call returns immediately; the chain runs on its own.
		_ = s.orch.StartRun(context.Background(), run.ID)
	}()

	jsonBytes, _ := json.Marshal(run)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRunStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	runID, ok := args["run_id"].(string)
	if !ok || runID == "" {
		return mcp.NewToolResultError("Missing required parameter: run_id"), nil
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load run: %v", err)), nil
	}
	artifacts, err := s.store.ListArtifactsByRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load artifacts: %v", err)), nil
	}
	gates, err := s.store.ListGatesByRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load gates: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(map[string]any{
		"run":       run,
		"artifacts": artifacts,
		"gates":     gates,
	})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRetryStage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	runID, ok := args["run_id"].(string)
	if !ok || runID == "" {
		return mcp.NewToolResultError("Missing required parameter: run_id"), nil
	}
	stage, ok := args["stage"].(string)
	if !ok || stage == "" {
		return mcp.NewToolResultError("Missing required parameter: stage"), nil
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load run: %v", err)), nil
	}
	if run.State != models.StageState(stage, models.PhaseFailed) {
		return mcp.NewToolResultError(fmt.Sprintf("Run is in state %s; stage %s is not retryable", run.State, stage)), nil
	}

	go func() {
		_ = s.orch.RetryStage(context.Background(), runID, stage)
	}()

	return mcp.NewToolResultText(fmt.Sprintf("Retry of stage %s accepted for run %s", stage, runID)), nil
}

// MountHTTPHandlers mounts the MCP SSE endpoints on the given mux.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
