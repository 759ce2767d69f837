package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rgoodman/agentcal/internal/backend"
	"github.com/rgoodman/agentcal/internal/models"
	"github.com/rgoodman/agentcal/internal/store"
)

// Server wraps the calibration data layer and exposes it as MCP tools.
type Server struct {
	store   store.Store
	backend backend.Client
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(s store.Store, c backend.Client) *Server {
	return &Server{store: s, backend: c}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("agentcal", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listRunsTool())
	srv.AddTool(s.showRunTool())
	srv.AddTool(s.agentStatusTool())
	srv.AddTool(s.criteriaTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// agentcal_list_runs
func (s *Server) listRunsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("agentcal_list_runs",
		mcp.WithDescription("List past calibration runs. Returns a JSON array with id, agent_ref, outcome, rounds, and vote counts."),
		mcp.WithString("agent", mcp.Description("Filter by agent reference")),
		mcp.WithString("outcome", mcp.Description("Filter by outcome: converged, exhausted, abandoned, error")),
	)
	return tool, s.handleListRuns
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.RunListFilter{
		AgentRef: request.GetString("agent", ""),
		Outcome:  models.RunOutcome(request.GetString("outcome", "")),
	}
	runs, err := s.store.ListCalibrationRuns(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}

	type runOut struct {
		ID       string `json:"id"`
		AgentRef string `json:"agent_ref"`
		Outcome  string `json:"outcome"`
		Rounds   int    `json:"rounds_completed"`
		Spans    int    `json:"span_count"`
		Approved int    `json:"approved_count"`
		Rejected int    `json:"rejected_count"`
		Started  string `json:"started_at"`
	}

	out := make([]runOut, len(runs))
	for i, r := range runs {
		out[i] = runOut{
			ID:       r.ID,
			AgentRef: r.AgentRef,
			Outcome:  string(r.Outcome),
			Rounds:   r.RoundsCompleted,
			Spans:    r.SpanCount,
			Approved: r.ApprovedCount,
			Rejected: r.RejectedCount,
			Started:  r.StartedAt.Format(time.RFC3339),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal runs: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// agentcal_show_run
func (s *Server) showRunTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("agentcal_show_run",
		mcp.WithDescription("Show one calibration run with its per-span feedback."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Calibration run id")),
	)
	return tool, s.handleShowRun
}

func (s *Server) handleShowRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: run_id"), nil
	}

	run, err := s.store.GetCalibrationRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run not found: %s", runID)), nil
	}
	feedback, err := s.store.ListRunFeedback(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list feedback: %v", err)), nil
	}

	type fbOut struct {
		SpanID string `json:"span_id"`
		Round  int    `json:"round"`
		Vote   string `json:"vote"`
		Note   string `json:"note,omitempty"`
	}
	fbs := make([]fbOut, len(feedback))
	for i, fb := range feedback {
		fbs[i] = fbOut{SpanID: fb.SpanID, Round: fb.Round, Vote: string(fb.Vote), Note: fb.Note}
	}

	result := map[string]any{
		"run": map[string]any{
			"id":               run.ID,
			"agent_ref":        run.AgentRef,
			"outcome":          string(run.Outcome),
			"rounds_completed": run.RoundsCompleted,
			"span_count":       run.SpanCount,
			"approved_count":   run.ApprovedCount,
			"rejected_count":   run.RejectedCount,
		},
		"feedback": fbs,
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal run: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// agentcal_agent_status
func (s *Server) agentStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("agentcal_agent_status",
		mcp.WithDescription("Fetch the agent's current review sample from the backend and summarize span scores."),
		mcp.WithString("agent", mcp.Required(), mcp.Description("Agent reference")),
	)
	return tool, s.handleAgentStatus
}

func (s *Server) handleAgentStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentRef, err := request.RequireString("agent")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: agent"), nil
	}

	sample, err := s.backend.FetchReviewSpans(ctx, agentRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch review spans: %v", err)), nil
	}

	spans := sample.Spans()
	scored, unscored := 0, 0
	var sum float64
	for _, sp := range spans {
		if sp.Scored() {
			scored++
			sum += *sp.CorrectnessScore
		} else {
			unscored++
		}
	}

	result := map[string]any{
		"agent_ref":   agentRef,
		"span_count":  len(spans),
		"scored":      scored,
		"unscored":    unscored,
		"description": sample.Description,
	}
	if scored > 0 {
		result["mean_score"] = sum / float64(scored)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// agentcal_criteria
func (s *Server) criteriaTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("agentcal_criteria",
		mcp.WithDescription("Fetch the agent's current description and scoring criteria."),
		mcp.WithString("agent", mcp.Required(), mcp.Description("Agent reference")),
	)
	return tool, s.handleCriteria
}

func (s *Server) handleCriteria(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentRef, err := request.RequireString("agent")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: agent"), nil
	}

	sample, err := s.backend.FetchReviewSpans(ctx, agentRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch criteria: %v", err)), nil
	}

	result := map[string]any{
		"agent_ref":          agentRef,
		"description":        sample.Description,
		"criteria_by_metric": sample.CriteriaByMetric,
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal criteria: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
