// Package mcp implements the Model Context Protocol server for Delphi.
//
// The MCP server exposes the forecasting engine to MCP-compatible AI agents:
// running a panel forecast, reading an agent's reputation report, grading a
// resolved prediction, and inspecting circuit-breaker state.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/solstice-ai/delphi/internal/backend"
	"github.com/solstice-ai/delphi/internal/forecast"
	"github.com/solstice-ai/delphi/internal/reputation"
)

// Server wraps the MCP server with Delphi's forecast service.
type Server struct {
	mcpServer *mcpserver.MCPServer
	forecasts *forecast.Service
	tracker   *reputation.Tracker // nil when no database is configured
	breaker   *backend.Breaker
	logger    *slog.Logger
}

// New creates and configures an MCP server with all tools registered.
// tracker may be nil; the reputation tools then report unconfigured.
func New(forecasts *forecast.Service, tracker *reputation.Tracker, breaker *backend.Breaker, logger *slog.Logger, version string) *Server {
	s := &Server{
		forecasts: forecasts,
		tracker:   tracker,
		breaker:   breaker,
		logger:    logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"delphi",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks serving the MCP protocol over stdin/stdout.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	// delphi_forecast — run the full panel on a question.
	s.mcpServer.AddTool(
		mcplib.NewTool("delphi_forecast",
			mcplib.WithDescription(`Run a multi-agent forecast on a yes/no question.

The question is classified into a domain, fanned out to the expert panel,
quality-reviewed, and aggregated into a reputation-weighted consensus
probability with a synthesized verdict.

WHAT YOU GET BACK:
- consensus: probability, confidence, per-agent weight breakdown, dissent
- verdict: the synthesized natural-language conclusion
- prediction_id: grade later with delphi_record_outcome as
  "<prediction_id>:<agent>" once the question resolves

Answers are cached per question, so repeating a question is cheap.`),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("question",
				mcplib.Description("The forecasting question. Phrase it as a resolvable yes/no outcome, e.g. \"Will Brent crude close above $90 before July?\""),
				mcplib.Required(),
			),
		),
		s.handleForecast,
	)

	// delphi_reputation — full performance report for one agent.
	s.mcpServer.AddTool(
		mcplib.NewTool("delphi_reputation",
			mcplib.WithDescription(`Get the reputation report for a panel agent.

Returns the agent's overall score, per-domain scores, prediction counts,
recent accuracy, and calibration. Scores are Brier-based: they reward
probabilities close to what actually happened.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent",
				mcplib.Description("Panel agent name, e.g. geopolitical-analyst"),
				mcplib.Required(),
			),
		),
		s.handleReputation,
	)

	// delphi_record_outcome — grade a resolved prediction.
	s.mcpServer.AddTool(
		mcplib.NewTool("delphi_record_outcome",
			mcplib.WithDescription(`Record the real-world outcome of a resolved question.

Grades one agent's prediction and shifts its reputation weight in future
forecasts. Outcome is 1.0 if the predicted event happened, 0.0 if it did
not; fractional values are allowed for partial resolutions.

Re-recording the same prediction_id overwrites the grade, so corrections
are safe.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("prediction_id",
				mcplib.Description("The per-agent prediction id: \"<forecast prediction_id>:<agent name>\""),
				mcplib.Required(),
			),
			mcplib.WithNumber("outcome",
				mcplib.Description("What happened: 1.0 = event occurred, 0.0 = it did not"),
				mcplib.Required(),
				mcplib.Min(0),
				mcplib.Max(1),
			),
		),
		s.handleRecordOutcome,
	)

	// delphi_breakers — circuit-breaker state per backing model.
	s.mcpServer.AddTool(
		mcplib.NewTool("delphi_breakers",
			mcplib.WithDescription(`Inspect circuit-breaker state for every backing model.

A model whose circuit is "open" is failing and being skipped until its
cooldown elapses; "half_open" means probe calls are in flight. Use this to
explain why agents are failing or to wait out an unhealthy backend.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleBreakers,
	)
}

func (s *Server) handleForecast(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	question := request.GetString("question", "")
	if question == "" {
		return errorResult("question is required"), nil
	}

	result, err := s.forecasts.Run(ctx, question)
	if errors.Is(err, forecast.ErrInsufficientPanel) {
		return errorResult(fmt.Sprintf(
			"insufficient usable agents: %d declined, %d failed; no consensus formed",
			len(result.Declined), result.FailedAgents)), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("forecast failed: %v", err)), nil
	}

	return jsonResult(result), nil
}

func (s *Server) handleReputation(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.tracker == nil {
		return errorResult("reputation tracking is not configured (no database)"), nil
	}

	agent := request.GetString("agent", "")
	if agent == "" {
		return errorResult("agent is required"), nil
	}

	report, err := s.tracker.Report(ctx, agent)
	if err != nil {
		return errorResult(fmt.Sprintf("reputation report failed: %v", err)), nil
	}
	return jsonResult(report), nil
}

func (s *Server) handleRecordOutcome(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.tracker == nil {
		return errorResult("reputation tracking is not configured (no database)"), nil
	}

	predictionID := request.GetString("prediction_id", "")
	if predictionID == "" {
		return errorResult("prediction_id is required"), nil
	}
	outcome := request.GetFloat("outcome", -1)
	if outcome < 0 || outcome > 1 {
		return errorResult("outcome must be between 0.0 and 1.0"), nil
	}

	err := s.tracker.RecordOutcome(ctx, predictionID, outcome)
	if errors.Is(err, reputation.ErrPredictionNotFound) {
		return errorResult(fmt.Sprintf("unknown prediction_id %q", predictionID)), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("record outcome failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"prediction_id": predictionID,
		"outcome":       outcome,
		"recorded":      true,
	}), nil
}

func (s *Server) handleBreakers(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return jsonResult(map[string]any{
		"breakers": s.breaker.Status(),
	}), nil
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
