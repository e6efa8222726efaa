// Package server wires the command engines to the MCP tool surface.
// It registers the tools on a mcp-go server, adapts tool parameters to
// the engine APIs, and shapes results into windowed JSON records.
package server

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ajaxzhan/agentsh/internal/config"
	"github.com/ajaxzhan/agentsh/internal/output"
	"github.com/ajaxzhan/agentsh/internal/proc"
	"github.com/ajaxzhan/agentsh/internal/session"
	"github.com/ajaxzhan/agentsh/pkg/types"
)

// Server bundles the process registry and session manager behind the
// MCP tool handlers.
type Server struct {
	registry *proc.Registry
	sessions *session.Manager

	defaultTimeoutSeconds int
	defaultMaxOutputLines int
}

// New creates a server with engines configured from cfg.
func New(cfg *config.Config) *Server {
	return &Server{
		registry:              proc.NewRegistry(),
		sessions:              session.NewManager(),
		defaultTimeoutSeconds: int(cfg.Exec.GetDefaultTimeout().Seconds()),
		defaultMaxOutputLines: cfg.Exec.MaxOutputLines,
	}
}

// Registry exposes the process registry, mainly for shutdown and tests.
func (s *Server) Registry() *proc.Registry {
	return s.registry
}

// Sessions exposes the session manager, mainly for shutdown and tests.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Shutdown tears down all sessions and kills every running background
// process.
func (s *Server) Shutdown() {
	s.sessions.CloseAll()
	for _, p := range s.registry.List() {
		if p.Status == types.StatusRunning {
			_ = s.registry.Kill(p.ID)
		}
	}
}

// Instructions is the server guidance shown to MCP clients.
func Instructions() string {
	return "agentsh is a shell for AI agents with two modes:\n\n" +
		"SESSIONS (preferred for most work):\n" +
		"Sessions are persistent bash processes with a real PTY (pseudo-terminal). " +
		"Use create_session to start one, then session_exec to run commands. " +
		"Working directory, env vars, shell functions, and aliases persist across commands. " +
		"Programs that require a terminal (interactive tools, colored output) " +
		"work correctly in sessions because isatty()=true. " +
		"For long-running commands, set timeout_seconds appropriately (default 300s, max 3600s). " +
		"session_send drives full-screen/TUI programs with raw input when marker-based exec doesn't fit.\n\n" +
		"STATELESS (for quick one-off commands):\n" +
		"run_command executes a single command in a fresh shell -- no state persists between calls. " +
		"Faster for simple checks (git status, ls, which). No PTY -- programs see pipes. " +
		"start_command + wait_command lets you run a command in the background and wait later.\n\n" +
		"OUTPUT: All commands return structured JSON with exit_code, duration, windowed output " +
		"(head + tail + error_lines), and total_lines. If output is truncated, use get_output " +
		"with the returned id to retrieve specific line ranges."
}

// jsonContent marshals a result record as pretty JSON tool content.
func jsonContent(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("JSON serialization error: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// buildCommandResult windows a process result into the tool-facing record.
func buildCommandResult(id string, res *proc.Result, maxOutputLines int) types.CommandResult {
	w := output.MakeWindow(res.Lines, maxOutputLines)
	return types.CommandResult{
		ID:               id,
		ExitCode:         res.ExitCode,
		DurationSeconds:  res.DurationSeconds,
		OutputHead:       w.Head,
		OutputTail:       w.Tail,
		OutputErrorLines: w.ErrorLines,
		TotalLines:       w.TotalLines,
		Truncated:        w.Truncated,
		TimedOut:         res.TimedOut,
	}
}

// buildSessionResult windows a session exec result into the tool-facing record.
func buildSessionResult(res *session.ExecResult, maxOutputLines int) types.CommandResult {
	w := output.MakeWindow(res.Lines, maxOutputLines)
	return types.CommandResult{
		ID:               res.SessionID,
		ExitCode:         res.ExitCode,
		DurationSeconds:  res.DurationSeconds,
		OutputHead:       w.Head,
		OutputTail:       w.Tail,
		OutputErrorLines: w.ErrorLines,
		TotalLines:       w.TotalLines,
		Truncated:        w.Truncated,
		TimedOut:         res.TimedOut,
	}
}

// optInt returns a pointer to an integer argument if it was provided.
func optInt(req mcp.CallToolRequest, key string) *int {
	args := req.GetArguments()
	if _, ok := args[key]; !ok {
		return nil
	}
	v := req.GetInt(key, 0)
	return &v
}
