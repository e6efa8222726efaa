package server

import (
	"context"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ajaxzhan/agentsh/internal/logging"
	"github.com/ajaxzhan/agentsh/internal/proc"
	"github.com/ajaxzhan/agentsh/pkg/types"
)

// Register adds all agentsh tools to the MCP server.
func (s *Server) Register(m *mcpserver.MCPServer) {
	m.AddTool(
		mcp.NewTool("run_command",
			mcp.WithDescription("Execute a command in a fresh shell (no state between calls, no PTY). "+
				"Best for quick one-off commands like `git status`, `ls`, `which`. Blocks until done. "+
				"Returns structured output with exit_code, duration, windowed output (head/tail/error_lines). "+
				"The returned `id` can be used with get_output to retrieve full output if truncated. "+
				"For commands needing persistent state (cd, export) or a terminal, use create_session + session_exec instead."),
			mcp.WithString("command",
				mcp.Required(),
				mcp.Description("The shell command to execute (passed to /bin/sh -c)"),
			),
			mcp.WithString("working_directory",
				mcp.Description("Working directory for the command. Defaults to the server's cwd."),
			),
			mcp.WithNumber("timeout_seconds",
				mcp.Description("Maximum execution time in seconds. Defaults to 300 (5 minutes)."),
			),
			mcp.WithNumber("max_output_lines",
				mcp.Description("Maximum number of output lines to return. Defaults to 200."),
			),
		),
		s.runCommand,
	)

	m.AddTool(
		mcp.NewTool("start_command",
			mcp.WithDescription("Start a command in the background (no PTY, stateless). Returns immediately with an ID. "+
				"Use wait_command to block until it completes, get_status to check progress, or kill_command to terminate it. "+
				"Useful for long builds or parallel tasks."),
			mcp.WithString("command",
				mcp.Required(),
				mcp.Description("The shell command to execute"),
			),
			mcp.WithString("id",
				mcp.Description("Optional ID for the process. Auto-generated UUID if omitted."),
			),
			mcp.WithString("working_directory",
				mcp.Description("Working directory for the command"),
			),
			mcp.WithNumber("timeout_seconds",
				mcp.Description("Maximum execution time in seconds. Defaults to 300."),
			),
			mcp.WithNumber("max_output_lines",
				mcp.Description("Maximum number of output lines to return on completion"),
			),
		),
		s.startCommand,
	)

	m.AddTool(
		mcp.NewTool("wait_command",
			mcp.WithDescription("Block until a previously started command completes and return its structured output. "+
				"Use the ID returned by start_command. Returns immediately if already finished."),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("ID of the process to wait for"),
			),
			mcp.WithNumber("timeout_seconds",
				mcp.Description("Timeout for the wait itself. The process keeps running if the wait times out."),
			),
		),
		s.waitCommand,
	)

	m.AddTool(
		mcp.NewTool("get_status",
			mcp.WithDescription("Check the status of a background command without blocking. "+
				"Returns status (running/completed/failed/timed_out), runtime, and tail_lines: the last 20 output lines "+
				"while running, or the windowed tail and head lines once finished."),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("ID of the process to check"),
			),
		),
		s.getStatus,
	)

	m.AddTool(
		mcp.NewTool("kill_command",
			mcp.WithDescription("Kill a running background command by its ID. Returns whether the kill was successful. "+
				"Only works for commands started with start_command."),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("ID of the process to kill"),
			),
		),
		s.killCommand,
	)

	m.AddTool(
		mcp.NewTool("get_output",
			mcp.WithDescription("Retrieve full output or a line range from a completed command. "+
				"Use the `id` from run_command/start_command results. Returns up to 500 lines per call. "+
				"Omit start_line/end_line to get all output. Use this when the windowed head/tail wasn't enough."),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("ID of the command to retrieve output from"),
			),
			mcp.WithNumber("start_line",
				mcp.Description("Start line (0-indexed, inclusive). Defaults to 0."),
			),
			mcp.WithNumber("end_line",
				mcp.Description("End line (0-indexed, exclusive). Defaults to all remaining lines."),
			),
		),
		s.getOutput,
	)

	m.AddTool(
		mcp.NewTool("list_commands",
			mcp.WithDescription("List all tracked background commands (from run_command and start_command) "+
				"with their ID, command string, status, and runtime."),
		),
		s.listCommands,
	)

	m.AddTool(
		mcp.NewTool("create_session",
			mcp.WithDescription("Create a persistent shell session (long-lived bash process with a real PTY). "+
				"Working directory, env vars, functions, and aliases persist across commands. "+
				"Use session_exec to run commands in the session. Sessions provide a real terminal (isatty=true), "+
				"so interactive tools and programs with colored output work correctly."),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Unique ID for the session"),
			),
			mcp.WithString("working_directory",
				mcp.Description("Initial working directory for the session"),
			),
		),
		s.createSession,
	)

	m.AddTool(
		mcp.NewTool("session_exec",
			mcp.WithDescription("Execute a command in a persistent session. Working directory, env vars, functions, "+
				"and aliases from previous commands persist. Has a real PTY so tools that require a terminal work. "+
				"For long-running commands, increase timeout_seconds (default 300s, max 3600s)."),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("ID of the session to execute in"),
			),
			mcp.WithString("command",
				mcp.Required(),
				mcp.Description("The shell command to execute"),
			),
			mcp.WithNumber("timeout_seconds",
				mcp.Description("Maximum execution time in seconds. Defaults to 300."),
			),
			mcp.WithNumber("idle_timeout_seconds",
				mcp.Description("Per-read bound once output has started. Unset uses the total timeout."),
			),
			mcp.WithNumber("max_output_lines",
				mcp.Description("Maximum number of output lines to return. Defaults to 200."),
			),
		),
		s.sessionExec,
	)

	m.AddTool(
		mcp.NewTool("session_send",
			mcp.WithDescription("Send raw input to a session's PTY and read until output settles. "+
				"For full-screen/TUI programs where marker-based session_exec doesn't fit. "+
				"Escapes \\n, \\r, \\t, \\\\ and \\xHH in the input are expanded before writing."),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("ID of the session to send to"),
			),
			mcp.WithString("input",
				mcp.Description("Input to write to the PTY. Empty just reads pending output."),
			),
			mcp.WithNumber("idle_timeout_seconds",
				mcp.Description("Settle window: output is returned once it stops growing for this long. Defaults to 2."),
			),
			mcp.WithNumber("max_output_lines",
				mcp.Description("Maximum number of output lines to return. Defaults to 200."),
			),
		),
		s.sessionSend,
	)

	m.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List all active shell sessions with their ID and alive status."),
		),
		s.listSessions,
	)

	m.AddTool(
		mcp.NewTool("close_session",
			mcp.WithDescription("Close a persistent shell session and terminate its bash process. "+
				"Use when done with a session to free resources."),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("ID of the session to close"),
			),
		),
		s.closeSession,
	)
}

func (s *Server) runCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	maxLines := req.GetInt("max_output_lines", s.defaultMaxOutputLines)
	cfg := proc.Config{
		Command:          command,
		WorkingDirectory: req.GetString("working_directory", ""),
		TimeoutSeconds:   proc.ClampTimeout(req.GetInt("timeout_seconds", s.defaultTimeoutSeconds)),
	}

	logging.Info("run_command", logging.String("command", command))

	buf := proc.NewBuffer()
	result := proc.Run(ctx, &cfg, buf)

	logging.Info("run_command completed",
		logging.String("command", command),
		logging.Int("exit_code", result.ExitCode),
		logging.Float64("duration", result.DurationSeconds),
		logging.Bool("timed_out", result.TimedOut),
		logging.Int("lines", len(result.Lines)),
	)

	// Store in the registry so output can be retrieved later via get_output.
	id := uuid.NewString()
	s.registry.StoreResult(id, command, result, maxLines)

	return jsonContent(buildCommandResult(id, &result, maxLines))
}

func (s *Server) startCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id := req.GetString("id", "")
	if id == "" {
		id = uuid.NewString()
	}
	maxLines := req.GetInt("max_output_lines", s.defaultMaxOutputLines)
	cfg := proc.Config{
		Command:          command,
		WorkingDirectory: req.GetString("working_directory", ""),
		TimeoutSeconds:   proc.ClampTimeout(req.GetInt("timeout_seconds", s.defaultTimeoutSeconds)),
	}

	logging.Info("start_command", logging.String("id", id), logging.String("command", command))

	if err := s.registry.Start(id, cfg, maxLines); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonContent(types.StartResult{ID: id, Status: "running"})
}

func (s *Server) waitCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, maxLines, werr := s.registry.Wait(id, req.GetInt("timeout_seconds", 0))
	if werr != nil {
		return mcp.NewToolResultError(werr.Error()), nil
	}
	return jsonContent(buildCommandResult(id, &result, maxLines))
}

func (s *Server) getStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	status, serr := s.registry.Status(id)
	if serr != nil {
		return mcp.NewToolResultError(serr.Error()), nil
	}
	return jsonContent(status)
}

func (s *Server) killCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	logging.Info("kill_command", logging.String("id", id))

	if kerr := s.registry.Kill(id); kerr != nil {
		return mcp.NewToolResultError(kerr.Error()), nil
	}
	return jsonContent(types.KillResult{ID: id, Killed: true})
}

func (s *Server) getOutput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	slice, serr := s.registry.GetOutput(id, optInt(req, "start_line"), optInt(req, "end_line"))
	if serr != nil {
		return mcp.NewToolResultError(serr.Error()), nil
	}
	return jsonContent(slice)
}

func (s *Server) listCommands(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonContent(s.registry.List())
}

func (s *Server) createSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	logging.Info("create_session", logging.String("id", id))

	info, cerr := s.sessions.Create(id, req.GetString("working_directory", ""))
	if cerr != nil {
		return mcp.NewToolResultError(cerr.Error()), nil
	}
	return jsonContent(info)
}

func (s *Server) sessionExec(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	command, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	maxLines := req.GetInt("max_output_lines", s.defaultMaxOutputLines)

	logging.Info("session_exec", logging.String("session", id), logging.String("command", command))

	result, xerr := s.sessions.Exec(id, command,
		req.GetInt("timeout_seconds", 0),
		req.GetInt("idle_timeout_seconds", 0),
	)
	if xerr != nil {
		return mcp.NewToolResultError(xerr.Error()), nil
	}

	logging.Info("session_exec completed",
		logging.String("session", id),
		logging.Int("exit_code", result.ExitCode),
		logging.Float64("duration", result.DurationSeconds),
		logging.Int("lines", len(result.Lines)),
	)

	return jsonContent(buildSessionResult(&result, maxLines))
}

func (s *Server) sessionSend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	maxLines := req.GetInt("max_output_lines", s.defaultMaxOutputLines)

	result, serr := s.sessions.Send(id,
		req.GetString("input", ""),
		req.GetInt("idle_timeout_seconds", 0),
	)
	if serr != nil {
		return mcp.NewToolResultError(serr.Error()), nil
	}
	return jsonContent(buildSessionResult(&result, maxLines))
}

func (s *Server) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonContent(s.sessions.List())
}

func (s *Server) closeSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	logging.Info("close_session", logging.String("id", id))

	if cerr := s.sessions.Close(id); cerr != nil {
		return mcp.NewToolResultError(cerr.Error()), nil
	}
	return jsonContent(types.CloseResult{ID: id, Closed: true})
}
