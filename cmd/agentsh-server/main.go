// Package main provides the entry point for the agentsh MCP server.
// Tools are served over stdio; all telemetry goes to stderr so stdout
// stays a clean JSON-RPC stream.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ajaxzhan/agentsh/internal/config"
	"github.com/ajaxzhan/agentsh/internal/logging"
	"github.com/ajaxzhan/agentsh/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (YAML)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logging.Fatal("failed to load configuration", logging.Err(err))
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if err := logging.Init(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		logging.Fatal("failed to initialize logging", logging.Err(err))
	}
	defer func() { _ = logging.Sync() }()

	logging.Info("starting agentsh MCP server",
		logging.String("name", cfg.Server.Name),
		logging.String("version", cfg.Server.Version),
	)

	srv := server.New(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(server.Instructions()),
	)
	srv.Register(mcpSrv)

	// Tear down sessions on SIGINT/SIGTERM so no bash processes linger.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info("shutting down", logging.String("signal", sig.String()))
		srv.Shutdown()
		_ = logging.Sync()
		os.Exit(0)
	}()

	if err := mcpserver.ServeStdio(mcpSrv); err != nil {
		logging.Error("serving error", logging.Err(err))
		srv.Shutdown()
		os.Exit(1)
	}

	srv.Shutdown()
	logging.Info("agentsh server shut down")
}
