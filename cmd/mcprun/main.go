// mcprun is the MCP runtime server process entrypoint: wires
// configuration, the session state machine, tool registry, invocation
// pipeline, agent coordinator, admin gate, and the line-delimited
// JSON-RPC dispatcher together over stdio. The coordinator is built
// without AACP integration.
//
// Usage:
//
//	go run ./cmd/mcprun                       # stdio transport, defaults
//	go run ./cmd/mcprun -admin-mode local_stdio_only
//	go build -o mcprun ./cmd/mcprun && ./mcprun
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeeves-cluster-organization/mcp-runtime/admin"
	"github.com/jeeves-cluster-organization/mcp-runtime/agenttools"
	"github.com/jeeves-cluster-organization/mcp-runtime/config"
	"github.com/jeeves-cluster-organization/mcp-runtime/coordinator"
	"github.com/jeeves-cluster-organization/mcp-runtime/health"
	"github.com/jeeves-cluster-organization/mcp-runtime/idgen"
	"github.com/jeeves-cluster-organization/mcp-runtime/logging"
	"github.com/jeeves-cluster-organization/mcp-runtime/memory"
	"github.com/jeeves-cluster-organization/mcp-runtime/pipeline"
	"github.com/jeeves-cluster-organization/mcp-runtime/resources"
	"github.com/jeeves-cluster-organization/mcp-runtime/rpc"
	"github.com/jeeves-cluster-organization/mcp-runtime/session"
	"github.com/jeeves-cluster-organization/mcp-runtime/tools"
)

const protocolVersion = "2025-06-18"

func main() {
	logLevel := flag.String("log-level", "info", "minimum log level (debug|info|warn|error)")
	adminMode := flag.String("admin-mode", "", "override the admin registration policy mode (deny_all|local_stdio_only|token)")
	adminEnabled := flag.Bool("enable-admin", false, "enable dynamic tool registration (admin/registerTool, admin/unregisterTool)")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP/gRPC collector endpoint for tool-invocation spans (empty disables tracing)")
	flag.Parse()

	cfg := config.Default()
	cfg.Logging.Level = *logLevel
	if *adminMode != "" {
		cfg.Tools.AdminPolicy.Mode = *adminMode
	}
	if *adminEnabled {
		cfg.Tools.AdminRegistrationEnabled = true
		cfg.Security.DynamicRegistrationEnabled = true
	}

	logger := logging.New(
		logging.WithWriter(os.Stderr),
		logging.WithLevel(logging.Level(cfg.Logging.Level)),
		logging.WithRedactKeys(cfg.Logging.RedactKeys),
	)
	logger.Info("mcp_runtime_starting", "version", cfg.Server.Version)

	shutdownTracing, err := setupTracing(context.Background(), cfg.Server.Name, *otlpEndpoint)
	if err != nil {
		logger.Error("tracing_setup_failed", "error", err.Error())
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing_shutdown_failed", "error", err.Error())
		}
	}()

	ids := idgen.NewProduction()
	sess := session.New(ids.NewCorrelationID(), session.TransportStdio, logger, time.Duration(cfg.Server.ShutdownTimeoutMs)*time.Millisecond)

	registry := tools.NewRegistry(logger)
	resourceMgr := resources.NewManager(cfg.Resources.MaxConcurrentExecutions, cfg.Tools.MaxPayloadBytes, resources.DefaultThresholds())

	coord := coordinator.New(logger,
		coordinator.WithMemory(memory.NewInMemory(100)),
	)

	agentFacade := &agenttools.Facade{
		Coordinator:   coord,
		Resources:     resourceMgr,
		MaxStateBytes: cfg.Tools.MaxStateBytes,
	}
	for _, reg := range agentFacade.Definitions() {
		if err := registry.Register(reg.Def, reg.Handler); err != nil {
			logger.Error("agent_tool_registration_failed", "tool", reg.Def.Name, "error", err.Error())
			os.Exit(1)
		}
	}

	healthFacade := &health.Facade{
		Config:    cfg,
		Resources: resourceMgr,
		ToolCount: func() int { return len(registry.List()) },
	}
	if err := registry.Register(health.Definition(), healthFacade.Handle); err != nil {
		logger.Error("health_tool_registration_failed", "error", err.Error())
		os.Exit(1)
	}

	pl := &pipeline.Pipeline{
		Registry:       registry,
		Resources:      resourceMgr,
		IDs:            ids,
		Logger:         logger,
		DefaultTimeout: time.Duration(cfg.Tools.DefaultTimeoutMs) * time.Millisecond,
	}

	gate := &admin.Gate{Config: cfg, Registry: registry}

	dispatcher := &rpc.Dispatcher{
		Session:  sess,
		Pipeline: pl,
		Registry: registry,
		Init: rpc.InitializeInfo{
			ProtocolVersion: protocolVersion,
			ServerName:      cfg.Server.Name,
			ServerVersion:   cfg.Server.Version,
			Capabilities:    map[string]any{"tools": map[string]any{}},
		},
		Logger: logger,
	}
	if cfg.Tools.AdminRegistrationEnabled {
		dispatcher.Admin = gate
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	writer := rpc.NewLineWriter(os.Stdout)
	readErrCh := make(chan error, 1)
	go func() {
		readErrCh <- rpc.ReadLines(ctx, os.Stdin, func(line []byte) {
			resp, ok := dispatcher.HandleLine(ctx, line)
			if !ok {
				return
			}
			if err := writer.WriteLine(resp); err != nil {
				logger.Warn("response_write_failed", "error", err.Error())
			}
		})
	}()

	logger.Info("mcp_runtime_ready", "transport", "stdio")
	fmt.Fprintln(os.Stderr, "mcp-runtime ready on stdio, press Ctrl+C to stop")

	select {
	case sig := <-sigCh:
		logger.Info("shutdown_signal_received", "signal", sig.String())
	case err := <-readErrCh:
		if err != nil {
			logger.Warn("stdin_read_stopped", "error", err.Error())
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutMs)*time.Millisecond)
	sess.Close(shutdownCtx)
	shutdownCancel()
	logger.Info("mcp_runtime_stopped")
}
