// Package health implements the health tool (component P): a pure
// projection of server identity, tool/resource configuration summary,
// live resource telemetry, and health status. No side effects;
// cancellable via context at entry.
//
// Grounded on coreengine/kernel/kernel.go's GetHealth-style read-only
// status snapshot (never mutates scheduler state to answer a health
// query).
package health

import (
	"context"

	"github.com/jeeves-cluster-organization/mcp-runtime/config"
	"github.com/jeeves-cluster-organization/mcp-runtime/errs"
	"github.com/jeeves-cluster-organization/mcp-runtime/resources"
	"github.com/jeeves-cluster-organization/mcp-runtime/tools"
)

// Facade bundles the dependencies the health tool reads.
type Facade struct {
	Config    *config.Config
	Resources *resources.Manager
	ToolCount func() int
}

func Definition() tools.Definition {
	return tools.Definition{
		Name:        "health",
		Description: "Report server identity, configuration summary, telemetry, and health status.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

func (f *Facade) Handle(ctx context.Context, _ map[string]any) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, errs.Timeoutf("health check cancelled before it could run")
	default:
	}

	telemetry := f.Resources.GetTelemetry()
	status := f.Resources.GetHealthStatus()

	toolCount := 0
	if f.ToolCount != nil {
		toolCount = f.ToolCount()
	}

	return map[string]any{
		"server": map[string]any{
			"name":    f.Config.Server.Name,
			"version": f.Config.Server.Version,
		},
		"configuration": map[string]any{
			"toolCount":               toolCount,
			"maxConcurrentExecutions": f.Config.Resources.MaxConcurrentExecutions,
			"maxPayloadBytes":         f.Config.Tools.MaxPayloadBytes,
			"defaultTimeoutMs":        f.Config.Tools.DefaultTimeoutMs,
		},
		"telemetry": map[string]any{
			"memoryUsageBytes":        telemetry.MemoryUsageBytes,
			"eventLoopDelayMs":        telemetry.EventLoopDelayMs,
			"concurrentExecutions":    telemetry.ConcurrentExecutions,
			"maxConcurrentExecutions": telemetry.MaxConcurrentExecutions,
		},
		"status": string(status),
	}, nil
}
