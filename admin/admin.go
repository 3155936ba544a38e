// Package admin implements the admin policy gate (component Q):
// authorization for dynamic tool registration, and the registration
// bookkeeping itself once authorized.
//
// Grounded on commbus/protocols.go's mode-as-closed-enum-with-a-
// predicate-method idiom and coreengine/kernel's guard-before-mutate
// pattern (check the policy, then and only then touch the registry).
package admin

import (
	"context"
	"encoding/json"

	"github.com/jeeves-cluster-organization/mcp-runtime/config"
	"github.com/jeeves-cluster-organization/mcp-runtime/errs"
	"github.com/jeeves-cluster-organization/mcp-runtime/session"
	"github.com/jeeves-cluster-organization/mcp-runtime/tools"
)

// PolicyMode is the closed set of admin policy modes.
type PolicyMode string

const (
	DenyAll        PolicyMode = "deny_all"
	LocalStdioOnly PolicyMode = "local_stdio_only"
	Token          PolicyMode = "token"
)

// Gate enforces §4.Q before any dynamic register/unregister is allowed
// to reach the tool registry.
type Gate struct {
	Config   *config.Config
	Registry *tools.Registry
}

// AuthorizeRegister implements 4.Q's mode table. transport is the
// session's current transport tag.
func (g *Gate) AuthorizeRegister(transport session.Transport) *errs.Error {
	if !g.Config.DynamicRegistrationAllowed() {
		return errs.Unauthorizedf("dynamic tool registration is disabled")
	}

	mode := PolicyMode(g.Config.Tools.AdminPolicy.Mode)
	switch mode {
	case DenyAll:
		return errs.Unauthorizedf("admin policy denies all dynamic registration")
	case LocalStdioOnly:
		if transport != session.TransportStdio {
			return errs.Unauthorizedf("admin policy only accepts dynamic registration over stdio, got %q", transport)
		}
		return nil
	case Token:
		return errs.Unauthorizedf("token-based admin authorization is not supported in this version")
	default:
		return errs.Unauthorizedf("unrecognized admin policy mode %q", mode)
	}
}

// ToolType is §6's admin/registerTool toolType enum.
type ToolType string

const (
	ToolTypeEcho       ToolType = "echo"
	ToolTypeHealth     ToolType = "health"
	ToolTypeAgentProxy ToolType = "agentProxy"
)

// Register validates and installs a dynamic tool definition. toolType
// selects the handler installed for it (§6's admin/registerTool toolType
// enum); schemaJSON is the definition's inputSchema as raw JSON when
// supplied over the wire, and when empty a permissive object schema is
// used. Only "echo" has a concrete handler in this version -- "health"
// and "agentProxy" are recognized wire values with no backing
// implementation yet, so registering one fails explicitly rather than
// silently installing the echo handler under a different name.
func (g *Gate) Register(def tools.Definition, toolType string, schemaJSON json.RawMessage) *errs.Error {
	handler, err := handlerFor(ToolType(toolType), def.Name)
	if err != nil {
		return err
	}

	def.IsDynamic = true
	if len(schemaJSON) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(schemaJSON, &schema); err != nil {
			return errs.InvalidArgumentf("inputSchema is not valid JSON: %v", err)
		}
		def.InputSchema = schema
	}
	if def.InputSchema == nil {
		def.InputSchema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return g.Registry.Register(def, handler)
}

// Unregister removes a dynamically registered tool, returning whether
// it was found.
func (g *Gate) Unregister(name string) (bool, *errs.Error) {
	return g.Registry.Unregister(name), nil
}

// handlerFor resolves the concrete handler for a dynamic registration's
// toolType, or an explicit error for the recognized-but-unimplemented
// and unrecognized cases.
func handlerFor(toolType ToolType, name string) (tools.Handler, *errs.Error) {
	switch toolType {
	case ToolTypeEcho:
		return echoHandlerFor(name), nil
	case ToolTypeHealth, ToolTypeAgentProxy:
		return nil, errs.InvalidArgumentf("toolType %q is not implemented for dynamic registration", toolType)
	default:
		return nil, errs.InvalidArgumentf("unrecognized toolType %q", toolType)
	}
}

// echoHandlerFor is the handler installed for a dynamically registered
// tool whose toolType is "echo".
func echoHandlerFor(name string) tools.Handler {
	return func(_ context.Context, arguments map[string]any) (map[string]any, error) {
		return map[string]any{"tool": name, "echo": arguments}, nil
	}
}
