package rpc

import (
	"context"
	"encoding/json"

	"github.com/jeeves-cluster-organization/mcp-runtime/errs"
	"github.com/jeeves-cluster-organization/mcp-runtime/pipeline"
	"github.com/jeeves-cluster-organization/mcp-runtime/tools"
)

// builtinHandler routes the fixed set of methods 4.M names directly:
// initialize, initialized, tools/list, tools/call, and (when an
// AdminGate is configured) admin register/unregister.
func (d *Dispatcher) builtinHandler(method string) (MethodHandler, bool) {
	switch method {
	case "initialize":
		return d.handleInitialize, true
	case "initialized":
		return d.handleInitialized, true
	case "tools/list":
		return d.handleToolsList, true
	case "tools/call":
		return d.handleToolsCall, true
	case "admin/registerTool":
		if d.Admin == nil {
			return nil, false
		}
		return d.handleAdminRegister, true
	case "admin/unregisterTool":
		if d.Admin == nil {
			return nil, false
		}
		return d.handleAdminUnregister, true
	default:
		return nil, false
	}
}

func (d *Dispatcher) handleInitialize(_ context.Context, _ json.RawMessage, _ string, _ any) (any, *errs.Error) {
	if err := d.Session.Initialize(); err != nil {
		return nil, err
	}
	return map[string]any{
		"protocolVersion": d.Init.ProtocolVersion,
		"serverInfo": map[string]any{
			"name":    d.Init.ServerName,
			"version": d.Init.ServerVersion,
		},
		"capabilities": d.Init.Capabilities,
	}, nil
}

func (d *Dispatcher) handleInitialized(_ context.Context, _ json.RawMessage, _ string, _ any) (any, *errs.Error) {
	if err := d.Session.Initialized(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *Dispatcher) handleToolsList(_ context.Context, _ json.RawMessage, _ string, _ any) (any, *errs.Error) {
	defs := d.Registry.List()
	out := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		out = append(out, map[string]any{
			"name":        def.Name,
			"description": def.Description,
			"inputSchema": def.InputSchema,
		})
	}
	return map[string]any{"tools": out}, nil
}

type toolsCallParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, params json.RawMessage, correlationID string, id any) (any, *errs.Error) {
	var p toolsCallParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, errs.InvalidArgumentf("params must be a valid tools/call object: %v", err)
		}
	}

	d.Session.BeginHandler()
	defer d.Session.EndHandler()

	resp := d.Pipeline.Call(ctx, pipeline.CallRequest{
		Name:          p.Name,
		Arguments:     p.Arguments,
		CorrelationID: correlationID,
	}, id)

	if resp.Outcome == pipeline.ProtocolError {
		// The pipeline already built a fully-formed JSON-RPC error; the
		// dispatcher's wrapping in HandleLine only applies to
		// *errs.Error-shaped failures, so surface it via a sentinel
		// carried in Data and unwrapped by the caller.
		return nil, rpcErrorFrom(resp.RPCError)
	}
	if resp.IsError {
		return resp.ToolContent, nil
	}
	return map[string]any{"content": toContentItems(resp.Result), "isError": false}, nil
}

// rpcErrorFrom adapts a pre-built JSON-RPC error (produced inside the
// pipeline, which already knows the numeric code) back into the
// errs.Error shape HandleLine expects, using Data["rpcCode"] to carry
// the original numeric code, which HandleLine prefers over RPCCodeFor's
// lookup table.
func rpcErrorFrom(e *errs.JSONRPCError) *errs.Error {
	code := errs.Internal
	if raw, ok := e.Error.Data["code"].(string); ok {
		code = errs.Code(raw)
	}
	return errs.New(code, e.Error.Message).WithData("rpcCode", e.Error.Code).WithData("correlationId", e.Error.Data["correlationId"])
}

func toContentItems(result map[string]any) []map[string]any {
	if result == nil {
		result = map[string]any{}
	}
	data, _ := json.Marshal(result)
	return []map[string]any{{"type": "text", "text": string(data)}}
}

// adminRegisterParams mirrors §6's admin/registerTool params exactly:
// {name, description, toolType ∈ {echo, health, agentProxy}, version?,
// inputSchema?}.
type adminRegisterParams struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ToolType    string          `json:"toolType"`
	Version     string          `json:"version"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

func (d *Dispatcher) handleAdminRegister(_ context.Context, params json.RawMessage, _ string, _ any) (any, *errs.Error) {
	if err := d.Admin.AuthorizeRegister(d.Session.Transport()); err != nil {
		return nil, err
	}
	var p adminRegisterParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errs.InvalidArgumentf("params must contain name/description/toolType: %v", err)
	}
	def := tools.Definition{Name: p.Name, Description: p.Description, Version: p.Version}
	if err := d.Admin.Register(def, p.ToolType, p.InputSchema); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "toolName": p.Name}, nil
}

type adminUnregisterParams struct {
	Name string `json:"name"`
}

func (d *Dispatcher) handleAdminUnregister(_ context.Context, params json.RawMessage, _ string, _ any) (any, *errs.Error) {
	if err := d.Admin.AuthorizeRegister(d.Session.Transport()); err != nil {
		return nil, err
	}
	var p adminUnregisterParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errs.InvalidArgumentf("params must contain a tool name: %v", err)
	}
	found, err := d.Admin.Unregister(p.Name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "found": found, "toolName": p.Name}, nil
}
