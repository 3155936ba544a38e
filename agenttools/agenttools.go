// Package agenttools implements the agent tools façade (component O):
// three tool-registry entries (agent/sendMessage, agent/list,
// agent/getState) that surface the coordinator through the tool
// invocation pipeline, with size-bounded responses for list/getState.
//
// Grounded on coreengine/agents/agent.go's thin-wrapper-over-the-real-
// subsystem pattern (a tool handler's job is translation and bounds
// checking, not business logic) and on coreengine/kernel/types.go's
// truncate-and-flag idiom for oversized responses.
package agenttools

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/jeeves-cluster-organization/mcp-runtime/coordinator"
	"github.com/jeeves-cluster-organization/mcp-runtime/errs"
	"github.com/jeeves-cluster-organization/mcp-runtime/logging"
	"github.com/jeeves-cluster-organization/mcp-runtime/resources"
	"github.com/jeeves-cluster-organization/mcp-runtime/tools"
	"github.com/jeeves-cluster-organization/mcp-runtime/typeutil"
)

// Facade bundles the dependencies the three handlers share.
type Facade struct {
	Coordinator   *coordinator.Coordinator
	Resources     *resources.Manager
	MaxStateBytes int
}

// Registration pairs a tool definition with its handler, ready to pass
// to tools.Registry.Register.
type Registration struct {
	Def     tools.Definition
	Handler tools.Handler
}

// Definitions returns the three tool registrations.
func (f *Facade) Definitions() []Registration {
	return []Registration{
		{sendMessageDefinition(), f.handleSendMessage},
		{listDefinition(), f.handleList},
		{getStateDefinition(), f.handleGetState},
	}
}

func sendMessageDefinition() tools.Definition {
	return tools.Definition{
		Name:        "agent/sendMessage",
		Description: "Send a message to a registered agent and await its result.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"targetAgentId": map[string]any{"type": "string"},
				"message": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type":    map[string]any{"type": "string"},
						"payload": map[string]any{},
					},
					"required": []any{"type"},
				},
			},
			"required": []any{"targetAgentId", "message"},
		},
	}
}

func listDefinition() tools.Definition {
	return tools.Definition{
		Name:        "agent/list",
		Description: "List registered agent ids.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

func getStateDefinition() tools.Definition {
	return tools.Definition{
		Name:        "agent/getState",
		Description: "Fetch a registered agent's mutable state snapshot.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"agentId": map[string]any{"type": "string"}},
			"required":   []any{"agentId"},
		},
	}
}

type messageArg struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func (f *Facade) handleSendMessage(ctx context.Context, args map[string]any) (map[string]any, error) {
	targetAgentID, _ := typeutil.SafeString(args["targetAgentId"])
	rawMessage, _ := typeutil.SafeMapStringAny(args["message"])

	if perr := f.Resources.ValidatePayloadSize(rawMessage); perr != nil {
		return nil, perr
	}

	var msg messageArg
	encoded, _ := json.Marshal(rawMessage)
	_ = json.Unmarshal(encoded, &msg)

	resultCh, sendErr := f.Coordinator.SendMessage("client", targetAgentID, coordinator.Message{
		Type:    msg.Type,
		Payload: msg.Payload,
	})
	if sendErr != nil {
		if sendErr.Code == errs.NotFound {
			return nil, sendErr
		}
		return nil, errs.Internalf("%s", sendErr.Message)
	}

	select {
	case res := <-resultCh:
		if res.Err != nil {
			return nil, errs.Internalf("%v", res.Err)
		}
		if m, ok := res.Value.(map[string]any); ok {
			return m, nil
		}
		return map[string]any{"result": res.Value}, nil
	case <-ctx.Done():
		return nil, errs.Timeoutf("agent/sendMessage cancelled before the handler settled")
	}
}

func (f *Facade) handleList(_ context.Context, _ map[string]any) (map[string]any, error) {
	ids := f.Coordinator.ListAgents()

	full := map[string]any{"agentIds": ids, "truncated": false}
	if f.Resources.ValidatePayloadSize(full) == nil {
		return full, nil
	}

	lo, hi := 0, len(ids)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		candidate := map[string]any{"agentIds": ids[:mid], "truncated": true}
		if f.Resources.ValidatePayloadSize(candidate) == nil {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return map[string]any{"agentIds": ids[:lo], "truncated": true}, nil
}

func (f *Facade) handleGetState(_ context.Context, args map[string]any) (map[string]any, error) {
	agentID, _ := typeutil.SafeString(args["agentId"])
	state, ok := f.Coordinator.GetAgentState(agentID)
	if !ok {
		return nil, errs.NotFoundf("agent %q is not registered", agentID)
	}

	redacted, _ := logging.Redact(state).(map[string]any)

	full := map[string]any{"agentId": agentID, "state": redacted, "truncated": false, "keysOnly": false}
	if f.withinLimit(full) {
		return full, nil
	}

	keys := sortedKeys(redacted)
	withKeys := map[string]any{"agentId": agentID, "keys": keys, "truncated": false, "keysOnly": true}
	if f.withinLimit(withKeys) {
		return withKeys, nil
	}

	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		candidate := map[string]any{"agentId": agentID, "keys": keys[:mid], "truncated": true, "keysOnly": true}
		if f.withinLimit(candidate) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return map[string]any{"agentId": agentID, "keys": keys[:lo], "truncated": true, "keysOnly": true}, nil
}

func (f *Facade) withinLimit(v map[string]any) bool {
	if f.MaxStateBytes <= 0 {
		return f.Resources.ValidatePayloadSize(v) == nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return len(encoded) <= f.MaxStateBytes
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
