package agenttools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/mcp-runtime/coordinator"
	"github.com/jeeves-cluster-organization/mcp-runtime/errs"
	"github.com/jeeves-cluster-organization/mcp-runtime/logging"
	"github.com/jeeves-cluster-organization/mcp-runtime/resources"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func quietLogger() logging.Logger {
	return logging.New(logging.WithWriter(discardWriter{}))
}

func newFacade(t *testing.T, maxPayloadBytes int) (*Facade, *coordinator.Coordinator) {
	t.Helper()
	c := coordinator.New(quietLogger())
	f := &Facade{
		Coordinator: c,
		Resources:   resources.NewManager(10, maxPayloadBytes, resources.DefaultThresholds()),
	}
	return f, c
}

func TestSendMessageRoundTrip(t *testing.T) {
	f, c := newFacade(t, 1024*1024)
	require.Nil(t, c.RegisterAgent("a1", func(_ context.Context, _ string, _ *coordinator.State, msg coordinator.Message) (any, error) {
		return map[string]any{"echo": msg.Payload}, nil
	}))

	result, err := f.handleSendMessage(context.Background(), map[string]any{
		"targetAgentId": "a1",
		"message":       map[string]any{"type": "greet", "payload": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", result["echo"])
}

func TestSendMessageUnregisteredIsNotFound(t *testing.T) {
	f, _ := newFacade(t, 1024*1024)
	_, err := f.handleSendMessage(context.Background(), map[string]any{
		"targetAgentId": "ghost",
		"message":       map[string]any{"type": "greet"},
	})
	require.Error(t, err)
	var structured *errs.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, errs.NotFound, structured.Code)
}

func TestListNotTruncatedWhenWithinLimit(t *testing.T) {
	f, c := newFacade(t, 1024*1024)
	noop := func(_ context.Context, _ string, _ *coordinator.State, _ coordinator.Message) (any, error) { return nil, nil }
	require.Nil(t, c.RegisterAgent("a1", noop))
	require.Nil(t, c.RegisterAgent("a2", noop))

	out, err := f.handleList(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, out["truncated"].(bool))
	assert.Len(t, out["agentIds"], 2)
}

func TestListTruncatesWhenOverLimit(t *testing.T) {
	f, c := newFacade(t, 45)
	noop := func(_ context.Context, _ string, _ *coordinator.State, _ coordinator.Message) (any, error) { return nil, nil }
	for _, id := range []string{"alpha", "bravo", "charlie", "delta", "echo"} {
		require.Nil(t, c.RegisterAgent(id, noop))
	}

	out, err := f.handleList(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, out["truncated"].(bool))
	assert.Less(t, len(out["agentIds"].([]string)), 5)
}

func TestGetStateNotFound(t *testing.T) {
	f, _ := newFacade(t, 1024*1024)
	_, err := f.handleGetState(context.Background(), map[string]any{"agentId": "ghost"})
	require.Error(t, err)
	var structured *errs.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, errs.NotFound, structured.Code)
}

func TestGetStateRedactsSensitiveKeys(t *testing.T) {
	f, c := newFacade(t, 1024*1024)
	release := make(chan struct{})
	require.Nil(t, c.RegisterAgent("a1", func(_ context.Context, _ string, state *coordinator.State, _ coordinator.Message) (any, error) {
		state.Set("token", "super-secret")
		state.Set("name", "visible")
		close(release)
		return nil, nil
	}))
	_, sendErr := c.SendMessage("client", "a1", coordinator.Message{Type: "init"})
	require.Nil(t, sendErr)
	<-release

	out, err := f.handleGetState(context.Background(), map[string]any{"agentId": "a1"})
	require.NoError(t, err)
	state := out["state"].(map[string]any)
	assert.Equal(t, "[REDACTED]", state["token"])
	assert.Equal(t, "visible", state["name"])
}

func TestGetStateFallsBackToKeysOnlyWhenOversized(t *testing.T) {
	f, c := newFacade(t, 1024*1024)
	f.MaxStateBytes = 60
	release := make(chan struct{})
	require.Nil(t, c.RegisterAgent("a1", func(_ context.Context, _ string, state *coordinator.State, _ coordinator.Message) (any, error) {
		state.Set("alpha", "a long value that pushes this over the byte budget")
		state.Set("bravo", "another long value that also pushes this well over budget")
		close(release)
		return nil, nil
	}))
	_, sendErr := c.SendMessage("client", "a1", coordinator.Message{Type: "init"})
	require.Nil(t, sendErr)
	<-release

	out, err := f.handleGetState(context.Background(), map[string]any{"agentId": "a1"})
	require.NoError(t, err)
	assert.True(t, out["keysOnly"].(bool))
}
