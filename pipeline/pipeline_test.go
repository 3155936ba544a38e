package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/mcp-runtime/errs"
	"github.com/jeeves-cluster-organization/mcp-runtime/idgen"
	"github.com/jeeves-cluster-organization/mcp-runtime/logging"
	"github.com/jeeves-cluster-organization/mcp-runtime/resources"
	"github.com/jeeves-cluster-organization/mcp-runtime/tools"
)

func newTestPipeline(t *testing.T, maxConcurrent int, timeout time.Duration) *Pipeline {
	t.Helper()
	reg := tools.NewRegistry(nil)
	require.Nil(t, reg.Register(tools.Definition{
		Name:        "echo",
		Description: "echoes message",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"message": map[string]any{"type": "string"}},
			"required":   []any{"message"},
		},
	}, func(_ context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"message": args["message"]}, nil
	}))

	return &Pipeline{
		Registry:       reg,
		Resources:      resources.NewManager(maxConcurrent, 1<<20, resources.DefaultThresholds()),
		IDs:            idgen.NewProduction(),
		Logger:         logging.New(logging.WithWriter(discard{})),
		DefaultTimeout: timeout,
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestCallEchoSuccess(t *testing.T) {
	p := newTestPipeline(t, 2, time.Second)
	resp := p.Call(context.Background(), CallRequest{Name: "echo", Arguments: map[string]any{"message": "hi"}}, 1)

	require.Equal(t, Success, resp.Outcome)
	assert.Equal(t, "hi", resp.Result["message"])
}

func TestCallValidationFailureIsToolError(t *testing.T) {
	p := newTestPipeline(t, 2, time.Second)
	resp := p.Call(context.Background(), CallRequest{Name: "echo", Arguments: map[string]any{}}, 1)

	require.Equal(t, ToolError, resp.Outcome)
	require.NotNil(t, resp.ToolContent)
	assert.True(t, resp.ToolContent.IsError)
}

func TestCallUnknownMethodIsRPCError(t *testing.T) {
	p := newTestPipeline(t, 2, time.Second)
	resp := p.Call(context.Background(), CallRequest{Name: "missing"}, 7)

	require.NotNil(t, resp.RPCError)
	assert.Equal(t, errs.RPCMethodNotFound, resp.RPCError.Error.Code)
}

func TestCallNonObjectArgumentsIsInvalidParams(t *testing.T) {
	p := newTestPipeline(t, 2, time.Second)
	resp := p.Call(context.Background(), CallRequest{Name: "echo", Arguments: []any{"oops"}}, 7)

	require.NotNil(t, resp.RPCError)
	assert.Equal(t, errs.RPCInvalidParams, resp.RPCError.Error.Code)
}

func TestConcurrencyAdmission(t *testing.T) {
	reg := tools.NewRegistry(nil)
	var concurrent atomic.Int32
	var maxSeen atomic.Int32
	require.Nil(t, reg.Register(tools.Definition{
		Name: "slow", Description: "d",
		InputSchema: map[string]any{"type": "object"},
	}, func(_ context.Context, _ map[string]any) (map[string]any, error) {
		n := concurrent.Add(1)
		for {
			cur := maxSeen.Load()
			if n <= cur || maxSeen.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		concurrent.Add(-1)
		return map[string]any{}, nil
	}))

	p := &Pipeline{
		Registry:       reg,
		Resources:      resources.NewManager(2, 1<<20, resources.DefaultThresholds()),
		IDs:            idgen.NewProduction(),
		Logger:         logging.New(logging.WithWriter(discard{})),
		DefaultTimeout: time.Second,
	}

	var wg sync.WaitGroup
	results := make([]*CallResponse, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Call(context.Background(), CallRequest{Name: "slow", Arguments: map[string]any{}}, i)
		}(i)
	}
	wg.Wait()

	successCount, exhaustedCount := 0, 0
	for _, r := range results {
		if r.Outcome == Success {
			successCount++
		} else if r.Outcome == ToolError {
			exhaustedCount++
		}
	}
	assert.Equal(t, 2, successCount)
	assert.Equal(t, 1, exhaustedCount)
	assert.LessOrEqual(t, int(maxSeen.Load()), 2)
}

func TestTimeoutProducesTimeoutErrorAndReleasesSlotLater(t *testing.T) {
	reg := tools.NewRegistry(nil)
	handlerDone := make(chan struct{})
	require.Nil(t, reg.Register(tools.Definition{
		Name: "slow", Description: "d",
		InputSchema: map[string]any{"type": "object"},
	}, func(_ context.Context, _ map[string]any) (map[string]any, error) {
		time.Sleep(150 * time.Millisecond)
		close(handlerDone)
		return map[string]any{}, nil
	}))

	mgr := resources.NewManager(1, 1<<20, resources.DefaultThresholds())
	p := &Pipeline{
		Registry:       reg,
		Resources:      mgr,
		IDs:            idgen.NewProduction(),
		Logger:         logging.New(logging.WithWriter(discard{})),
		DefaultTimeout: 20 * time.Millisecond,
	}

	start := time.Now()
	resp := p.Call(context.Background(), CallRequest{Name: "slow", Arguments: map[string]any{}}, 1)
	elapsed := time.Since(start)

	require.Equal(t, ToolError, resp.Outcome)
	assert.Less(t, elapsed, 100*time.Millisecond)

	<-handlerDone
	time.Sleep(20 * time.Millisecond)
	telemetry := mgr.GetTelemetry()
	assert.EqualValues(t, 0, telemetry.ConcurrentExecutions)
}
