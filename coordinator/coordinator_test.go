package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/mcp-runtime/errs"
	"github.com/jeeves-cluster-organization/mcp-runtime/logging"
	"github.com/jeeves-cluster-organization/mcp-runtime/memory"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func quietLogger() logging.Logger {
	return logging.New(logging.WithWriter(discard{}))
}

func TestAgentFIFOOrdering(t *testing.T) {
	c := New(quietLogger())

	var mu sync.Mutex
	var order []string
	require.Nil(t, c.RegisterAgent("a1", func(_ context.Context, _ string, _ *State, msg Message) (any, error) {
		mu.Lock()
		order = append(order, msg.Payload.(string))
		mu.Unlock()
		return nil, nil
	}))

	var chans []<-chan Result
	for i := 0; i < 5; i++ {
		ch, err := c.SendMessage("client", "a1", Message{Type: "m", Payload: []string{"m1", "m2", "m3", "m4", "m5"}[i]})
		require.Nil(t, err)
		chans = append(chans, ch)
	}
	for _, ch := range chans {
		<-ch
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, order)
}

func TestCrossAgentParallelism(t *testing.T) {
	c := New(quietLogger())
	start := make(chan struct{})
	release := make(chan struct{})

	handler := func(_ context.Context, _ string, _ *State, _ Message) (any, error) {
		start <- struct{}{}
		<-release
		return nil, nil
	}
	require.Nil(t, c.RegisterAgent("a1", handler))
	require.Nil(t, c.RegisterAgent("a2", handler))

	_, err1 := c.SendMessage("client", "a1", Message{Type: "m"})
	_, err2 := c.SendMessage("client", "a2", Message{Type: "m"})
	require.Nil(t, err1)
	require.Nil(t, err2)

	<-start
	<-start
	close(release)
}

func TestRegisterAgentRejectsDuplicate(t *testing.T) {
	c := New(quietLogger())
	noop := func(_ context.Context, _ string, _ *State, _ Message) (any, error) { return nil, nil }
	require.Nil(t, c.RegisterAgent("a1", noop))

	err := c.RegisterAgent("a1", noop)
	require.NotNil(t, err)
	assert.Equal(t, errs.InvalidArgument, err.Code)
}

func TestSendMessageToUnregisteredAgentIsNotFound(t *testing.T) {
	c := New(quietLogger())
	_, err := c.SendMessage("client", "ghost", Message{Type: "m"})
	require.NotNil(t, err)
	assert.Equal(t, errs.NotFound, err.Code)
}

func TestListAgentsSortedLexicographically(t *testing.T) {
	c := New(quietLogger())
	noop := func(_ context.Context, _ string, _ *State, _ Message) (any, error) { return nil, nil }
	require.Nil(t, c.RegisterAgent("zebra", noop))
	require.Nil(t, c.RegisterAgent("alpha", noop))

	assert.Equal(t, []string{"alpha", "zebra"}, c.ListAgents())
}

func TestHooksFireOnCompletionAndFailure(t *testing.T) {
	var completedCalled, failedCalled bool
	var mu sync.Mutex

	c := New(quietLogger(), WithHooks(Hooks{
		OnMessageCompleted: func(_ string, _ Message, _ int64) { mu.Lock(); completedCalled = true; mu.Unlock() },
		OnMessageFailed:    func(_ string, _ Message, _ error, _ int64) { mu.Lock(); failedCalled = true; mu.Unlock() },
	}))

	require.Nil(t, c.RegisterAgent("ok", func(_ context.Context, _ string, _ *State, _ Message) (any, error) {
		return "done", nil
	}))
	require.Nil(t, c.RegisterAgent("bad", func(_ context.Context, _ string, _ *State, _ Message) (any, error) {
		return nil, assertError{}
	}))

	ch1, _ := c.SendMessage("client", "ok", Message{Type: "m"})
	<-ch1
	ch2, _ := c.SendMessage("client", "bad", Message{Type: "m"})
	<-ch2

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, completedCalled)
	assert.True(t, failedCalled)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestMemoryAdapterReceivesSummaryOnCompletionAndFailure(t *testing.T) {
	mem := memory.NewInMemory(10)
	c := New(quietLogger(), WithMemory(mem))

	require.Nil(t, c.RegisterAgent("ok", func(_ context.Context, _ string, _ *State, _ Message) (any, error) {
		return "done", nil
	}))
	require.Nil(t, c.RegisterAgent("bad", func(_ context.Context, _ string, _ *State, _ Message) (any, error) {
		return nil, assertError{}
	}))

	ch1, _ := c.SendMessage("client", "ok", Message{Type: "m"})
	<-ch1
	ch2, _ := c.SendMessage("client", "bad", Message{Type: "m"})
	<-ch2

	time.Sleep(10 * time.Millisecond)

	okSummaries, err := mem.Query(context.Background(), "ok", 0)
	require.NoError(t, err)
	require.Len(t, okSummaries, 1)
	assert.Equal(t, "completed", okSummaries[0].Outcome)

	badSummaries, err := mem.Query(context.Background(), "bad", 0)
	require.NoError(t, err)
	require.Len(t, badSummaries, 1)
	assert.Equal(t, "failed", badSummaries[0].Outcome)
}
