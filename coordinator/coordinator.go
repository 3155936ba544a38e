// Package coordinator implements the agent coordinator (component H): a
// per-agent FIFO queue with cross-agent parallelism, a mutable per-agent
// state map, optional lifecycle hooks, and optional AACP integration.
//
// The one-serial-processor-goroutine-per-agent-draining-a-channel shape
// is grounded on coreengine/kernel/kernel.go's per-process scheduling
// idiom generalized from "one kernel" to "one goroutine per agent id,"
// and the swallow-safe optional-hook-invocation idiom is grounded on
// coreengine/agents/agent.go's emitStarted/emitCompleted ("nil-check,
// never let a hook panic the processor").
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/mcp-runtime/aacp"
	"github.com/jeeves-cluster-organization/mcp-runtime/errs"
	"github.com/jeeves-cluster-organization/mcp-runtime/logging"
	"github.com/jeeves-cluster-organization/mcp-runtime/memory"
)

// Message is what an agent handler receives.
type Message struct {
	Type          string
	Payload       any
	SourceAgentID string
}

// Handler processes one message for an agent, given the agent's id and
// its mutable state map. The coordinator's child logger (agentId,
// messageType, sourceAgentId) is used for its own log lines and is not
// passed to the handler.
type Handler func(ctx context.Context, agentID string, state *State, msg Message) (any, error)

// State is an agent's mutable state map, written from within that
// agent's serial processor. Its own RWMutex guards every access, and
// GetAgentState and the OnStateChange hook read it through Snapshot.
type State struct {
	mu     sync.RWMutex
	values map[string]any
}

func newState() *State { return &State{values: make(map[string]any)} }

func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Snapshot returns a shallow copy safe for a caller outside the
// processor to read (e.g. agent/getState).
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

type pendingInvocation struct {
	msg       Message
	envelope  *aacp.Envelope
	requestID string
	resultCh  chan Result
}

// Result is the outcome of one handled message, delivered on the
// channel SendMessage returns.
type Result struct {
	Value any
	Err   error
}

type agentRecord struct {
	id      string
	handler Handler
	state   *State
	queue   chan pendingInvocation
	done    chan struct{}
}

// Hooks are optional, never mutate coordinator state directly, and their
// panics/errors are swallowed with a warn log so a misbehaving hook
// cannot corrupt the processor loop.
type Hooks struct {
	OnMessageReceived  func(agentID string, msg Message)
	OnMessageCompleted func(agentID string, msg Message, durationMs int64)
	OnMessageFailed    func(agentID string, msg Message, err error, durationMs int64)
	OnStateChange      func(agentID string, state map[string]any)
}

// AACPIntegration bundles the optional session manager + ledger wiring
// described in 4.H.
type AACPIntegration struct {
	Sessions *aacp.SessionManager
	Ledger   *aacp.Ledger
	Now      func() string
}

// Coordinator is the concrete agent coordinator.
type Coordinator struct {
	mu         sync.RWMutex
	agents     map[string]*agentRecord
	logger     logging.Logger
	hooks      Hooks
	aacp       *AACPIntegration
	memory     memory.Adapter
	queueDepth int
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

func WithHooks(h Hooks) Option { return func(c *Coordinator) { c.hooks = h } }
func WithAACP(integration *AACPIntegration) Option {
	return func(c *Coordinator) { c.aacp = integration }
}

// WithMemory wires the coordinator memory adapter contract (component
// N); the coordinator emits a best-effort summary after every settled
// message. A nil/unset adapter disables this entirely.
func WithMemory(adapter memory.Adapter) Option {
	return func(c *Coordinator) { c.memory = adapter }
}

// WithQueueDepth bounds each agent's pending-invocation queue. The base
// spec leaves agent queues unbounded (open question #3); SPEC_FULL.md
// §13 resolves it with a configurable bound defaulting to 1024,
// surfacing RESOURCE_EXHAUSTED on overflow.
func WithQueueDepth(n int) Option { return func(c *Coordinator) { c.queueDepth = n } }

func New(logger logging.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		agents:     make(map[string]*agentRecord),
		logger:     logger,
		queueDepth: 1024,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterAgent registers id with handler. A duplicate id fails with a
// descriptive error logged at warn.
func (c *Coordinator) RegisterAgent(id string, handler Handler) *errs.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.agents[id]; exists {
		if c.logger != nil {
			c.logger.Warn("duplicate agent registration rejected", "agentId", id)
		}
		return errs.InvalidArgumentf("agent %q is already registered", id)
	}

	rec := &agentRecord{
		id:      id,
		handler: handler,
		state:   newState(),
		queue:   make(chan pendingInvocation, c.queueDepth),
		done:    make(chan struct{}),
	}
	c.agents[id] = rec
	go c.processLoop(rec)
	return nil
}

// UnregisterAgent returns whether the agent existed.
func (c *Coordinator) UnregisterAgent(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, exists := c.agents[id]
	if !exists {
		return false
	}
	close(rec.done)
	delete(c.agents, id)
	return true
}

// processLoop is the single serial processor draining one agent's FIFO
// queue; different agents' loops run concurrently and never interleave
// with each other's state.
func (c *Coordinator) processLoop(rec *agentRecord) {
	for {
		select {
		case inv := <-rec.queue:
			c.process(rec, inv)
		case <-rec.done:
			return
		}
	}
}

func (c *Coordinator) process(rec *agentRecord, inv pendingInvocation) {
	c.safeHook(func() {
		if c.hooks.OnMessageReceived != nil {
			c.hooks.OnMessageReceived(rec.id, inv.msg)
		}
	})

	if inv.envelope != nil && c.aacp != nil {
		c.aacp.Sessions.AcknowledgeMessage(inv.envelope.SourceAgentID, inv.envelope.TargetAgentID, inv.envelope.Seq)
	}

	childLogger := c.logger
	if childLogger != nil {
		childLogger = childLogger.Bind("agentId", rec.id, "messageType", inv.msg.Type, "sourceAgentId", inv.msg.SourceAgentID)
	}

	start := time.Now()
	value, err := rec.handler(context.Background(), rec.id, rec.state, inv.msg)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		if inv.requestID != "" && c.aacp != nil {
			c.aacp.Ledger.MarkFailed(inv.requestID, map[string]any{"message": err.Error()})
		}
		if childLogger != nil {
			childLogger.Warn("agent handler failed", "durationMs", duration, "error", err.Error())
		}
		c.safeHook(func() {
			if c.hooks.OnMessageFailed != nil {
				c.hooks.OnMessageFailed(rec.id, inv.msg, err, duration)
			}
		})
		c.recordSummary(rec.id, inv.msg, "failed", duration)
		inv.resultCh <- Result{Err: err}
		return
	}

	if inv.requestID != "" && c.aacp != nil {
		c.aacp.Ledger.MarkCompleted(inv.requestID, "", value)
	}

	c.safeHook(func() {
		if c.hooks.OnMessageCompleted != nil {
			c.hooks.OnMessageCompleted(rec.id, inv.msg, duration)
		}
		if c.hooks.OnStateChange != nil {
			c.hooks.OnStateChange(rec.id, rec.state.Snapshot())
		}
	})

	c.recordSummary(rec.id, inv.msg, "completed", duration)
	inv.resultCh <- Result{Value: value}
}

// recordSummary emits a best-effort summary to the memory adapter.
// Failures are swallowed with a warn log -- persistence never blocks
// or fails message delivery.
func (c *Coordinator) recordSummary(agentID string, msg Message, outcome string, durationMs int64) {
	if c.memory == nil {
		return
	}
	err := c.memory.Record(context.Background(), memory.Summary{
		AgentID:       agentID,
		MessageType:   msg.Type,
		SourceAgentID: msg.SourceAgentID,
		Outcome:       outcome,
		DurationMs:    durationMs,
		Timestamp:     time.Now(),
	})
	if err != nil && c.logger != nil {
		c.logger.Warn("memory adapter failed to record summary", "agentId", agentID, "error", err.Error())
	}
}

func (c *Coordinator) safeHook(fn func()) {
	defer func() {
		if r := recover(); r != nil && c.logger != nil {
			c.logger.Warn("lifecycle hook panicked, swallowed", "recover", fmt.Sprint(r))
		}
	}()
	fn()
}

// SendMessage enqueues msg for targetID and returns a channel the caller
// can receive the eventual result from. If AACP integration is
// configured, the AACP side effects (session open/send, ledger append)
// happen here, before enqueue; their failures are non-fatal (logged at
// warn) and do not block delivery.
func (c *Coordinator) SendMessage(sourceID, targetID string, msg Message) (<-chan Result, *errs.Error) {
	c.mu.RLock()
	rec, exists := c.agents[targetID]
	c.mu.RUnlock()
	if !exists {
		return nil, errs.NotFoundf("agent %q is not registered", targetID)
	}

	var envelope *aacp.Envelope
	var requestID string
	if c.aacp != nil {
		func() {
			defer func() {
				if r := recover(); r != nil && c.logger != nil {
					c.logger.Warn("aacp integration panicked on enqueue, continuing without it", "recover", fmt.Sprint(r))
				}
			}()
			now := c.aacp.Now
			if now == nil {
				now = func() string { return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00") }
			}
			env := c.aacp.Sessions.SendMessage(sourceID, targetID, msg.Payload, aacp.Request, "", now)
			envelope = &env
			requestID = env.RequestID
		}()
	}

	inv := pendingInvocation{msg: msg, envelope: envelope, requestID: requestID, resultCh: make(chan Result, 1)}
	select {
	case rec.queue <- inv:
		return inv.resultCh, nil
	default:
		return nil, errs.ResourceExhaustedf("agent %q queue is at capacity", targetID)
	}
}

// ListAgents returns agent ids sorted lexicographically.
func (c *Coordinator) ListAgents() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.agents))
	for id := range c.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetAgentState returns a snapshot of the live state map, or ok=false if
// the agent is unregistered.
func (c *Coordinator) GetAgentState(id string) (map[string]any, bool) {
	c.mu.RLock()
	rec, exists := c.agents[id]
	c.mu.RUnlock()
	if !exists {
		return nil, false
	}
	return rec.state.Snapshot(), true
}
