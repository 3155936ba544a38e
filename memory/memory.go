// Package memory defines the coordinator's persistence contract
// (component N): the interface the coordinator calls to persist a
// summary of each handled message. The durable implementation
// (PostgreSQL or otherwise) is an external collaborator per the
// module's scope note and is intentionally not provided here -- only
// the contract and a deterministic in-memory adapter used by tests and
// by callers that don't need durability.
//
// Grounded on coreengine/commbus/protocols.go's narrow single-method
// interfaces (Clock, BusLogger) expressing "the concern we actually
// need," and on coreengine/agents/contracts.go's Repository-shaped
// save-then-query interface pattern.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Summary is what the coordinator persists after a message settles.
type Summary struct {
	AgentID       string
	MessageType   string
	SourceAgentID string
	Outcome       string // "completed" | "failed"
	DurationMs    int64
	Timestamp     time.Time
}

// Adapter is the contract the coordinator depends on. Implementations
// must not block the agent processor for long -- Record is called
// synchronously from the per-agent loop's hook path -- and must treat
// ctx cancellation as best-effort (a dropped summary is not fatal to
// message delivery).
type Adapter interface {
	Record(ctx context.Context, s Summary) error
	Query(ctx context.Context, agentID string, limit int) ([]Summary, error)
}

// InMemory is a bounded-per-agent reference Adapter: the most recent
// maxPerAgent summaries are retained, oldest dropped first. It exists
// so the coordinator's optional memory wiring has something real to
// exercise in tests without depending on an external store.
type InMemory struct {
	mu          sync.Mutex
	maxPerAgent int
	byAgent     map[string][]Summary
}

func NewInMemory(maxPerAgent int) *InMemory {
	if maxPerAgent <= 0 {
		maxPerAgent = 100
	}
	return &InMemory{maxPerAgent: maxPerAgent, byAgent: make(map[string][]Summary)}
}

func (m *InMemory) Record(_ context.Context, s Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.byAgent[s.AgentID], s)
	if len(list) > m.maxPerAgent {
		list = list[len(list)-m.maxPerAgent:]
	}
	m.byAgent[s.AgentID] = list
	return nil
}

// Query returns up to limit summaries for agentID, most recent first.
// limit <= 0 means "no limit."
func (m *InMemory) Query(_ context.Context, agentID string, limit int) ([]Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.byAgent[agentID]
	out := make([]Summary, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Adapter = (*InMemory)(nil)
