// Ledger (component K): append-only request/message records, dedup by
// requestId, outcome transitions, and status queries. Grounded on
// coreengine/kernel/kernel.go's event-emission-after-every-mutation
// idiom. Duplicates are reported through AppendOutcome and missing
// records through the ok result of the Get* lookups; the ledger returns
// no errors.
package aacp

import (
	"sync"
	"time"
)

// Status is the closed set of request/message outcomes.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusUnknown   Status = "UNKNOWN"
)

// RequestRecord is the data model's Request record.
type RequestRecord struct {
	RequestID     string
	Source        string
	Target        string
	MessageType   MessageType
	Payload       any
	Status        Status
	Timestamp     time.Time
	ExpiresAt     *time.Time
	CompletionRef string
	Error         map[string]any
}

// MessageRecord is the data model's Message record.
type MessageRecord struct {
	MessageID   string
	RequestID   string
	Envelope    Envelope
	Status      Status
	Timestamp   time.Time
	ExpiresAt   *time.Time
	RetryCount  int
	NextRetryAt *time.Time
}

// AppendOutcome is the result of Ledger.Append, per 4.K's normative
// processing order.
type AppendOutcome struct {
	IsDuplicate   bool
	CachedResult  any
	CompletionRef string
	ShouldExecute bool
}

// Ledger is the concrete append-only store.
type Ledger struct {
	mu       sync.Mutex
	messages map[string]*MessageRecord
	requests map[string]*RequestRecord
	now      func() time.Time
	ttl      time.Duration
}

func NewLedger(now func() time.Time, defaultTTL time.Duration) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		messages: make(map[string]*MessageRecord),
		requests: make(map[string]*RequestRecord),
		now:      now,
		ttl:      defaultTTL,
	}
}

// Append implements 4.K's normative processing order.
func (l *Ledger) Append(e Envelope) AppendOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.RequestID != "" {
		if rec, exists := l.requests[e.RequestID]; exists {
			if rec.Status == StatusCompleted {
				return AppendOutcome{IsDuplicate: true, CachedResult: rec.Payload, CompletionRef: rec.CompletionRef, ShouldExecute: false}
			}
			// UNKNOWN or still pending: ignore, do not re-execute.
			return AppendOutcome{IsDuplicate: true, ShouldExecute: false}
		}
	}

	var expiresAt *time.Time
	if l.ttl > 0 {
		t := l.now().Add(l.ttl)
		expiresAt = &t
	}

	l.messages[e.MessageID] = &MessageRecord{
		MessageID: e.MessageID,
		RequestID: e.RequestID,
		Envelope:  e.Clone(),
		Status:    StatusUnknown,
		Timestamp: l.now(),
		ExpiresAt: expiresAt,
	}

	if e.RequestID != "" {
		l.requests[e.RequestID] = &RequestRecord{
			RequestID:   e.RequestID,
			Source:      e.SourceAgentID,
			Target:      e.TargetAgentID,
			MessageType: e.MessageType,
			Payload:     e.Payload,
			Status:      StatusUnknown,
			Timestamp:   l.now(),
			ExpiresAt:   expiresAt,
		}
	}

	return AppendOutcome{IsDuplicate: false, ShouldExecute: true}
}

// MarkCompleted updates the request record first, then its message
// records, per 4.K.
func (l *Ledger) MarkCompleted(requestID string, completionRef string, result any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, ok := l.requests[requestID]; ok {
		rec.Status = StatusCompleted
		rec.CompletionRef = completionRef
		rec.Payload = result
	}
	for _, m := range l.messages {
		if m.RequestID == requestID {
			m.Status = StatusCompleted
		}
	}
}

func (l *Ledger) MarkFailed(requestID string, structuredError map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, ok := l.requests[requestID]; ok {
		rec.Status = StatusFailed
		rec.Error = structuredError
	}
	for _, m := range l.messages {
		if m.RequestID == requestID {
			m.Status = StatusFailed
		}
	}
}

func (l *Ledger) GetByMessageID(messageID string) (MessageRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.messages[messageID]
	if !ok {
		return MessageRecord{}, false
	}
	return *m, true
}

func (l *Ledger) GetByRequestID(requestID string) (RequestRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.requests[requestID]
	if !ok {
		return RequestRecord{}, false
	}
	return *r, true
}

// GetUnacknowledgedMessages returns, for (source,target), messages whose
// status is not COMPLETED, ordered by seq.
func (l *Ledger) GetUnacknowledgedMessages(source, target string) []MessageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []MessageRecord
	for _, m := range l.messages {
		if m.Envelope.SourceAgentID == source && m.Envelope.TargetAgentID == target && m.Status != StatusCompleted {
			out = append(out, *m)
		}
	}
	sortMessagesBySeq(out)
	return out
}

func (l *Ledger) QueryMessagesByStatus(status Status, olderThan *time.Time) []MessageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []MessageRecord
	for _, m := range l.messages {
		if m.Status != status {
			continue
		}
		if olderThan != nil && !m.Timestamp.Before(*olderThan) {
			continue
		}
		out = append(out, *m)
	}
	return out
}

func (l *Ledger) QueryPendingRequests(olderThan *time.Time) []RequestRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []RequestRecord
	for _, r := range l.requests {
		if r.Status == StatusCompleted || r.Status == StatusFailed {
			continue
		}
		if olderThan != nil && !r.Timestamp.Before(*olderThan) {
			continue
		}
		out = append(out, *r)
	}
	return out
}

func sortMessagesBySeq(recs []MessageRecord) {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && recs[j].Envelope.Seq < recs[j-1].Envelope.Seq; j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
}
