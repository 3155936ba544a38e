// AACP session manager (component J): per (source,target) ordered
// sequence assignment and cumulative acknowledgment. Grounded on
// coreengine/kernel/kernel.go's per-subsystem map-of-state-guarded-by-
// mutex shape (ProcessTable, etc.) generalized to a pair key.
package aacp

import (
	"fmt"
	"sync"
)

// PairSession holds the per-(source,target) ordering state.
type PairSession struct {
	SourceAgentID string
	TargetAgentID string
	NextSeq       int64
	LastAck       int64

	received map[int64]struct{}
}

type pairKey struct{ source, target string }

func (k pairKey) String() string { return fmt.Sprintf("%s->%s", k.source, k.target) }

// SessionManager maps (source,target) to a PairSession, assigns seqs,
// mints messageIds through its IDMinter, and appends each envelope to
// the ledger.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[pairKey]*PairSession
	ledger   *Ledger
	ids      IDMinter
}

// IDMinter is the narrow id-generation surface the session manager
// needs (mints message/request ids); satisfied by idgen.Generator.
type IDMinter interface {
	NewMessageID() string
	NewRequestID() string
}

func NewSessionManager(ledger *Ledger, ids IDMinter) *SessionManager {
	return &SessionManager{
		sessions: make(map[pairKey]*PairSession),
		ledger:   ledger,
		ids:      ids,
	}
}

func (sm *SessionManager) session(source, target string) *PairSession {
	k := pairKey{source, target}
	s, ok := sm.sessions[k]
	if !ok {
		s = &PairSession{SourceAgentID: source, TargetAgentID: target, NextSeq: 1, LastAck: 0, received: make(map[int64]struct{})}
		sm.sessions[k] = s
	}
	return s
}

// SendMessage mints a fresh messageId, assigns seq = nextSeq++, mints a
// requestId for REQUEST/RESPONSE types when the caller doesn't supply
// one, appends to the ledger, and returns the resulting envelope.
func (sm *SessionManager) SendMessage(source, target string, payload any, msgType MessageType, requestID string, now func() string) Envelope {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s := sm.session(source, target)
	seq := s.NextSeq
	s.NextSeq++

	if requestID == "" && (msgType == Request || msgType == Response) {
		requestID = sm.ids.NewRequestID()
	}

	messageID := sm.ids.NewMessageID()
	env := Envelope{
		MessageID:     messageID,
		RequestID:     requestID,
		SourceAgentID: source,
		TargetAgentID: target,
		Seq:           seq,
		MessageType:   msgType,
		Timestamp:     now(),
		Payload:       deepCopyValue(payload),
		Destination:   DestinationDirect,
	}

	sm.ledger.Append(env)
	return env
}

// AcknowledgeMessage advances lastAck only while seq forms a contiguous
// run starting at lastAck+1; out-of-order seqs are recorded but never
// roll lastAck back.
func (sm *SessionManager) AcknowledgeMessage(source, target string, seq int64) int64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s := sm.session(source, target)
	s.received[seq] = struct{}{}

	for {
		next := s.LastAck + 1
		if _, ok := s.received[next]; !ok {
			break
		}
		s.LastAck = next
		delete(s.received, next)
	}
	return s.LastAck
}

// GetUnacknowledgedMessages delegates to the ledger, keyed by pair.
func (sm *SessionManager) GetUnacknowledgedMessages(source, target string) []MessageRecord {
	return sm.ledger.GetUnacknowledgedMessages(source, target)
}

// Snapshot returns a copy of the pair's current state for inspection.
func (sm *SessionManager) Snapshot(source, target string) PairSession {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s := sm.session(source, target)
	return PairSession{SourceAgentID: s.SourceAgentID, TargetAgentID: s.TargetAgentID, NextSeq: s.NextSeq, LastAck: s.LastAck}
}
