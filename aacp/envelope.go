// Package aacp implements the Agent-to-Agent Communication Protocol:
// envelope encoding (component I), the per-pair session manager
// (component J), the append-only ledger (component K), and the
// retransmitter (component L).
//
// The envelope's deep-copy-on-clone discipline and its lenient
// encode/decode of JSON-unmarshaled shapes are grounded on
// coreengine/envelope/generic.go's Clone()/ToStateDict()/FromStateDict()
// family (deepCopyValue's recursive type switch over
// map[string]any/[]any/[]string/default is reused almost verbatim for
// payload handling here).
package aacp

import (
	"encoding/json"
	"time"

	"github.com/jeeves-cluster-organization/mcp-runtime/errs"
)

// MessageType is one of the three envelope kinds.
type MessageType string

const (
	Request  MessageType = "REQUEST"
	Response MessageType = "RESPONSE"
	Event    MessageType = "EVENT"
)

// Destination models the envelope's destination field. Only Direct and
// Reply are serviced by this implementation (open question #2 in
// SPEC_FULL.md §13); Broadcast/Multicast/Coordinator round-trip but are
// not acted upon.
type Destination string

const (
	DestinationDirect      Destination = "direct"
	DestinationReply       Destination = "reply"
	DestinationBroadcast   Destination = "broadcast"
	DestinationMulticast   Destination = "multicast"
	DestinationCoordinator Destination = "coordinator"
)

// Envelope is immutable once constructed; every mutating-looking
// operation in this package (Clone, WithAck) returns a new value.
type Envelope struct {
	MessageID     string      `json:"messageId"`
	RequestID     string      `json:"requestId,omitempty"`
	SourceAgentID string      `json:"sourceAgentId"`
	TargetAgentID string      `json:"targetAgentId"`
	Seq           int64       `json:"seq"`
	Ack           *int64      `json:"ack,omitempty"`
	MessageType   MessageType `json:"messageType"`
	Timestamp     string      `json:"timestamp"`
	Payload       any         `json:"payload"`
	Destination   Destination `json:"destination,omitempty"`

	CorrelationID string `json:"correlationId,omitempty"`
	CausationID   string `json:"causationId,omitempty"`
	TTL           *int64 `json:"ttl,omitempty"`
	Priority      *int   `json:"priority,omitempty"`
	Signature     string `json:"signature,omitempty"`
}

// New constructs an envelope with an ISO-8601 millisecond-precision
// timestamp.
func New(messageID, requestID, source, target string, seq int64, msgType MessageType, payload any, now time.Time) Envelope {
	return Envelope{
		MessageID:     messageID,
		RequestID:     requestID,
		SourceAgentID: source,
		TargetAgentID: target,
		Seq:           seq,
		MessageType:   msgType,
		Timestamp:     now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Payload:       deepCopyValue(payload),
		Destination:   DestinationDirect,
	}
}

// WithAck returns a copy of e with Ack set to ack, leaving e untouched.
func (e Envelope) WithAck(ack int64) Envelope {
	clone := e.Clone()
	clone.Ack = &ack
	return clone
}

// Clone deep-copies e, including its opaque Payload, per the teacher's
// envelope Clone() discipline.
func (e Envelope) Clone() Envelope {
	clone := e
	if e.Ack != nil {
		ack := *e.Ack
		clone.Ack = &ack
	}
	if e.TTL != nil {
		ttl := *e.TTL
		clone.TTL = &ttl
	}
	if e.Priority != nil {
		pr := *e.Priority
		clone.Priority = &pr
	}
	clone.Payload = deepCopyValue(e.Payload)
	return clone
}

// Encode produces the canonical wire form: stable field ordering via
// struct-tag-driven json.Marshal, absent fields omitted via omitempty.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode validates required fields and enforces field types. Failures
// are INVALID_ARGUMENT at protocol boundaries per 4.I.
func Decode(data []byte) (Envelope, *errs.Error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, errs.InvalidArgumentf("envelope decode failed: %v", err)
	}
	if e.MessageID == "" {
		return Envelope{}, errs.InvalidArgumentf("envelope missing required field messageId")
	}
	if e.SourceAgentID == "" || e.TargetAgentID == "" {
		return Envelope{}, errs.InvalidArgumentf("envelope missing sourceAgentId/targetAgentId")
	}
	switch e.MessageType {
	case Request, Response, Event:
	default:
		return Envelope{}, errs.InvalidArgumentf("envelope has unrecognized messageType %q", e.MessageType)
	}
	if e.Seq < 0 {
		return Envelope{}, errs.InvalidArgumentf("envelope seq must be non-negative, got %d", e.Seq)
	}
	return e, nil
}

// deepCopyValue recursively copies JSON-shaped values, mirroring
// coreengine/envelope/generic.go's deepCopyValue type switch so the
// ledger can safely retain envelopes without aliasing caller-owned
// payload maps/slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			out[k] = deepCopyValue(sub)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = deepCopyValue(sub)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}
