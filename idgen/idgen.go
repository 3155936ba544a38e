// Package idgen provides the two identifier/clock implementations
// behind one interface (component C): a production generator backed by
// google/uuid and the wall clock, grounded on the teacher's pervasive
// use of uuid.New() for envelope and process ids
// (coreengine/envelope/generic.go, coreengine/kernel/kernel.go), and a
// deterministic generator used exclusively by the test suite, grounded
// on commbus/protocols.go's Clock interface shape
// (Now/NowUTC/MonotonicMS).
package idgen

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Generator mints ids and reports time. uuid is used only behind this
// interface; the logger, coordinator, and AACP ledger/retransmitter read
// time.Now directly rather than through it.
type Generator interface {
	NewRunID() string
	NewCorrelationID() string
	NewMessageID() string
	NewRequestID() string
	Now() time.Time
}

// Production is the default Generator: monotonic, time-ordered unique
// ids via uuid.NewV7() (RFC 9562 version 7 -- a 48-bit Unix-millisecond
// timestamp prefix plus random tail, so ids sort lexicographically by
// mint time) and the system wall clock.
type Production struct{}

func NewProduction() Production { return Production{} }

func newV7() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func (Production) NewRunID() string         { return newV7() }
func (Production) NewCorrelationID() string { return newV7() }
func (Production) NewMessageID() string     { return newV7() }
func (Production) NewRequestID() string     { return newV7() }
func (Production) Now() time.Time           { return time.Now() }

var _ Generator = Production{}

// Deterministic is a seeded-sequence, fixed-clock Generator used
// exclusively to make the test suite reproducible, per 4.C.
type Deterministic struct {
	prefix  string
	counter atomic.Uint64
	clock   time.Time
}

// NewDeterministic builds a Deterministic generator. Every minted id is
// "<prefix>-<n>" with n starting at 1; Now() always returns the fixed
// clock value supplied (or the Unix epoch if zero).
func NewDeterministic(prefix string, fixedClock time.Time) *Deterministic {
	if fixedClock.IsZero() {
		fixedClock = time.Unix(0, 0).UTC()
	}
	return &Deterministic{prefix: prefix, clock: fixedClock}
}

func (d *Deterministic) next() string {
	n := d.counter.Add(1)
	return fmt.Sprintf("%s-%d", d.prefix, n)
}

func (d *Deterministic) NewRunID() string        { return d.next() }
func (d *Deterministic) NewCorrelationID() string { return d.next() }
func (d *Deterministic) NewMessageID() string     { return d.next() }
func (d *Deterministic) NewRequestID() string     { return d.next() }
func (d *Deterministic) Now() time.Time           { return d.clock }

// Advance moves the fixed clock forward by delta, for tests that need to
// observe elapsed-time-dependent behavior (e.g. backoff, TTL expiry)
// without sleeping.
func (d *Deterministic) Advance(delta time.Duration) {
	d.clock = d.clock.Add(delta)
}

var _ Generator = (*Deterministic)(nil)
