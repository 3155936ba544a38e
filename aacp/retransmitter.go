// AACP retransmitter (component L): an in-memory due-time schedule with
// exponential backoff plus symmetric jitter. Retries are driven by
// explicit ticks (ProcessRetriesOnce), not a background timer, per the
// spec's "automatic background retry workers" Non-goal. Grounded on
// coreengine/kernel/kernel.go's Cleanup()'s explicit-scan-on-demand
// idiom for expiring state without a background goroutine.
package aacp

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// RetryPolicy configures backoff and eligibility.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelayMs     int64
	MaxDelayMs      int64
	Multiplier      float64
	JitterFactor    float64
	RetryableErrors map[string]struct{}
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		BaseDelayMs:  1000,
		MaxDelayMs:   30000,
		Multiplier:   2.0,
		JitterFactor: 0.1,
		RetryableErrors: map[string]struct{}{
			"TIMEOUT": {}, "RESOURCE_EXHAUSTED": {}, "INTERNAL": {},
		},
	}
}

// ShouldRetryError is the policy predicate consulted for FAILED status.
func (p RetryPolicy) ShouldRetryError(code string) bool {
	_, ok := p.RetryableErrors[code]
	return ok
}

type scheduleEntry struct {
	scheduledAt time.Time
	attempt     int
}

// Retransmitter owns the schedule keyed by messageId.
type Retransmitter struct {
	mu       sync.Mutex
	schedule map[string]*scheduleEntry
	policy   RetryPolicy
	now      func() time.Time
	rand     func() float64
}

func NewRetransmitter(policy RetryPolicy, now func() time.Time) *Retransmitter {
	if now == nil {
		now = time.Now
	}
	return &Retransmitter{
		schedule: make(map[string]*scheduleEntry),
		policy:   policy,
		now:      now,
		rand:     rand.Float64,
	}
}

// ScheduleRetry sets scheduledAt = now + delayMs; if messageID is
// already scheduled, increments its attempt counter.
func (r *Retransmitter) ScheduleRetry(messageID string, delayMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.schedule[messageID]
	if exists {
		e.attempt++
		e.scheduledAt = r.now().Add(time.Duration(delayMs) * time.Millisecond)
		return
	}
	r.schedule[messageID] = &scheduleEntry{
		scheduledAt: r.now().Add(time.Duration(delayMs) * time.Millisecond),
		attempt:     1,
	}
}

func (r *Retransmitter) CancelRetry(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schedule, messageID)
}

// ProcessRetriesOnce extracts and returns all entries due now (one
// explicit tick). The caller performs the actual retransmit.
func (r *Retransmitter) ProcessRetriesOnce() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var due []string
	for id, e := range r.schedule {
		if !e.scheduledAt.After(now) {
			due = append(due, id)
			delete(r.schedule, id)
		}
	}
	return due
}

// ShouldRetry implements 4.L's eligibility rule.
func (r *Retransmitter) ShouldRetry(retryCount int, status Status, errorCode string) bool {
	if retryCount >= r.policy.MaxAttempts {
		return false
	}
	switch status {
	case StatusUnknown:
		return true
	case StatusFailed:
		if errorCode == "" {
			return false
		}
		return r.policy.ShouldRetryError(errorCode)
	default:
		return false
	}
}

// GetBackoffDelay computes min(base*multiplier^attempt, max) then applies
// symmetric jitter delta = capped * jitterFactor * (U(0,1)-0.5) * 2,
// clamped to >= 0 and rounded to an integer millisecond count.
func (r *Retransmitter) GetBackoffDelay(attempt int) int64 {
	unjittered := float64(r.policy.BaseDelayMs) * math.Pow(r.policy.Multiplier, float64(attempt))
	capped := math.Min(unjittered, float64(r.policy.MaxDelayMs))

	delta := capped * r.policy.JitterFactor * (r.rand() - 0.5) * 2
	final := capped + delta
	if final < 0 {
		final = 0
	}
	return int64(math.Round(final))
}
