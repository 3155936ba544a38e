// Package resources implements the resource manager (component D): a
// counting semaphore for concurrency admission, a payload-size gate, and
// sampled telemetry with health classification. Grounded on
// coreengine/kernel/types.go's ResourceQuota/ResourceUsage
// (IsWithinBounds/ExceedsQuota) for the quota-threshold idiom, and
// coreengine/observability/metrics.go's promauto pattern for exported
// counters.
package resources

import (
	"encoding/json"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/jeeves-cluster-organization/mcp-runtime/errs"
)

// HealthStatus mirrors coreengine/envelope/enums.go's HealthStatus enum,
// narrowed to the three values the resource manager classifies into.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// Telemetry is the data-model's Resource telemetry record.
type Telemetry struct {
	MemoryUsageBytes        uint64 `json:"memoryUsageBytes"`
	EventLoopDelayMs        int64  `json:"eventLoopDelayMs"`
	ConcurrentExecutions    int64  `json:"concurrentExecutions"`
	MaxConcurrentExecutions int64  `json:"maxConcurrentExecutions"`
}

// Thresholds configures the health classification.
type Thresholds struct {
	DegradedMemoryBytes   uint64
	UnhealthyMemoryBytes  uint64
	DegradedDelayMs       int64
	UnhealthyDelayMs      int64
	DegradedSaturationPct int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedMemoryBytes:   512 * 1024 * 1024,
		UnhealthyMemoryBytes:  1024 * 1024 * 1024,
		DegradedDelayMs:       50,
		UnhealthyDelayMs:      250,
		DegradedSaturationPct: 80,
	}
}

var (
	slotAcquireFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcp_resource_slot_acquire_failures_total",
		Help: "Number of times tryAcquireSlot failed because capacity was exhausted.",
	})
	payloadRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcp_resource_payload_rejections_total",
		Help: "Number of times validatePayloadSize rejected a value for exceeding the byte budget.",
	})
	inFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcp_resource_in_flight_executions",
		Help: "Current number of handlers holding an admission slot.",
	})
)

// Slot is the admission token returned by TryAcquireSlot. It must be
// released exactly once.
type Slot struct {
	mgr      *Manager
	released atomic.Bool
}

func (s *Slot) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.mgr.release()
	}
}

// Manager owns the semaphore, the payload gate, and sampled telemetry.
type Manager struct {
	maxConcurrent int64
	maxPayload    int64
	thresholds    Thresholds

	inFlight  atomic.Int64
	maxSeen   atomic.Int64
	delayMu   sync.Mutex
	delayMs   int64

	sometimes  rate.Sometimes
	memMu      sync.Mutex
	lastMemory uint64
}

func NewManager(maxConcurrentExecutions int, maxPayloadBytes int, thresholds Thresholds) *Manager {
	return &Manager{
		maxConcurrent: int64(maxConcurrentExecutions),
		maxPayload:    int64(maxPayloadBytes),
		thresholds:    thresholds,
		sometimes:     rate.Sometimes{Interval: 250 * time.Millisecond},
	}
}

// TryAcquireSlot is non-blocking per 4.D: it never suspends the caller.
func (m *Manager) TryAcquireSlot() (*Slot, *errs.Error) {
	for {
		cur := m.inFlight.Load()
		if cur >= m.maxConcurrent {
			slotAcquireFailuresTotal.Inc()
			return nil, errs.ResourceExhaustedf("no admission slots available (%d/%d in use)", cur, m.maxConcurrent)
		}
		if m.inFlight.CompareAndSwap(cur, cur+1) {
			inFlightGauge.Set(float64(cur + 1))
			m.bumpMax(cur + 1)
			return &Slot{mgr: m}, nil
		}
	}
}

func (m *Manager) release() {
	n := m.inFlight.Add(-1)
	inFlightGauge.Set(float64(n))
}

func (m *Manager) bumpMax(n int64) {
	for {
		cur := m.maxSeen.Load()
		if n <= cur || m.maxSeen.CompareAndSwap(cur, n) {
			return
		}
	}
}

// ValidatePayloadSize serializes value to UTF-8 JSON and rejects it when
// the byte length exceeds maxPayloadBytes.
func (m *Manager) ValidatePayloadSize(value any) *errs.Error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return errs.InvalidArgumentf("payload is not JSON-serializable: %v", err)
	}
	if int64(len(encoded)) > m.maxPayload {
		payloadRejectionsTotal.Inc()
		return errs.ResourceExhaustedf("payload of %d bytes exceeds limit of %d bytes", len(encoded), m.maxPayload)
	}
	return nil
}

// RecordEventLoopDelaySample lets a caller feed an observed delay
// sample (e.g. measured by a background ticker) into telemetry.
func (m *Manager) RecordEventLoopDelaySample(ms int64) {
	m.delayMu.Lock()
	m.delayMs = ms
	m.delayMu.Unlock()
}

func (m *Manager) GetTelemetry() Telemetry {
	// runtime.ReadMemStats stops the world briefly; rate.Sometimes caps
	// how often a telemetry-heavy caller (e.g. repeated health tool
	// calls) actually pays for a fresh sample.
	m.sometimes.Do(func() {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		m.memMu.Lock()
		m.lastMemory = mem.Alloc
		m.memMu.Unlock()
	})

	m.memMu.Lock()
	memUsage := m.lastMemory
	m.memMu.Unlock()

	m.delayMu.Lock()
	delay := m.delayMs
	m.delayMu.Unlock()

	return Telemetry{
		MemoryUsageBytes:        memUsage,
		EventLoopDelayMs:        delay,
		ConcurrentExecutions:    m.inFlight.Load(),
		MaxConcurrentExecutions: m.maxConcurrent,
	}
}

func (m *Manager) GetHealthStatus() HealthStatus {
	t := m.GetTelemetry()

	if t.MemoryUsageBytes >= m.thresholds.UnhealthyMemoryBytes || t.EventLoopDelayMs >= m.thresholds.UnhealthyDelayMs {
		return Unhealthy
	}
	saturationPct := 0
	if t.MaxConcurrentExecutions > 0 {
		saturationPct = int(t.ConcurrentExecutions * 100 / t.MaxConcurrentExecutions)
	}
	if t.MemoryUsageBytes >= m.thresholds.DegradedMemoryBytes ||
		t.EventLoopDelayMs >= m.thresholds.DegradedDelayMs ||
		saturationPct >= m.thresholds.DegradedSaturationPct {
		return Degraded
	}
	return Healthy
}
