// Package session implements the protocol session state machine and
// initialization gate (component F). Grounded on
// coreengine/kernel/types.go's ProcessState enum (IsTerminal/CanSchedule
// predicate-method idiom) for the state-machine shape, and on
// coreengine/kernel/kernel.go's Shutdown(ctx)/ShutdownError drain idiom
// for graceful close (SPEC_FULL.md §12's drain-timeout supplement).
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/mcp-runtime/errs"
	"github.com/jeeves-cluster-organization/mcp-runtime/logging"
)

// State is one of the four lifecycle states.
type State string

const (
	Starting     State = "STARTING"
	Initializing State = "INITIALIZING"
	Running      State = "RUNNING"
	Closed       State = "CLOSED"
)

// Transport is the stream transport tag.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
	TransportSSE   Transport = "sse"
)

// Session is the process-wide singleton for the active connection.
type Session struct {
	mu sync.RWMutex

	connectionCorrelationID string
	state                   State
	transport               Transport
	logger                  logging.Logger

	shutdownTimeout time.Duration
	inFlight        sync.WaitGroup
}

// New creates a Session in STARTING carrying the caller-supplied
// connection correlation id.
func New(connectionCorrelationID string, transport Transport, logger logging.Logger, shutdownTimeout time.Duration) *Session {
	return &Session{
		connectionCorrelationID: connectionCorrelationID,
		state:                   Starting,
		transport:               transport,
		logger:                  logger,
		shutdownTimeout:         shutdownTimeout,
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Transport() Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transport
}

func (s *Session) ConnectionCorrelationID() string {
	return s.connectionCorrelationID
}

// Initialize transitions STARTING -> INITIALIZING. Any other current
// state fails.
func (s *Session) Initialize() *errs.Error {
	return s.transition(Starting, Initializing, "initialize")
}

// Initialized transitions INITIALIZING -> RUNNING.
func (s *Session) Initialized() *errs.Error {
	return s.transition(Initializing, Running, "initialized")
}

func (s *Session) transition(from, to State, method string) *errs.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return errs.NotInitializedf("%s is only accepted from %s, session is %s", method, from, s.state)
	}
	s.state = to
	return nil
}

// Close unconditionally advances to CLOSED from any state and is
// idempotent. It blocks up to shutdownTimeout for in-flight handlers
// (tracked via BeginHandler/EndHandler) to settle before returning,
// matching coreengine/kernel/kernel.go's Shutdown(ctx) drain pattern.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	alreadyClosed := s.state == Closed
	s.state = Closed
	s.mu.Unlock()
	if alreadyClosed {
		return
	}

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		if s.logger != nil {
			s.logger.Info("session drained cleanly")
		}
	case <-timer.C:
		if s.logger != nil {
			s.logger.Warn("session shutdown grace period elapsed with handlers still in flight")
		}
	case <-ctx.Done():
		if s.logger != nil {
			s.logger.Warn("session shutdown context cancelled before drain completed")
		}
	}
}

// BeginHandler/EndHandler bracket a tool invocation so Close can drain.
func (s *Session) BeginHandler() { s.inFlight.Add(1) }
func (s *Session) EndHandler()   { s.inFlight.Done() }

// CheckGate implements 4.F's initialization gate: before dispatching any
// method other than initialize/initialized, the dispatcher must observe
// state == RUNNING. method is passed so initialize/initialized are
// exempted.
func (s *Session) CheckGate(method string, requestCorrelationID string) *errs.Error {
	if method == "initialize" || method == "initialized" {
		return nil
	}
	if s.State() == Running {
		return nil
	}
	correlationID := requestCorrelationID
	if correlationID == "" {
		correlationID = s.connectionCorrelationID
	}
	return errs.NotInitializedf("Not initialized").
		WithData("code", string(errs.NotInitialized)).
		WithData("correlationId", correlationID)
}
