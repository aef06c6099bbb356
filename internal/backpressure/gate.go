// Package backpressure implements the admission circuit breaker (C2):
// a pure three-state gate over current queue counts and event
// priority, modeled directly on the teacher's scheduler.CircuitBreaker
// state machine and generalized from (queueDepth, workerSaturation) to
// (pending, priority) thresholds.
package backpressure

import (
	"log"
	"sync"
	"time"

	"github.com/itskum47/ruleforge/internal/metrics"
	"github.com/itskum47/ruleforge/internal/model"
)

// State mirrors the teacher's CircuitState naming.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half_open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// Thresholds configures the three pending-job bands named in §4.2.
type Thresholds struct {
	Warning  int
	Critical int
	Recovery int
}

// Gate is the admission circuit breaker. Admit is a pure function of
// current counts and priority plus the gate's own state — it performs
// no blocking I/O, matching the teacher's ShouldAdmit contract.
type Gate struct {
	mu    sync.Mutex
	state State
	th    Thresholds

	rejectedCount   int64
	lastStateChange time.Time
	lastWarningLog  time.Time
}

func New(th Thresholds) *Gate {
	return &Gate{state: Closed, th: th, lastStateChange: time.Now()}
}

// Decision is the gate's pure verdict for a single admit call: whether
// to accept, and if not, why. The caller (C3) is responsible for
// turning a rejection into a model.Admission and an acceptance into an
// enqueue attempt.
type Decision struct {
	Accept bool
	Reason string
	State  State
}

// Admit applies the transitions and admission rules from §4.2 for the
// given pending count and event priority (lower value = higher
// priority).
func (g *Gate) Admit(pending, priority int) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.transition(pending)
	metrics.BackpressureState.Set(float64(g.state))

	highPriorityOverride := priority <= 1 && pending >= g.th.Critical
	lowPriorityShed := priority > 5 && pending >= int(0.8*float64(g.th.Critical))

	if g.state == Open {
		if highPriorityOverride {
			return Decision{Accept: true, State: g.state}
		}
		g.rejectedCount++
		return Decision{Accept: false, Reason: model.ReasonCircuitOpen, State: g.state}
	}

	if lowPriorityShed {
		g.rejectedCount++
		return Decision{Accept: false, Reason: model.ReasonLowPriorityShed, State: g.state}
	}

	if pending >= g.th.Warning && time.Since(g.lastWarningLog) > 30*time.Second {
		log.Printf("backpressure: pending=%d approaching critical=%d", pending, g.th.Critical)
		g.lastWarningLog = time.Now()
	}

	return Decision{Accept: true, State: g.state}
}

func (g *Gate) transition(pending int) {
	before := g.state
	switch g.state {
	case Closed:
		if pending >= g.th.Critical {
			g.state = Open
		}
	case Open:
		if pending <= g.th.Recovery {
			g.state = HalfOpen
		}
	case HalfOpen:
		if pending <= int(0.6*float64(g.th.Recovery)) {
			g.state = Closed
		} else if pending >= g.th.Warning {
			g.state = Open
		}
	}
	if g.state != before {
		g.lastStateChange = time.Now()
	}
}

// State returns the gate's current state (thread-safe snapshot).
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// RejectedCount returns the cumulative count of rejected admits.
func (g *Gate) RejectedCount() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rejectedCount
}
