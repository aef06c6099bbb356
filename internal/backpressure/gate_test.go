package backpressure

import (
	"testing"

	"github.com/itskum47/ruleforge/internal/model"
)

func testThresholds() Thresholds {
	return Thresholds{Warning: 100, Critical: 200, Recovery: 50}
}

func TestGateClosedAdmitsUnderCritical(t *testing.T) {
	g := New(testThresholds())
	d := g.Admit(10, 5)
	if !d.Accept {
		t.Fatalf("expected accept, got reject with reason %q", d.Reason)
	}
	if g.State() != Closed {
		t.Fatalf("expected state Closed, got %v", g.State())
	}
}

func TestGateOpensAtCritical(t *testing.T) {
	g := New(testThresholds())
	d := g.Admit(200, 5)
	if d.Accept {
		t.Fatalf("expected reject once pending reaches critical")
	}
	if d.Reason != model.ReasonCircuitOpen {
		t.Fatalf("expected reason %q, got %q", model.ReasonCircuitOpen, d.Reason)
	}
	if g.State() != Open {
		t.Fatalf("expected state Open, got %v", g.State())
	}
}

func TestGateHighPriorityOverridesOpen(t *testing.T) {
	g := New(testThresholds())
	g.Admit(200, 5) // force Open
	d := g.Admit(200, 1)
	if !d.Accept {
		t.Fatalf("expected high-priority event to bypass an open gate")
	}
}

func TestGateLowPriorityShedBeforeCritical(t *testing.T) {
	g := New(testThresholds())
	// 0.8 * critical(200) == 160, still below critical so state stays Closed
	d := g.Admit(170, 10)
	if d.Accept {
		t.Fatalf("expected low-priority event to be shed in the warning band")
	}
	if d.Reason != model.ReasonLowPriorityShed {
		t.Fatalf("expected reason %q, got %q", model.ReasonLowPriorityShed, d.Reason)
	}
	if g.State() != Closed {
		t.Fatalf("shedding a low-priority event must not itself open the gate, got %v", g.State())
	}
}

func TestGateRecoversThroughHalfOpen(t *testing.T) {
	g := New(testThresholds())
	g.Admit(200, 5) // Open
	g.Admit(50, 5)   // pending <= recovery(50) -> HalfOpen
	if g.State() != HalfOpen {
		t.Fatalf("expected HalfOpen, got %v", g.State())
	}
	g.Admit(20, 5) // pending <= 0.6*recovery(30) -> Closed
	if g.State() != Closed {
		t.Fatalf("expected Closed after recovery, got %v", g.State())
	}
}

func TestGateHalfOpenReopensOnRegression(t *testing.T) {
	g := New(testThresholds())
	g.Admit(200, 5) // Open
	g.Admit(50, 5)  // HalfOpen
	g.Admit(150, 5) // regression back to >= warning(100) -> Open
	if g.State() != Open {
		t.Fatalf("expected re-open from HalfOpen on regression, got %v", g.State())
	}
}

func TestGateRejectedCountAccumulates(t *testing.T) {
	g := New(testThresholds())
	g.Admit(200, 5)
	g.Admit(200, 5)
	if got := g.RejectedCount(); got != 2 {
		t.Fatalf("expected rejected count 2, got %d", got)
	}
}
