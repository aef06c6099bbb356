package resilience

import "testing"

func TestNewDegradedModeStartsAvailable(t *testing.T) {
	d := NewDegradedMode()
	if !d.Available() {
		t.Fatalf("expected a fresh DegradedMode to start available")
	}
}

func TestMarkUnavailableFlipsState(t *testing.T) {
	d := NewDegradedMode()
	d.MarkUnavailable()
	if d.Available() {
		t.Fatalf("expected MarkUnavailable to flip state to unavailable")
	}
}

func TestMarkAvailableReturnsBacklogSize(t *testing.T) {
	d := NewDegradedMode()
	d.MarkUnavailable()
	d.RecordMiss("index", "k1")
	d.RecordMiss("index", "k2")

	backlog := d.MarkAvailable()
	if backlog != 2 {
		t.Fatalf("expected backlog of 2, got %d", backlog)
	}
	if !d.Available() {
		t.Fatalf("expected state to flip back to available")
	}
}

func TestRecordMissEvictsOldestAtCapacity(t *testing.T) {
	d := NewDegradedMode()
	for i := 0; i < maxPending+5; i++ {
		d.RecordMiss("index", "k")
	}
	pending := d.DrainPending()
	if len(pending) != maxPending {
		t.Fatalf("expected backlog capped at %d, got %d", maxPending, len(pending))
	}
}

func TestDrainPendingClearsBacklog(t *testing.T) {
	d := NewDegradedMode()
	d.RecordMiss("collector", "k1")
	first := d.DrainPending()
	if len(first) != 1 {
		t.Fatalf("expected 1 pending read, got %d", len(first))
	}
	second := d.DrainPending()
	if len(second) != 0 {
		t.Fatalf("expected backlog cleared after drain, got %d", len(second))
	}
}
