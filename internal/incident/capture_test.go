package incident

import (
	"testing"

	"github.com/itskum47/ruleforge/internal/timeline"
)

func TestCaptureIncludesJobTimeline(t *testing.T) {
	tl := timeline.NewStore(10)
	tl.Record(timeline.Event{JobID: "job-1", RuleChainID: "rc-1", Stage: timeline.StageDispatched})
	tl.Record(timeline.Event{JobID: "job-1", RuleChainID: "rc-1", Stage: timeline.StageFinished})

	s := NewStore(10)
	r := s.Capture(tl, "job-1", "rc-1", "d1", "alarm", "high", "d1 -> alarm")

	if len(r.Events) != 2 {
		t.Fatalf("expected the incident to carry the job's 2 timeline events, got %d", len(r.Events))
	}
	if r.Severity != "high" {
		t.Fatalf("expected severity to be carried through, got %q", r.Severity)
	}
}

func TestRecentReturnsNewestFirst(t *testing.T) {
	s := NewStore(10)
	s.Capture(nil, "job-1", "rc-1", "d1", "alarm", "high", "first")
	s.Capture(nil, "job-2", "rc-1", "d1", "alarm", "high", "second")

	recent := s.Recent(2)
	if len(recent) != 2 || recent[0].JobID != "job-2" || recent[1].JobID != "job-1" {
		t.Fatalf("expected newest-first order [job-2, job-1], got %+v", recent)
	}
}

func TestStoreEvictsOldestAtCapacity(t *testing.T) {
	s := NewStore(2)
	s.Capture(nil, "job-1", "rc-1", "d1", "alarm", "high", "")
	s.Capture(nil, "job-2", "rc-1", "d1", "alarm", "high", "")
	s.Capture(nil, "job-3", "rc-1", "d1", "alarm", "high", "")

	recent := s.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("expected capacity to bound the store at 2, got %d", len(recent))
	}
	if recent[0].JobID != "job-3" || recent[1].JobID != "job-2" {
		t.Fatalf("expected the oldest entry (job-1) to have been evicted, got %+v", recent)
	}
}

func TestRecentOnEmptyStoreReturnsEmpty(t *testing.T) {
	s := NewStore(10)
	if got := s.Recent(5); len(got) != 0 {
		t.Fatalf("expected no incidents on an empty store, got %d", len(got))
	}
}
