package timeline

import "testing"

func TestRecordAndRetrieveByJobID(t *testing.T) {
	s := NewStore(10)
	s.Record(Event{JobID: "job-1", RuleChainID: "rc-1", Stage: StageQueued})
	s.Record(Event{JobID: "job-1", RuleChainID: "rc-1", Stage: StageFinished})

	events := s.EventsByJobID("job-1")
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Stage != StageQueued || events[1].Stage != StageFinished {
		t.Fatalf("expected insertion order to be preserved, got %+v", events)
	}
}

func TestEventsByJobIDReturnsACopy(t *testing.T) {
	s := NewStore(10)
	s.Record(Event{JobID: "job-1", Stage: StageQueued})
	got := s.EventsByJobID("job-1")
	got[0].Stage = StageFailed
	if s.EventsByJobID("job-1")[0].Stage != StageQueued {
		t.Fatalf("mutating the returned slice must not affect the store")
	}
}

func TestOldestJobEvictedAtCapacity(t *testing.T) {
	s := NewStore(2)
	s.Record(Event{JobID: "job-1", Stage: StageQueued})
	s.Record(Event{JobID: "job-2", Stage: StageQueued})
	s.Record(Event{JobID: "job-3", Stage: StageQueued})

	if len(s.EventsByJobID("job-1")) != 0 {
		t.Fatalf("expected job-1 to be evicted once capacity was exceeded")
	}
	if len(s.EventsByJobID("job-3")) != 1 {
		t.Fatalf("expected job-3 to be retained")
	}
}

func TestUnknownJobIDReturnsEmpty(t *testing.T) {
	s := NewStore(10)
	if events := s.EventsByJobID("missing"); len(events) != 0 {
		t.Fatalf("expected no events for an unknown job id, got %+v", events)
	}
}
