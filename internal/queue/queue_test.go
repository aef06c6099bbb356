package queue

import (
	"testing"
	"time"
)

func TestEffectivePriorityDecreasesWithAge(t *testing.T) {
	now := time.Now()
	fresh := effectivePriority(5, now)
	aged := effectivePriority(5, now.Add(-100*time.Second))
	if aged >= fresh {
		t.Fatalf("expected an aged job to have a lower effective priority score (fresh=%v aged=%v)", fresh, aged)
	}
}

func TestEffectivePriorityAgingMatchesFactor(t *testing.T) {
	now := time.Now()
	base := effectivePriority(5, now)
	tenSecondsAgo := effectivePriority(5, now.Add(-agingFactorSeconds*time.Second))
	if diff := base - tenSecondsAgo; diff < 0.99 || diff > 1.01 {
		t.Fatalf("expected one aging-factor period to shave ~1 point off priority, got diff=%v", diff)
	}
}

func TestNewJobIDIsUniqueUnderConcurrency(t *testing.T) {
	const n = 200
	ids := make(chan string, n)
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			ids <- newJobID()
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	close(ids)

	seen := make(map[string]struct{}, n)
	for id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("expected unique job ids, found duplicate %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestParseOrZeroHandlesEmptyString(t *testing.T) {
	if got := parseOrZero(""); got != 0 {
		t.Fatalf("expected 0 for an empty string, got %d", got)
	}
}

func TestParseOrZeroParsesValidInteger(t *testing.T) {
	if got := parseOrZero("42"); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.Attempts != 3 {
		t.Fatalf("expected default Attempts=3, got %d", opts.Attempts)
	}
	if opts.BackoffBase != 500*time.Millisecond {
		t.Fatalf("expected default BackoffBase=500ms, got %v", opts.BackoffBase)
	}
}

func TestCountsTotalPending(t *testing.T) {
	c := Counts{Waiting: 3, Active: 2, Completed: 10}
	if got := c.TotalPending(); got != 5 {
		t.Fatalf("expected TotalPending=5, got %d", got)
	}
}
