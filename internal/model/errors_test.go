package model

import (
	"errors"
	"testing"
)

func TestIsTransientOnlyMatchesTransientKind(t *testing.T) {
	if !IsTransient(NewError(KindTransient, "retry me", nil)) {
		t.Fatalf("expected a transient-kind error to be transient")
	}
	if IsTransient(NewError(KindFatal, "do not retry", nil)) {
		t.Fatalf("did not expect a fatal-kind error to be transient")
	}
	if IsTransient(errors.New("plain error")) {
		t.Fatalf("a non-*Error must never be treated as transient")
	}
}

func TestIsFatalOnlyMatchesFatalKind(t *testing.T) {
	if !IsFatal(NewError(KindFatal, "dead", nil)) {
		t.Fatalf("expected a fatal-kind error to be fatal")
	}
	if IsFatal(NewError(KindTransient, "retry me", nil)) {
		t.Fatalf("did not expect a transient-kind error to be fatal")
	}
}

func TestTimeoutErrorCarriesCode(t *testing.T) {
	err := NewTimeoutError(TimeoutRuleChain, "took too long")
	if err.Kind != KindTimeout {
		t.Fatalf("expected Kind=Timeout, got %v", err.Kind)
	}
	if err.Code != TimeoutRuleChain {
		t.Fatalf("expected code %q, got %q", TimeoutRuleChain, err.Code)
	}
	if err.Error() == "" {
		t.Fatalf("expected a non-empty error string")
	}
}
