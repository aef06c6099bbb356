package exectype

import (
	"testing"

	"github.com/itskum47/ruleforge/internal/model"
)

func TestAllowsEventTriggeredOnEvent(t *testing.T) {
	rc := &model.RuleChain{ExecutionType: model.ExecutionEventTriggered}
	if !Allows(rc, model.InvocationEvent) {
		t.Fatalf("expected an event-triggered chain to run on an event invocation")
	}
	if Allows(rc, model.InvocationSchedule) {
		t.Fatalf("expected an event-triggered chain to be excluded from schedule invocations")
	}
}

func TestAllowsHybridOnBoth(t *testing.T) {
	rc := &model.RuleChain{ExecutionType: model.ExecutionHybrid}
	if !Allows(rc, model.InvocationEvent) || !Allows(rc, model.InvocationSchedule) {
		t.Fatalf("expected a hybrid chain to run on both invocation kinds")
	}
}

func TestAllowsFailsOpenOnUnknownExecutionType(t *testing.T) {
	rc := &model.RuleChain{ExecutionType: "something-new"}
	if !Allows(rc, model.InvocationEvent) {
		t.Fatalf("expected an unrecognized execution type to fail open")
	}
}
