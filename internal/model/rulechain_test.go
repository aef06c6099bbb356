package model

import "testing"

func TestValidateRejectsScheduleEnabledWithoutCron(t *testing.T) {
	rc := &RuleChain{ID: "rc-1", ScheduleEnabled: true, ExecutionType: ExecutionScheduleOnly}
	if err := rc.Validate(nil); err == nil {
		t.Fatalf("expected an error for a schedule-enabled chain with no cron expression")
	}
}

func TestValidateRejectsScheduleEnabledWithWrongExecutionType(t *testing.T) {
	rc := &RuleChain{ID: "rc-2", ScheduleEnabled: true, ExecutionType: ExecutionEventTriggered, CronExpression: "* * * * *"}
	if err := rc.Validate(nil); err == nil {
		t.Fatalf("expected an error: event-triggered chains cannot be schedule-enabled")
	}
}

func TestValidateAcceptsWellFormedHybridSchedule(t *testing.T) {
	rc := &RuleChain{ID: "rc-3", ScheduleEnabled: true, ExecutionType: ExecutionHybrid, CronExpression: "* * * * *"}
	if err := rc.Validate(func(string) bool { return true }); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateDetectsCycle(t *testing.T) {
	rc := &RuleChain{
		ID: "rc-4",
		Nodes: []RuleChainNode{
			{ID: "a", NextNodeID: "b"},
			{ID: "b", NextNodeID: "a"},
		},
	}
	if err := rc.Validate(nil); err == nil {
		t.Fatalf("expected cycle detection to reject a -> b -> a")
	}
}

func TestValidateAcceptsLinearChain(t *testing.T) {
	rc := &RuleChain{
		ID: "rc-5",
		Nodes: []RuleChainNode{
			{ID: "a", NextNodeID: "b"},
			{ID: "b", NextNodeID: ""},
		},
	}
	if err := rc.Validate(nil); err != nil {
		t.Fatalf("expected no error for a terminating linear chain, got %v", err)
	}
}

func TestNodeByID(t *testing.T) {
	rc := &RuleChain{Nodes: []RuleChainNode{{ID: "x"}, {ID: "y"}}}
	if _, ok := rc.NodeByID("y"); !ok {
		t.Fatalf("expected to find node y")
	}
	if _, ok := rc.NodeByID("z"); ok {
		t.Fatalf("did not expect to find node z")
	}
}

func TestExecutionTypeMatches(t *testing.T) {
	cases := []struct {
		t    ExecutionType
		kind InvocationKind
		want bool
	}{
		{ExecutionEventTriggered, InvocationEvent, true},
		{ExecutionEventTriggered, InvocationSchedule, false},
		{ExecutionScheduleOnly, InvocationSchedule, true},
		{ExecutionScheduleOnly, InvocationEvent, false},
		{ExecutionHybrid, InvocationEvent, true},
		{ExecutionHybrid, InvocationSchedule, true},
	}
	for _, c := range cases {
		if got := c.t.Matches(c.kind); got != c.want {
			t.Errorf("%s.Matches(%s) = %v, want %v", c.t, c.kind, got, c.want)
		}
	}
}
