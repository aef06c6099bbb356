package worker

import (
	"testing"

	"github.com/itskum47/ruleforge/internal/model"
)

func TestInvocationKindMapsEventTypes(t *testing.T) {
	cases := []struct {
		eventType string
		wantKind  model.InvocationKind
		wantOK    bool
	}{
		{model.EventTelemetryData, model.InvocationEvent, true},
		{model.EventDeviceStateChange, model.InvocationEvent, true},
		{model.EventManualTrigger, model.InvocationEvent, true},
		{model.EventExternal, model.InvocationEvent, true},
		{model.EventBatchOperation, model.InvocationEvent, true},
		{model.EventScheduled, model.InvocationSchedule, true},
		{"unknown-type", "", false},
	}
	for _, c := range cases {
		kind, ok := invocationKind(c.eventType)
		if ok != c.wantOK {
			t.Errorf("invocationKind(%q) ok = %v, want %v", c.eventType, ok, c.wantOK)
			continue
		}
		if ok && kind != c.wantKind {
			t.Errorf("invocationKind(%q) = %v, want %v", c.eventType, kind, c.wantKind)
		}
	}
}
