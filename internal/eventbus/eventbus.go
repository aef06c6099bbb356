// Package eventbus implements the event bus / enqueuer (C3): the
// single entry point events pass through on their way onto the
// durable queue. The admission pipeline order (index lookup before
// backpressure) is the core optimization named in §4.3 and is
// grounded on the teacher's Scheduler.Submit admission ordering.
package eventbus

import (
	"context"

	"github.com/itskum47/ruleforge/internal/backpressure"
	"github.com/itskum47/ruleforge/internal/index"
	"github.com/itskum47/ruleforge/internal/model"
	"github.com/itskum47/ruleforge/internal/queue"
)

// Bus is the event bus. It owns no connections of its own — the index
// and queue are process-scoped and shared with other components.
type Bus struct {
	index *index.Index
	gate  *backpressure.Gate
	queue *queue.Queue
}

func New(ix *index.Index, gate *backpressure.Gate, q *queue.Queue) *Bus {
	return &Bus{index: ix, gate: gate, queue: q}
}

// Emit runs the full admission pipeline for one event: validate, for
// a sensor/device originator skip if it names no variables, look up
// matching rule chains (C1) and skip if none, check backpressure (C2),
// then enqueue (C4). Events without an originator (e.g. scheduled)
// carry their own RuleChainIDs and go straight to the gate.
func (b *Bus) Emit(ctx context.Context, evt model.Event) model.Admission {
	if err := evt.Validate(); err != nil {
		return model.Rejected(model.ReasonEnqueueError, 0)
	}

	if evt.Priority == 0 {
		evt.Priority = model.DefaultPriority(evt.EventType)
	}

	if evt.OriginatorType != model.OriginatorNone && evt.OriginatorType != "" {
		if len(evt.VariableNames) == 0 {
			return model.Skipped(model.ReasonNoVariables)
		}
		ruleChainIDs, err := b.index.Lookup(ctx, evt.OriginatorType, evt.OriginatorID, evt.VariableNames)
		if err != nil {
			return model.Skipped(model.ReasonNoRuleChains)
		}
		if len(ruleChainIDs) == 0 {
			return model.Skipped(model.ReasonNoRuleChains)
		}
		evt.RuleChainIDs = ruleChainIDs
	}

	counts, err := b.queue.GetCounts(ctx)
	if err != nil {
		return model.Rejected(model.ReasonEnqueueError, 0)
	}

	decision := b.gate.Admit(int(counts.TotalPending()), evt.Priority)
	if !decision.Accept {
		return model.Rejected(decision.Reason, int(counts.TotalPending()))
	}

	jobID, err := b.queue.Add(ctx, evt)
	if err != nil {
		return model.Rejected(model.ReasonEnqueueError, int(counts.TotalPending()))
	}
	return model.Accepted(jobID)
}
