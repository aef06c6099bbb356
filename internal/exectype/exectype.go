// Package exectype applies the execution-type filter (C5): a pure,
// fail-open check of whether a rule chain is eligible to run for a
// given invocation kind (§4.5, §8 invariant 5).
package exectype

import (
	"github.com/itskum47/ruleforge/internal/metrics"
	"github.com/itskum47/ruleforge/internal/model"
)

// Allows reports whether rc may execute for the given invocation kind.
// On an unrecognized execution type the filter fails open (allows
// execution) and records a metric, rather than silently dropping
// chains on a data entry mistake.
func Allows(rc *model.RuleChain, kind model.InvocationKind) bool {
	switch rc.ExecutionType {
	case model.ExecutionEventTriggered, model.ExecutionScheduleOnly, model.ExecutionHybrid:
		return rc.ExecutionType.Matches(kind)
	default:
		metrics.TelemetryIngestionTotal.WithLabelValues("unknown-execution-type").Inc()
		return true
	}
}
