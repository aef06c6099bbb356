// Package model holds the data types shared across every rule engine
// component: events, rule chain configuration, execution snapshots and
// the structured errors/decisions components report.
package model

import "time"

// OriginatorType identifies the kind of entity that produced an event.
type OriginatorType string

const (
	OriginatorSensor OriginatorType = "sensor"
	OriginatorDevice OriginatorType = "device"
	OriginatorNone   OriginatorType = "none"
)

// Well-known event types recognized by the worker pool (§6).
const (
	EventTelemetryData     = "telemetry-data"
	EventDeviceStateChange = "device-state-change"
	EventScheduled         = "scheduled"
	EventBatchOperation    = "batch-operation"
	EventManualTrigger     = "manual-trigger"
	EventExternal          = "external"
)

// DefaultPriority returns the priority an event type is assigned when
// the caller does not specify one (§4.3). Lower value means higher
// priority.
func DefaultPriority(eventType string) int {
	switch eventType {
	case EventScheduled:
		return 1
	case "critical-alarm":
		return 1
	case EventTelemetryData, EventDeviceStateChange:
		return 5
	case EventBatchOperation:
		return 10
	default:
		return 5
	}
}

// Event is an immutable, in-flight unit of work.
type Event struct {
	EventType      string
	OriginatorType OriginatorType
	OriginatorID   string // opaque 36-char id; empty when OriginatorType == none
	VariableNames  []string
	Payload        map[string]interface{}
	Priority       int
	EnqueuedAt     time.Time

	// RuleChainIDs is attached by the enqueuer once C1 has resolved
	// matches, so the worker pool can avoid re-querying the index.
	RuleChainIDs []string
}

// Validate checks the event-shape invariant from §3: if OriginatorType
// is set, OriginatorID must be non-empty.
func (e *Event) Validate() error {
	if e.OriginatorType != OriginatorNone && e.OriginatorType != "" && e.OriginatorID == "" {
		return NewError(KindInvalidArgument, "originatorId required when originatorType is set", nil)
	}
	if e.OriginatorType != "" && e.OriginatorType != OriginatorSensor && e.OriginatorType != OriginatorDevice && e.OriginatorType != OriginatorNone {
		return NewError(KindInvalidArgument, "unknown originatorType: "+string(e.OriginatorType), nil)
	}
	return nil
}

// Admission is the tagged outcome of Event Bus emission (§9 redesign
// note: model dynamic payload/union returns as an explicit tagged
// variant instead of an untagged map).
type Admission struct {
	Accepted bool
	Rejected bool
	Skipped  bool
	Reason   string
	JobID    string
	// QueueDepth is populated on Rejected outcomes for observability.
	QueueDepth int
}

func Accepted(jobID string) Admission { return Admission{Accepted: true, JobID: jobID} }

func Rejected(reason string, queueDepth int) Admission {
	return Admission{Rejected: true, Reason: reason, QueueDepth: queueDepth}
}

func Skipped(reason string) Admission { return Admission{Skipped: true, Reason: reason} }
