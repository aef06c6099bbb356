package model

import "fmt"

// Kind enumerates the error taxonomy from spec §7.
type Kind string

const (
	KindInvalidArgument Kind = "InvalidArgument"
	KindNotFound        Kind = "NotFound"
	KindTimeout         Kind = "Timeout"
	KindRejected        Kind = "Rejected"
	KindSkipped         Kind = "Skipped"
	KindTransient       Kind = "Transient"
	KindFatal           Kind = "Fatal"
)

// Timeout codes (§4.6, §7).
const (
	TimeoutDataCollection = "DATA_COLLECTION_TIMEOUT"
	TimeoutRuleChain      = "RULE_CHAIN_TIMEOUT"
	TimeoutWorker         = "WORKER_TIMEOUT"
	TimeoutExternalAction = "EXTERNAL_ACTION_TIMEOUT"
)

// Rejected/Skipped reasons (§7).
const (
	ReasonQueueCritical    = "queue-critical"
	ReasonCircuitOpen      = "circuit-open"
	ReasonLowPriorityShed  = "low-priority-shed"
	ReasonEnqueueError     = "enqueue-error"
	ReasonNoVariables      = "no-variables"
	ReasonNoRuleChains     = "no-rule-chains"
	ReasonNoEventRules     = "no-event-rules"
	ReasonCircuitBreakerOp = "circuit_breaker_open"
)

// Error is the engine's structured error type, modeled on the
// teacher's typed ReconciliationError rather than ad-hoc sentinel
// strings: every error a caller needs to branch on carries a Kind and
// a metadata bag instead of being matched on Error() text.
type Error struct {
	Kind Kind
	Msg  string
	Code string // populated for Kind == KindTimeout
	Meta map[string]interface{}
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Code, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// NewError constructs a structured Error.
func NewError(kind Kind, msg string, meta map[string]interface{}) *Error {
	return &Error{Kind: kind, Msg: msg, Meta: meta}
}

// NewTimeoutError constructs a Kind==KindTimeout error carrying the
// structured code from §4.6.
func NewTimeoutError(code, msg string) *Error {
	return &Error{Kind: KindTimeout, Code: code, Msg: msg}
}

// IsTransient reports whether err should be treated as retryable by
// the queue substrate (§7 propagation rules).
func IsTransient(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindTransient
}

// IsFatal reports whether err marks the job dead without retry.
func IsFatal(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindFatal
}
