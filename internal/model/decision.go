package model

// Decision is a structured log entry emitted by admission/dispatch
// components for operational audit, modeled on the teacher's
// SchedulingDecision.
type Decision struct {
	Component string      `json:"component"`
	Action    string      `json:"decision"`
	RuleChainID string    `json:"rule_chain_id,omitempty"`
	EventType string      `json:"event_type,omitempty"`
	Priority  int         `json:"priority,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Metadata  interface{} `json:"metadata,omitempty"`
}
