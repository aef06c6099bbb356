package model

import "time"

// ExecutionType restricts whether a rule chain runs on events, on
// schedule ticks, or both (§3, §4.5).
type ExecutionType string

const (
	ExecutionEventTriggered ExecutionType = "event-triggered"
	ExecutionScheduleOnly   ExecutionType = "schedule-only"
	ExecutionHybrid         ExecutionType = "hybrid"
)

// InvocationKind distinguishes the two ways a rule chain can be
// dispatched into C5's execution-type filter.
type InvocationKind string

const (
	InvocationEvent    InvocationKind = "event"
	InvocationSchedule InvocationKind = "schedule"
)

// Matches reports whether a rule chain's execution type permits the
// given invocation kind (§4.5, §8 invariant 5). Manual triggers bypass
// this check entirely and never call Matches.
func (t ExecutionType) Matches(kind InvocationKind) bool {
	switch kind {
	case InvocationEvent:
		return t == ExecutionEventTriggered || t == ExecutionHybrid
	case InvocationSchedule:
		return t == ExecutionScheduleOnly || t == ExecutionHybrid
	default:
		return false
	}
}

// NodeType enumerates the three kinds of rule chain DAG node.
type NodeType string

const (
	NodeFilter    NodeType = "filter"
	NodeTransform NodeType = "transform"
	NodeAction    NodeType = "action"
)

// RuleChainNode is one element of a rule chain's linear DAG.
type RuleChainNode struct {
	ID          string
	RuleChainID string
	Type        NodeType
	Config      NodeConfig
	NextNodeID  string // empty means terminal node
}

// NodeConfig is a structured union of the per-type node configuration.
// Only the fields relevant to Type are populated.
type NodeConfig struct {
	// filter
	Filter *FilterExpr
	// transform
	TransformName string
	TransformExpr string
	// action
	ActionDeviceUUID string
	ActionStateName  string
	ActionValueExpr  string
	// ActionCritical marks the target device as critical per the rule
	// author's own configuration — this engine has no separate device
	// registry, so criticality is declared at the node that targets it.
	ActionCritical bool
}

// FilterExpr is a Boolean expression tree over filter leaves, composed
// of AND/OR nodes (§3, §4.7).
type FilterExpr struct {
	// Leaf fields. A node is a leaf iff Op != "".
	SourceType OriginatorType
	UUID       string
	Key        string
	Op         string // eq, neq, gt, gte, lt, lte, contains
	Value      interface{}

	// Composite fields. A node is composite iff And or Or is non-nil.
	And []FilterExpr
	Or  []FilterExpr
}

func (f FilterExpr) isLeaf() bool { return f.Op != "" }

// RuleChain is persistent rule-chain configuration (§3).
type RuleChain struct {
	ID             string
	OrganizationID string
	Name           string
	ExecutionType  ExecutionType
	ScheduleEnabled bool
	CronExpression string
	Timezone       string
	Priority       int
	MaxRetries     int
	RetryDelay     time.Duration
	Nodes          []RuleChainNode

	LastExecutedAt time.Time
	ExecutionCount int64
	FailureCount   int64
}

// FirstNode returns the chain's entry node, or false if it has none.
func (rc *RuleChain) FirstNode() (RuleChainNode, bool) {
	if len(rc.Nodes) == 0 {
		return RuleChainNode{}, false
	}
	return rc.Nodes[0], true
}

// NodeByID looks up a node within the chain by id.
func (rc *RuleChain) NodeByID(id string) (RuleChainNode, bool) {
	for _, n := range rc.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return RuleChainNode{}, false
}

// Validate enforces the persistence-time invariant from §3: a
// schedule-enabled chain must declare a valid execution type and a
// cron expression, and its node DAG must not contain a cycle.
func (rc *RuleChain) Validate(isValidCron func(string) bool) error {
	if rc.ScheduleEnabled {
		if rc.ExecutionType != ExecutionScheduleOnly && rc.ExecutionType != ExecutionHybrid {
			return NewError(KindInvalidArgument, "schedule-enabled chain must be schedule-only or hybrid", map[string]interface{}{"ruleChainId": rc.ID})
		}
		if rc.CronExpression == "" || (isValidCron != nil && !isValidCron(rc.CronExpression)) {
			return NewError(KindInvalidArgument, "schedule-enabled chain requires a valid cron expression", map[string]interface{}{"ruleChainId": rc.ID})
		}
	}
	if err := detectCycle(rc.Nodes); err != nil {
		return err
	}
	return nil
}

// detectCycle rejects DAGs whose nextNodeId chain loops back on
// itself. Traversal is linear (§4.7), so a simple visited-set walk
// starting from each node in turn suffices.
func detectCycle(nodes []RuleChainNode) error {
	byID := make(map[string]RuleChainNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	visited := make(map[string]bool, len(nodes))
	for _, start := range nodes {
		cur := start.ID
		seen := make(map[string]bool)
		for cur != "" {
			if seen[cur] {
				return NewError(KindFatal, "cycle detected in rule chain DAG", map[string]interface{}{"nodeId": cur})
			}
			seen[cur] = true
			visited[cur] = true
			n, ok := byID[cur]
			if !ok {
				break
			}
			cur = n.NextNodeID
		}
	}
	return nil
}
