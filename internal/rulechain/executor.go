// Package rulechain implements the rule chain executor (C7): a linear
// filter/transform/action DAG walk over a collected snapshot. Cycle
// detection lives in model.RuleChain.Validate, which the store load
// paths do not call; a cyclic chain that reaches Execute ends with an
// error status once maxDepth is exceeded. Traversal here is adapted from roach88-nysm's visited-node-marking DAG walk,
// applied to the filter/transform/action node domain instead of its
// invocation-DAG domain.
package rulechain

import (
	"fmt"

	"github.com/itskum47/ruleforge/internal/model"
)

const maxDepth = 32

// Execute walks rc's node chain starting at its first node, applying
// filter/transform/action semantics against snapshot (§4.7).
func Execute(rc *model.RuleChain, snapshot *model.Snapshot) model.ExecutionResult {
	result := model.ExecutionResult{RuleChainID: rc.ID, Name: rc.Name}

	node, ok := rc.FirstNode()
	if !ok {
		result.Status = model.StatusSkipped
		result.Summary = "rule chain has no nodes"
		return result
	}

	depth := 0
	for {
		if depth >= maxDepth {
			result.Status = model.StatusError
			result.Summary = fmt.Sprintf("max traversal depth %d exceeded", maxDepth)
			return result
		}
		depth++

		nr := evalNode(node, snapshot)
		result.NodeResults = append(result.NodeResults, nr)

		switch node.Type {
		case model.NodeFilter:
			if !nr.Matched {
				result.Status = model.StatusUnmet
				result.Summary = "filter node " + node.ID + " did not match"
				return result
			}
		case model.NodeAction:
			result.Actions = append(result.Actions, nr.Actions...)
		}

		if nr.Error != "" {
			result.Status = model.StatusError
			result.Summary = nr.Error
			return result
		}

		if node.NextNodeID == "" {
			break
		}
		next, ok := rc.NodeByID(node.NextNodeID)
		if !ok {
			result.Status = model.StatusError
			result.Summary = "dangling nextNodeId: " + node.NextNodeID
			return result
		}
		node = next
	}

	result.Status = model.StatusSuccess
	result.Summary = "chain completed"
	return result
}

func evalNode(node model.RuleChainNode, snapshot *model.Snapshot) model.NodeResult {
	switch node.Type {
	case model.NodeFilter:
		matched := node.Config.Filter != nil && evalFilter(*node.Config.Filter, snapshot)
		return model.NodeResult{NodeID: node.ID, Type: node.Type, Matched: matched}
	case model.NodeTransform:
		return evalTransform(node, snapshot)
	case model.NodeAction:
		return evalAction(node)
	default:
		return model.NodeResult{NodeID: node.ID, Type: node.Type, Error: "unknown node type"}
	}
}

// evalFilter evaluates a Boolean expression tree. Unresolved
// references evaluate to false rather than raising (§4.7).
func evalFilter(f model.FilterExpr, snapshot *model.Snapshot) bool {
	if f.Op != "" {
		val, ok := snapshot.Find(f.SourceType, f.UUID, f.Key)
		if !ok {
			return false
		}
		return compare(val, f.Op, f.Value)
	}
	if len(f.And) > 0 {
		for _, c := range f.And {
			if !evalFilter(c, snapshot) {
				return false
			}
		}
		return true
	}
	if len(f.Or) > 0 {
		for _, c := range f.Or {
			if evalFilter(c, snapshot) {
				return true
			}
		}
		return false
	}
	return false
}

func compare(actual interface{}, op string, expected interface{}) bool {
	switch op {
	case "eq":
		return fmt.Sprint(actual) == fmt.Sprint(expected)
	case "neq":
		return fmt.Sprint(actual) != fmt.Sprint(expected)
	case "contains":
		s, ok1 := actual.(string)
		sub, ok2 := expected.(string)
		return ok1 && ok2 && containsSubstr(s, sub)
	default:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		if !aok || !bok {
			return false
		}
		switch op {
		case "gt":
			return a > b
		case "gte":
			return a >= b
		case "lt":
			return a < b
		case "lte":
			return a <= b
		default:
			return false
		}
	}
}

func containsSubstr(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return len(sub) == 0
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// evalTransform writes the node's TransformExpr string, verbatim, into
// the snapshot's Derived bucket under the node's TransformName. The
// expression is not evaluated and no snapshot value is read.
func evalTransform(node model.RuleChainNode, snapshot *model.Snapshot) model.NodeResult {
	if node.Config.TransformName == "" {
		return model.NodeResult{NodeID: node.ID, Type: node.Type, Error: "transform node missing output name"}
	}
	snapshot.Set(model.OriginatorNone, "", node.Config.TransformName, node.Config.TransformExpr)
	return model.NodeResult{NodeID: node.ID, Type: node.Type, Matched: true}
}

func evalAction(node model.RuleChainNode) model.NodeResult {
	cmd := model.ActionCommand{
		DeviceUUID: node.Config.ActionDeviceUUID,
		StateName:  node.Config.ActionStateName,
		Value:      node.Config.ActionValueExpr,
		Critical:   node.Config.ActionCritical,
	}
	return model.NodeResult{NodeID: node.ID, Type: node.Type, Matched: true, Actions: []model.ActionCommand{cmd}}
}
