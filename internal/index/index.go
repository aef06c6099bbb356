// Package index maintains the variable-level originator index (C1):
// (sourceType, originatorId, variableName) -> {ruleChainId}, cached
// over the relational rule-chain-node table, following the teacher's
// pattern of a narrow store-backed component with its own cache
// connection borrowed from process scope (never owned, never closed
// by the component itself).
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/itskum47/ruleforge/internal/metrics"
	"github.com/itskum47/ruleforge/internal/model"
	"github.com/itskum47/ruleforge/internal/resilience"
	"github.com/itskum47/ruleforge/internal/store"
)

const defaultTTL = 3600 * time.Second

// Index is the originator index described in §4.1. It is safe for
// concurrent use; two simultaneous misses for the same originator are
// allowed to re-issue the rebuild query since cache writes are
// idempotent.
type Index struct {
	client   *redis.Client
	reader   store.FilterNodeReader
	ttl      time.Duration
	degraded *resilience.DegradedMode
}

func New(client *redis.Client, reader store.FilterNodeReader, ttl time.Duration) *Index {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Index{client: client, reader: reader, ttl: ttl, degraded: resilience.NewDegradedMode()}
}

func cacheKey(sourceType model.OriginatorType, originatorID, variable string) string {
	return fmt.Sprintf("rulechain:var:%s:%s:%s", sourceType, originatorID, variable)
}

// Lookup returns the union of rule-chain IDs whose filter nodes
// reference any of the given variables on the given originator. Only
// the sensor/device source types are valid. On any store failure it
// returns an empty set rather than an error — callers treat that as
// "no matching rules known right now" (§4.1).
func (ix *Index) Lookup(ctx context.Context, sourceType model.OriginatorType, originatorID string, variableNames []string) ([]string, error) {
	if sourceType != model.OriginatorSensor && sourceType != model.OriginatorDevice {
		return nil, model.NewError(model.KindInvalidArgument, "unknown sourceType: "+string(sourceType), nil)
	}
	if len(variableNames) == 0 {
		return nil, nil
	}

	result := make(map[string]struct{})
	var missed []string

	for _, v := range variableNames {
		raw, err := ix.client.Get(ctx, cacheKey(sourceType, originatorID, v)).Result()
		if err == redis.Nil {
			missed = append(missed, v)
			continue
		}
		if err != nil {
			metrics.IndexCacheErrors.Inc()
			return nil, nil
		}
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			missed = append(missed, v)
			continue
		}
		for _, id := range ids {
			result[id] = struct{}{}
		}
		metrics.IndexCacheHits.Inc()
	}

	if len(missed) > 0 {
		metrics.IndexCacheMisses.Add(float64(len(missed)))
		refs, err := ix.reader.QueryFilterNodes(ctx, sourceType, originatorID)
		if err != nil {
			// Degraded-mode fallback per §9 expansion: record the
			// attempted read so it can be reconciled, but still honor
			// the "return empty rather than raise" contract.
			metrics.IndexRebuildErrors.Inc()
			ix.degraded.MarkUnavailable()
			ix.degraded.RecordMiss("index", cacheKey(sourceType, originatorID, ""))
			return nil, nil
		}
		ix.degraded.MarkAvailable()

		byVar := make(map[string]map[string]struct{})
		for _, ref := range refs {
			set, ok := byVar[ref.Variable]
			if !ok {
				set = make(map[string]struct{})
				byVar[ref.Variable] = set
			}
			set[ref.RuleChainID] = struct{}{}
			result[ref.RuleChainID] = struct{}{}
		}

		pipe := ix.client.Pipeline()
		for _, v := range missed {
			ids := toSlice(byVar[v])
			payload, _ := json.Marshal(ids)
			pipe.Set(ctx, cacheKey(sourceType, originatorID, v), payload, ix.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			metrics.IndexCacheErrors.Inc()
		}
	}

	return toSlice(result), nil
}

// Invalidate drops every cache entry for the given originator across
// the variables named. The index does not track which variables an
// originator has cached, so callers that know the affected variable
// set should pass it; otherwise use InvalidateByRuleChain after a full
// rebuild query.
func (ix *Index) Invalidate(ctx context.Context, sourceType model.OriginatorType, originatorID string, variableNames []string) error {
	if len(variableNames) == 0 {
		return nil
	}
	keys := make([]string, len(variableNames))
	for i, v := range variableNames {
		keys[i] = cacheKey(sourceType, originatorID, v)
	}
	return ix.client.Del(ctx, keys...).Err()
}

// InvalidateByRuleChain drops cache entries for every (sourceType,
// originatorId, variable) tuple the chain's filter nodes reference.
// Missing one leaves correctness drift until TTL expiry (§4.1
// invariant b), so this visits every leaf in every filter node.
func (ix *Index) InvalidateByRuleChain(ctx context.Context, rc *model.RuleChain) error {
	var keys []string
	for _, n := range rc.Nodes {
		if n.Type != model.NodeFilter || n.Config.Filter == nil {
			continue
		}
		for _, leaf := range leaves(*n.Config.Filter) {
			if leaf.SourceType == "" || leaf.UUID == "" || leaf.Key == "" {
				continue
			}
			keys = append(keys, cacheKey(leaf.SourceType, leaf.UUID, leaf.Key))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return ix.client.Del(ctx, keys...).Err()
}

func leaves(f model.FilterExpr) []model.FilterExpr {
	if f.Op != "" {
		return []model.FilterExpr{f}
	}
	var out []model.FilterExpr
	for _, c := range f.And {
		out = append(out, leaves(c)...)
	}
	for _, c := range f.Or {
		out = append(out, leaves(c)...)
	}
	return out
}

// Healthy reports whether the last rebuild query against the
// relational store succeeded, for the readiness probe (§6).
func (ix *Index) Healthy() bool {
	return ix.degraded.Available()
}

func toSlice(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
