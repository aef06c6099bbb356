// Package collector implements the data collector (C8): materializing
// the minimal latest-value snapshot a set of rule chains need, with a
// short-TTL LRU value cache backed by
// github.com/hashicorp/golang-lru/v2/expirable (confirmed ecosystem
// dependency across the pack's manifests). Failure policy is grounded
// on the teacher's resilience.DegradedMode "keep going, mark
// unavailable" pattern, applied here to batch fetch failures.
package collector

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/itskum47/ruleforge/internal/metrics"
	"github.com/itskum47/ruleforge/internal/model"
	"github.com/itskum47/ruleforge/internal/resilience"
	"github.com/itskum47/ruleforge/internal/store"
)

const defaultCacheTTL = 5 * time.Second

type cacheKey struct {
	sourceType model.OriginatorType
	uuid       string
	key        string
}

// Collector materializes snapshots for rule chain execution.
type Collector struct {
	reader   store.TelemetryReader
	cache    *expirable.LRU[cacheKey, store.RawTelemetryValue]
	degraded *resilience.DegradedMode
}

func New(reader store.TelemetryReader, cap int, ttl time.Duration) *Collector {
	if cap <= 0 {
		cap = 10_000
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Collector{
		reader:   reader,
		cache:    expirable.NewLRU[cacheKey, store.RawTelemetryValue](cap, nil, ttl),
		degraded: resilience.NewDegradedMode(),
	}
}

// Healthy reports whether the last batch fetch against the relational
// store succeeded, for the readiness probe (§6).
func (c *Collector) Healthy() bool {
	return c.degraded.Available()
}

// tuple is a (sourceType, UUID, key) reference a filter node requires.
type tuple struct {
	sourceType model.OriginatorType
	uuid       string
	key        string
}

// Collect walks the filter-node configs of the requested rule chains
// and reads the latest value of every referenced variable, one batch
// query per source type (§4.8).
func (c *Collector) Collect(ctx context.Context, chains []*model.RuleChain) *model.Snapshot {
	start := time.Now()
	defer func() { metrics.DataCollectionDuration.Observe(time.Since(start).Seconds()) }()

	needed := collectTuples(chains)
	snapshot := &model.Snapshot{}

	bySource := make(map[model.OriginatorType]map[string]map[string]struct{})
	for _, t := range needed {
		if _, ok := c.cache.Get(cacheKey(t)); ok {
			continue
		}
		uuids, ok := bySource[t.sourceType]
		if !ok {
			uuids = make(map[string]map[string]struct{})
			bySource[t.sourceType] = uuids
		}
		keys, ok := uuids[t.uuid]
		if !ok {
			keys = make(map[string]struct{})
			uuids[t.uuid] = keys
		}
		keys[t.key] = struct{}{}
	}

	for sourceType, uuidMap := range bySource {
		uuids := make([]string, 0, len(uuidMap))
		keySet := make(map[string]struct{})
		for uuid, keys := range uuidMap {
			uuids = append(uuids, uuid)
			for k := range keys {
				keySet[k] = struct{}{}
			}
		}
		keys := make([]string, 0, len(keySet))
		for k := range keySet {
			keys = append(keys, k)
		}

		values, err := c.reader.LatestValues(ctx, sourceType, uuids, keys)
		if err != nil {
			metrics.CardinalityRejections.WithLabelValues("collector_fetch_failed").Inc()
			c.degraded.MarkUnavailable()
			c.degraded.RecordMiss("collector", string(sourceType))
			continue
		}
		c.degraded.MarkAvailable()
		for _, v := range values {
			c.cache.Add(cacheKey{sourceType: sourceType, uuid: v.UUID, key: v.Key}, v)
		}
	}

	for _, t := range needed {
		v, ok := c.cache.Get(cacheKey(t))
		if !ok {
			continue
		}
		if v.UUID == "" {
			continue // values that carry no UUID are dropped
		}
		snapshot.Set(t.sourceType, t.uuid, t.key, coerce(v.Value, v.Datatype))
	}

	return snapshot
}

func collectTuples(chains []*model.RuleChain) []tuple {
	seen := make(map[tuple]struct{})
	var out []tuple
	for _, rc := range chains {
		for _, n := range rc.Nodes {
			if n.Type != model.NodeFilter || n.Config.Filter == nil {
				continue
			}
			for _, leaf := range leaves(*n.Config.Filter) {
				if leaf.SourceType == "" || leaf.UUID == "" || leaf.Key == "" {
					continue
				}
				t := tuple{sourceType: leaf.SourceType, uuid: leaf.UUID, key: leaf.Key}
				if _, dup := seen[t]; dup {
					continue
				}
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	return out
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

// coerce applies the declared datatype per §4.8: number -> numeric
// parse, boolean -> case-insensitive truthy, else raw string.
func coerce(raw, datatype string) interface{} {
	switch datatype {
	case "number":
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return raw
	case "boolean":
		return strings.EqualFold(raw, "true") || raw == "1"
	default:
		return raw
	}
}
