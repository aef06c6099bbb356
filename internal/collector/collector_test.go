package collector

import (
	"context"
	"testing"
	"time"

	"github.com/itskum47/ruleforge/internal/model"
	"github.com/itskum47/ruleforge/internal/store"
)

type fakeReader struct {
	calls  int
	values []store.RawTelemetryValue
	err    error
}

func (f *fakeReader) LatestValues(ctx context.Context, sourceType model.OriginatorType, uuids, keys []string) ([]store.RawTelemetryValue, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.values, nil
}

func chainWithFilterLeaf(sourceType model.OriginatorType, uuid, key, datatype string) []*model.RuleChain {
	return []*model.RuleChain{{
		ID: "rc-1",
		Nodes: []model.RuleChainNode{
			{Type: model.NodeFilter, Config: model.NodeConfig{Filter: &model.FilterExpr{
				SourceType: sourceType, UUID: uuid, Key: key, Op: "gt", Value: 0,
			}}},
		},
	}}
}

func TestCollectCoercesNumberDatatype(t *testing.T) {
	reader := &fakeReader{values: []store.RawTelemetryValue{
		{UUID: "s1", Key: "temp", Value: "42.5", Datatype: "number"},
	}}
	c := New(reader, 0, 0)
	snapshot := c.Collect(context.Background(), chainWithFilterLeaf(model.OriginatorSensor, "s1", "temp", "number"))

	v, ok := snapshot.Find(model.OriginatorSensor, "s1", "temp")
	if !ok {
		t.Fatalf("expected temp to be present in the snapshot")
	}
	if v != 42.5 {
		t.Fatalf("expected coerced float64 42.5, got %v (%T)", v, v)
	}
}

func TestCollectCoercesBooleanDatatype(t *testing.T) {
	reader := &fakeReader{values: []store.RawTelemetryValue{
		{UUID: "d1", Key: "on", Value: "true", Datatype: "boolean"},
	}}
	c := New(reader, 0, 0)
	snapshot := c.Collect(context.Background(), chainWithFilterLeaf(model.OriginatorDevice, "d1", "on", "boolean"))

	v, ok := snapshot.Find(model.OriginatorDevice, "d1", "on")
	if !ok || v != true {
		t.Fatalf("expected coerced bool true, got %v, ok=%v", v, ok)
	}
}

func TestCollectCachesAcrossCalls(t *testing.T) {
	reader := &fakeReader{values: []store.RawTelemetryValue{
		{UUID: "s1", Key: "temp", Value: "1", Datatype: "number"},
	}}
	c := New(reader, 0, 5*time.Second)
	chains := chainWithFilterLeaf(model.OriginatorSensor, "s1", "temp", "number")

	c.Collect(context.Background(), chains)
	c.Collect(context.Background(), chains)

	if reader.calls != 1 {
		t.Fatalf("expected the second Collect to hit cache without a second fetch, got %d calls", reader.calls)
	}
}

func TestCollectMarksDegradedOnFetchFailure(t *testing.T) {
	reader := &fakeReader{err: context.DeadlineExceeded}
	c := New(reader, 0, 0)
	chains := chainWithFilterLeaf(model.OriginatorSensor, "s1", "temp", "number")

	c.Collect(context.Background(), chains)
	if c.Healthy() {
		t.Fatalf("expected Collector to report unhealthy after a fetch failure")
	}
}
