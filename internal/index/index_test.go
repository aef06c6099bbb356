package index

import (
	"testing"

	"github.com/itskum47/ruleforge/internal/model"
)

func TestCacheKeyFormat(t *testing.T) {
	got := cacheKey(model.OriginatorSensor, "s1", "temp")
	want := "rulechain:var:sensor:s1:temp"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestToSliceReturnsSortedIDs(t *testing.T) {
	set := map[string]struct{}{"rc-b": {}, "rc-a": {}, "rc-c": {}}
	got := toSlice(set)
	want := []string{"rc-a", "rc-b", "rc-c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected sorted order %v, got %v", want, got)
		}
	}
}

func TestToSliceEmptySetReturnsNil(t *testing.T) {
	if got := toSlice(map[string]struct{}{}); got != nil {
		t.Fatalf("expected nil for an empty set, got %v", got)
	}
}

func TestLeavesFlattensAndOr(t *testing.T) {
	f := model.FilterExpr{
		And: []model.FilterExpr{
			{Op: "eq", Key: "a"},
			{Or: []model.FilterExpr{
				{Op: "gt", Key: "b"},
				{Op: "lt", Key: "c"},
			}},
		},
	}
	got := leaves(f)
	if len(got) != 3 {
		t.Fatalf("expected 3 leaves, got %d (%+v)", len(got), got)
	}
}
