package model

import "testing"

func TestSnapshotSetAndFindSensorValue(t *testing.T) {
	s := &Snapshot{}
	s.Set(OriginatorSensor, "s1", "temp", 42.0)

	v, ok := s.Find(OriginatorSensor, "s1", "temp")
	if !ok || v != 42.0 {
		t.Fatalf("expected to find temp=42.0, got %v, ok=%v", v, ok)
	}
}

func TestSnapshotFindMissingReturnsFalse(t *testing.T) {
	s := &Snapshot{}
	if _, ok := s.Find(OriginatorSensor, "s1", "temp"); ok {
		t.Fatalf("expected ok=false for an unresolved reference")
	}
}

func TestSnapshotDerivedBucketIsScopeFree(t *testing.T) {
	s := &Snapshot{}
	s.Set(OriginatorNone, "", "computed", "hot")

	v, ok := s.Find(OriginatorNone, "", "computed")
	if !ok || v != "hot" {
		t.Fatalf("expected to find the derived value, got %v, ok=%v", v, ok)
	}
	// Empty sourceType must route to the same bucket as explicit OriginatorNone.
	v2, ok2 := s.Find("", "anything", "computed")
	if !ok2 || v2 != "hot" {
		t.Fatalf("expected empty sourceType to resolve via the Derived bucket, got %v, ok=%v", v2, ok2)
	}
}

func TestSnapshotSetOverwritesExistingEntity(t *testing.T) {
	s := &Snapshot{}
	s.Set(OriginatorDevice, "d1", "state", "off")
	s.Set(OriginatorDevice, "d1", "state", "on")

	v, ok := s.Find(OriginatorDevice, "d1", "state")
	if !ok || v != "on" {
		t.Fatalf("expected the second Set to overwrite, got %v", v)
	}
	if len(s.DeviceData) != 1 {
		t.Fatalf("expected a single entity entry for d1, got %d", len(s.DeviceData))
	}
}
