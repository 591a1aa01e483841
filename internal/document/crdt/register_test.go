package crdt

import (
	"testing"
	"time"

	"github.com/beepshq/beeps/internal/hlc"
)

func ts(wall int64, counter uint64, node hlc.NodeID) hlc.Timestamp {
	return hlc.Timestamp{Wall: wall, Counter: counter, Node: node}
}

func TestRegister_SetKeepsGreatestHLC(t *testing.T) {
	var r Register[int]

	if !r.Set(45, ts(100, 0, 1)) {
		t.Fatal("expected first assignment to take effect")
	}
	if r.Value != 45 {
		t.Fatalf("expected 45, got %d", r.Value)
	}

	// a lower HLC must not overwrite
	if r.Set(90, ts(50, 0, 2)) {
		t.Error("expected lower-HLC assignment to be rejected")
	}
	if r.Value != 45 {
		t.Errorf("value changed despite lower HLC: %d", r.Value)
	}

	// a higher HLC wins
	if !r.Set(90, ts(200, 0, 2)) {
		t.Error("expected higher-HLC assignment to take effect")
	}
	if r.Value != 90 {
		t.Errorf("expected 90, got %d", r.Value)
	}
}

func TestRegister_Merge(t *testing.T) {
	a := Register[string]{Value: "meeting", Stamp: ts(300, 0, 1)}
	b := Register[string]{Value: "work", Stamp: ts(200, 0, 2)}

	if a.Merge(b) {
		t.Error("merging an older register must not change the value")
	}
	if a.Value != "meeting" {
		t.Errorf("expected meeting to survive, got %q", a.Value)
	}

	c := Register[string]{Value: "lunch", Stamp: ts(400, 0, 2)}
	if !a.Merge(c) {
		t.Error("merging a newer register must change the value")
	}
	if a.Value != "lunch" {
		t.Errorf("expected lunch, got %q", a.Value)
	}
}

func TestInstantSet_AddAndMerge(t *testing.T) {
	s := NewInstantSet()
	t1 := time.UnixMicro(1000)
	t2 := time.UnixMicro(2000)

	if !s.Add(t1) {
		t.Error("expected first add to report true")
	}
	if s.Add(t1) {
		t.Error("duplicate add must collapse and report false")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 member, got %d", s.Len())
	}

	other := NewInstantSet()
	other.Add(t2)
	s.Merge(other)

	if s.Len() != 2 {
		t.Fatalf("expected 2 members after merge, got %d", s.Len())
	}
	if !s.Contains(t2) {
		t.Error("expected merged instant to be present")
	}
}

func TestInstantSet_Max(t *testing.T) {
	s := NewInstantSet()
	if _, ok := s.Max(); ok {
		t.Fatal("expected empty set to have no max")
	}

	s.Add(time.UnixMicro(1000))
	s.Add(time.UnixMicro(5000))
	s.Add(time.UnixMicro(3000))

	max, ok := s.Max()
	if !ok {
		t.Fatal("expected a max")
	}
	if max.UnixMicro() != 5000 {
		t.Errorf("expected max 5000, got %d", max.UnixMicro())
	}
}

func TestTagMap_NoneIsLegitimateValue(t *testing.T) {
	m := NewTagMap()
	instant := time.UnixMicro(1000)

	tag := "work"
	m.Set(instant, &tag, ts(100, 0, 1))

	if !m.Set(instant, nil, ts(200, 0, 1)) {
		t.Fatal("expected clearing the tag to take effect")
	}

	val, exists := m.Get(instant)
	if !exists {
		t.Fatal("clearing a tag must not erase the key")
	}
	if val != nil {
		t.Errorf("expected cleared tag to be nil, got %q", *val)
	}
}

func TestTagMap_MergeLWWPerKey(t *testing.T) {
	instant := time.UnixMicro(1000)
	a := NewTagMap()
	b := NewTagMap()

	work := "work"
	meeting := "meeting"
	a.Set(instant, &meeting, ts(300, 0, 1))
	b.Set(instant, &work, ts(200, 0, 2))

	a.Merge(b)

	val, _ := a.Get(instant)
	if val == nil || *val != "meeting" {
		t.Errorf("expected meeting (greater HLC) to win, got %v", val)
	}
}

func TestTagMap_Snapshot(t *testing.T) {
	m := NewTagMap()
	instant := time.UnixMicro(1000)
	tag := "gym"
	m.Set(instant, &tag, ts(100, 0, 1))

	snap := m.Snapshot()
	if snap[instant.UnixMicro()] != "gym" {
		t.Errorf("expected snapshot to include gym, got %v", snap)
	}
}
