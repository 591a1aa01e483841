package hlc

import (
	"testing"
	"time"
)

func TestClock_Now(t *testing.T) {
	clock := NewClock(1, nil)

	ts1 := clock.Now()
	if ts1.IsZero() {
		t.Fatal("expected non-zero timestamp")
	}
	if ts1.Node != 1 {
		t.Errorf("expected node 1, got %d", ts1.Node)
	}

	ts2 := clock.Now()
	if !ts2.After(ts1) {
		t.Error("expected ts2 after ts1 (monotonicity)")
	}

	ts3 := clock.Now()
	if !ts3.After(ts2) {
		t.Error("expected ts3 after ts2")
	}
}

func TestClock_Monotonicity(t *testing.T) {
	clock := NewClock(1, nil)

	var prev Timestamp
	for i := 0; i < 1000; i++ {
		ts := clock.Now()
		if i > 0 && !ts.After(prev) {
			t.Fatalf("monotonicity violated at iteration %d: %v not after %v", i, ts, prev)
		}
		prev = ts
	}
}

func TestClock_Observe(t *testing.T) {
	clock1 := NewClock(1, nil)
	clock2 := NewClock(2, nil)

	ts1 := clock1.Now()
	clock2.Observe(ts1)

	ts2 := clock2.Now()
	if !ts2.After(ts1) {
		t.Errorf("expected ts2 after ts1: ts1=%v, ts2=%v", ts1, ts2)
	}
}

func TestClock_ObserveFutureRemote(t *testing.T) {
	clock := NewClock(1, nil)

	future := Timestamp{Wall: time.Now().Add(time.Hour).UnixMicro(), Counter: 0, Node: 2}
	clock.Observe(future)

	next := clock.Now()
	if !next.After(future) {
		t.Errorf("expected next HLC after observed future remote: %v vs %v", next, future)
	}
}

func TestTimestamp_Before(t *testing.T) {
	tests := []struct {
		name     string
		t1       Timestamp
		t2       Timestamp
		expected bool
	}{
		{
			name:     "earlier wall time",
			t1:       Timestamp{Wall: 100, Counter: 0, Node: 1},
			t2:       Timestamp{Wall: 200, Counter: 0, Node: 2},
			expected: true,
		},
		{
			name:     "same wall, lower counter",
			t1:       Timestamp{Wall: 100, Counter: 5, Node: 1},
			t2:       Timestamp{Wall: 100, Counter: 10, Node: 2},
			expected: true,
		},
		{
			name:     "later wall time",
			t1:       Timestamp{Wall: 200, Counter: 0, Node: 1},
			t2:       Timestamp{Wall: 100, Counter: 0, Node: 2},
			expected: false,
		},
		{
			name:     "same wall, higher counter",
			t1:       Timestamp{Wall: 100, Counter: 10, Node: 1},
			t2:       Timestamp{Wall: 100, Counter: 5, Node: 2},
			expected: false,
		},
		{
			name:     "equal except node, lower node",
			t1:       Timestamp{Wall: 100, Counter: 5, Node: 1},
			t2:       Timestamp{Wall: 100, Counter: 5, Node: 2},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.t1.Before(tt.t2)
			if result != tt.expected {
				t.Errorf("expected %v, got %v for %v < %v", tt.expected, result, tt.t1, tt.t2)
			}
		})
	}
}

func TestTimestamp_TotalOrder(t *testing.T) {
	// HLC is a total order: no two distinct timestamps are ever
	// "concurrent" the way vector clocks are. Node is the final
	// tiebreak when wall and counter coincide.
	t1 := Timestamp{Wall: 100, Counter: 5, Node: 1}
	t2 := Timestamp{Wall: 100, Counter: 5, Node: 2}

	if !t1.Before(t2) {
		t.Error("expected t1 before t2 via node tiebreak")
	}
	if t1.Equal(t2) {
		t.Error("t1 and t2 differ by node; must not compare equal")
	}
}

func TestTimestamp_Compare(t *testing.T) {
	t1 := Timestamp{Wall: 100, Counter: 5, Node: 1}
	t2 := Timestamp{Wall: 200, Counter: 3, Node: 2}
	t3 := Timestamp{Wall: 100, Counter: 5, Node: 1}

	if t1.Compare(t2) != -1 {
		t.Error("expected t1 < t2")
	}
	if t2.Compare(t1) != 1 {
		t.Error("expected t2 > t1")
	}
	if t1.Compare(t3) != 0 {
		t.Error("expected t1 == t3")
	}
}

func TestTimestamp_Equal(t *testing.T) {
	t1 := Timestamp{Wall: 100, Counter: 5, Node: 1}
	t2 := Timestamp{Wall: 100, Counter: 5, Node: 1}
	t3 := Timestamp{Wall: 100, Counter: 6, Node: 1}

	if !t1.Equal(t2) {
		t.Error("expected t1 equal t2")
	}
	if t1.Equal(t3) {
		t.Error("expected t1 not equal t3")
	}
}

func TestClock_LogicalIncrement(t *testing.T) {
	clock := NewClock(1, nil)

	var prevWall int64
	var prevCounter uint64
	counterIncremented := false

	for i := 0; i < 100; i++ {
		ts := clock.Now()
		if ts.Wall == prevWall && ts.Counter > prevCounter {
			counterIncremented = true
			break
		}
		prevWall = ts.Wall
		prevCounter = ts.Counter
	}

	if !counterIncremented {
		t.Error("expected counter to increment for at least one timestamp with same wall time")
	}
}

func TestClock_CausalityPreservation(t *testing.T) {
	node1 := NewClock(1, nil)
	node2 := NewClock(2, nil)
	node3 := NewClock(3, nil)

	eventA := node1.Now()
	node2.Observe(eventA)

	eventB := node2.Now()
	if !eventB.After(eventA) {
		t.Error("causality violated: B should happen after A")
	}

	node3.Observe(eventB)

	eventC := node3.Now()
	if !eventC.After(eventB) {
		t.Error("causality violated: C should happen after B")
	}
	if !eventC.After(eventA) {
		t.Error("transitivity violated: C should happen after A")
	}
}

func TestTimestamp_IsZero(t *testing.T) {
	var zero Timestamp
	if !zero.IsZero() {
		t.Error("expected zero timestamp")
	}

	nonZero := Timestamp{Wall: 1, Counter: 0, Node: 1}
	if nonZero.IsZero() {
		t.Error("expected non-zero timestamp")
	}
}

func TestClock_RegressionTie(t *testing.T) {
	// Node A produces HLC (100, 0, 1). Wall time jumps back to 50.
	// The next Now() must be (100, 1, 1), not (50, 0, 1).
	clock := NewClock(1, nil)
	wall := int64(100)
	clock.nowFn = func() int64 { return wall }

	first := clock.Now()
	if first.Wall != 100 || first.Counter != 0 {
		t.Fatalf("expected (100, 0), got (%d, %d)", first.Wall, first.Counter)
	}

	wall = 50
	second := clock.Now()
	if second.Wall != 100 || second.Counter != 1 {
		t.Fatalf("expected (100, 1) after regression, got (%d, %d)", second.Wall, second.Counter)
	}
}

type recordingWarner struct {
	warned bool
	node   NodeID
}

func (r *recordingWarner) WarnClockRegression(node NodeID, previous, observed int64, delta time.Duration) {
	r.warned = true
	r.node = node
}

func TestClock_WarnsOnLargeRegression(t *testing.T) {
	warner := &recordingWarner{}
	clock := NewClock(7, warner)
	wall := int64(10 * time.Hour.Microseconds())
	clock.nowFn = func() int64 { return wall }
	clock.Now()

	wall = 0 // regress by 10 hours, well past the 1h threshold
	clock.Now()

	if !warner.warned {
		t.Error("expected a clock regression warning")
	}
	if warner.node != 7 {
		t.Errorf("expected warning for node 7, got %d", warner.node)
	}
}

func TestClock_ConcurrentEvents(t *testing.T) {
	node1 := NewClock(1, nil)
	node2 := NewClock(2, nil)

	event1 := node1.Now()
	event2 := node2.Now()

	if event1.Wall == event2.Wall && event1.Counter == event2.Counter {
		if event1.Equal(event2) {
			t.Error("timestamps from distinct nodes must never compare equal")
		}
	}
}
