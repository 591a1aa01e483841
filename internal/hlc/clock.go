// Package hlc implements a hybrid logical clock: a monotone,
// globally-unique timestamp that tracks causality across replicas
// without requiring synchronized wall clocks.
package hlc

import (
	"fmt"
	"sync"
	"time"
)

// NodeID is a process-lifetime-unique small integer identifying a
// replica.
type NodeID uint32

// Timestamp is an HLC value (T, C, N): a wall-clock reading with at
// least microsecond resolution, an unsigned counter that breaks ties
// within the same wall-clock tick, and the node that produced it. The
// zero value sorts before any timestamp a Clock produces and is safe
// to use as a "nothing observed yet" watermark.
type Timestamp struct {
	Wall    int64 // microseconds since Unix epoch
	Counter uint64
	Node    NodeID
}

// Compare returns -1, 0, or 1 as t is less than, equal to, or greater
// than other, lexicographically on (Wall, Counter, Node).
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.Wall != other.Wall:
		return sign(t.Wall - other.Wall)
	case t.Counter != other.Counter:
		return signU(t.Counter, other.Counter)
	case t.Node != other.Node:
		return sign(int64(t.Node) - int64(other.Node))
	default:
		return 0
	}
}

func sign(v int64) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}

func signU(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Before reports whether t happened strictly before other.
func (t Timestamp) Before(other Timestamp) bool { return t.Compare(other) < 0 }

// After reports whether t happened strictly after other.
func (t Timestamp) After(other Timestamp) bool { return t.Compare(other) > 0 }

// Equal reports whether t and other are the same timestamp.
func (t Timestamp) Equal(other Timestamp) bool { return t.Compare(other) == 0 }

// IsZero reports whether t is the zero Timestamp.
func (t Timestamp) IsZero() bool { return t == Timestamp{} }

func (t Timestamp) String() string {
	wall := time.UnixMicro(t.Wall).UTC().Format(time.RFC3339Nano)
	return fmt.Sprintf("HLC(%s, c=%d, n=%d)", wall, t.Counter, t.Node)
}

// RegressionWarner is notified when a wall-clock reading regresses far
// enough from the last produced timestamp to be worth surfacing. The
// clock still advances normally; this is informational only (per the
// ClockRegression error kind: logged, counter carries forward).
type RegressionWarner interface {
	WarnClockRegression(node NodeID, previous, observed int64, delta time.Duration)
}

// largeRegression is the threshold past which a backwards jump in wall
// time is reported via RegressionWarner rather than silently absorbed.
const largeRegression = time.Hour

// Clock is a thread-safe hybrid logical clock for one node.
type Clock struct {
	mu     sync.Mutex
	last   Timestamp
	node   NodeID
	warner RegressionWarner
	nowFn  func() int64 // wall time in microseconds; overridable for tests
}

// NewClock creates a Clock for the given node. warner may be nil, in
// which case clock regressions are not reported anywhere.
func NewClock(node NodeID, warner RegressionWarner) *Clock {
	return &Clock{
		node:   node,
		warner: warner,
		nowFn:  func() int64 { return time.Now().UnixMicro() },
	}
}

// Now produces a new HLC timestamp strictly greater than any timestamp
// previously produced or observed by this node.
//
// Let w be the current wall-clock reading and (Tp, Cp) the previously
// produced timestamp. The new T is max(w, Tp); the new C is Cp+1 if
// T == Tp, else 0.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.nowFn()
	c.warnIfRegressed(w)

	next := c.last.Wall
	if w > next {
		next = w
	}

	var counter uint64
	if next == c.last.Wall {
		counter = c.last.Counter + 1
	}

	c.last = Timestamp{Wall: next, Counter: counter, Node: c.node}
	return c.last
}

// Observe advances the clock so that a subsequent Now() is guaranteed
// to be strictly greater than remote. Used when applying an operation
// stamped by another replica.
func (c *Clock) Observe(remote Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.nowFn()
	c.warnIfRegressed(w)

	next := c.last.Wall
	if w > next {
		next = w
	}
	if remote.Wall > next {
		next = remote.Wall
	}

	var counter uint64
	switch {
	case next == c.last.Wall && next == remote.Wall:
		counter = maxU(c.last.Counter, remote.Counter) + 1
	case next == c.last.Wall:
		counter = c.last.Counter + 1
	case next == remote.Wall:
		counter = remote.Counter + 1
	}

	c.last = Timestamp{Wall: next, Counter: counter, Node: c.node}
}

// Last returns the most recently produced or observed timestamp
// without advancing the clock.
func (c *Clock) Last() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Node returns the node identifier this Clock stamps timestamps with.
func (c *Clock) Node() NodeID { return c.node }

func (c *Clock) warnIfRegressed(w int64) {
	if c.warner == nil || c.last.Wall == 0 {
		return
	}
	if delta := c.last.Wall - w; delta > int64(largeRegression/time.Microsecond) {
		c.warner.WarnClockRegression(c.node, c.last.Wall, w, time.Duration(delta)*time.Microsecond)
	}
}

func maxU(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
