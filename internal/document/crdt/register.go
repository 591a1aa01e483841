// Package crdt provides the conflict-free replicated data cells that
// make up a Document's logical state: a last-writer-wins register, a
// grow-only set of instants, and a per-key last-writer-wins map.
package crdt

import (
	"time"

	"github.com/beepshq/beeps/internal/hlc"
)

// Register is a last-writer-wins cell holding a value of type T and
// the HLC that assigned it. The zero Register holds the zero value of
// T stamped at the zero Timestamp, which every real assignment beats.
type Register[T any] struct {
	Value T
	Stamp hlc.Timestamp
}

// Set assigns val at ts if ts is greater than the register's current
// stamp, per the LWW merge rule (ties are impossible: HLC is a total
// order, node-id is the final tiebreak baked into Timestamp.Compare).
// Reports whether the assignment took effect.
func (r *Register[T]) Set(val T, ts hlc.Timestamp) bool {
	if ts.Before(r.Stamp) || ts.Equal(r.Stamp) {
		return false
	}
	r.Value = val
	r.Stamp = ts
	return true
}

// Merge pulls in another register's state, keeping whichever
// assignment has the greater HLC. Reports whether the local value
// changed.
func (r *Register[T]) Merge(other Register[T]) bool {
	return r.Set(other.Value, other.Stamp)
}

// InstantSet is a grow-only set of wall-clock instants (the ping
// set). Membership is monotone: once an instant is added it is never
// removed.
type InstantSet struct {
	members map[int64]struct{} // keyed by UnixMicro
}

// NewInstantSet returns an empty InstantSet.
func NewInstantSet() *InstantSet {
	return &InstantSet{members: make(map[int64]struct{})}
}

// Add inserts instant into the set. Reports whether it was newly
// added (false if already present — duplicates collapse).
func (s *InstantSet) Add(instant time.Time) bool {
	key := instant.UnixMicro()
	if _, ok := s.members[key]; ok {
		return false
	}
	s.members[key] = struct{}{}
	return true
}

// Contains reports whether instant is a member.
func (s *InstantSet) Contains(instant time.Time) bool {
	_, ok := s.members[instant.UnixMicro()]
	return ok
}

// Len returns the number of distinct instants.
func (s *InstantSet) Len() int { return len(s.members) }

// Values returns every member instant, sorted ascending.
func (s *InstantSet) Values() []time.Time {
	out := make([]time.Time, 0, len(s.members))
	for key := range s.members {
		out = append(out, time.UnixMicro(key).UTC())
	}
	sortTimes(out)
	return out
}

// Max returns the greatest member instant and true, or the zero time
// and false if the set is empty.
func (s *InstantSet) Max() (time.Time, bool) {
	var max time.Time
	found := false
	for key := range s.members {
		t := time.UnixMicro(key).UTC()
		if !found || t.After(max) {
			max = t
			found = true
		}
	}
	return max, found
}

// Merge unions other's members into s. Grow-only sets merge by union;
// there is nothing to keep vs. discard.
func (s *InstantSet) Merge(other *InstantSet) {
	for key := range other.members {
		s.members[key] = struct{}{}
	}
}

func sortTimes(ts []time.Time) {
	// simple insertion sort: ping sets are small (one document's
	// worth of pings), and avoids pulling in sort for a single call site
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j].Before(ts[j-1]); j-- {
			ts[j], ts[j-1] = ts[j-1], ts[j]
		}
	}
}

// TagMap is a mapping from ping instant to a last-writer-wins register
// of an optional string tag. A nil *string means the tag was cleared;
// a non-nil pointer to "" is a legitimate assigned-empty-string tag. A
// key that was never assigned has no register at all, so clearing a
// tag is distinct from never setting one — §4.2.1 calls this out
// explicitly: "None is a legitimate register value; it does not erase
// the key."
type TagMap struct {
	entries map[int64]Register[*string]
}

// NewTagMap returns an empty TagMap.
func NewTagMap() *TagMap {
	return &TagMap{entries: make(map[int64]Register[*string])}
}

// Set assigns tag (nil for "no tag") to the register keyed by
// instant at ts, following the LWW rule. Reports whether the
// assignment took effect.
func (m *TagMap) Set(instant time.Time, tag *string, ts hlc.Timestamp) bool {
	key := instant.UnixMicro()
	reg := m.entries[key]
	changed := reg.Set(tag, ts)
	m.entries[key] = reg
	return changed
}

// Get returns the current tag for instant (nil if never assigned or
// explicitly cleared) and whether a register exists at all for it.
func (m *TagMap) Get(instant time.Time) (*string, bool) {
	reg, ok := m.entries[instant.UnixMicro()]
	if !ok {
		return nil, false
	}
	return reg.Value, true
}

// Merge pulls in other's entries key by key, applying the LWW rule
// per key.
func (m *TagMap) Merge(other *TagMap) {
	for key, reg := range other.entries {
		existing := m.entries[key]
		existing.Merge(reg)
		m.entries[key] = existing
	}
}

// Snapshot returns a plain map of instant (UnixMicro) to tag value,
// omitting keys whose current tag is nil, for presentation to callers
// that only care about "what is the label right now."
func (m *TagMap) Snapshot() map[int64]string {
	out := make(map[int64]string, len(m.entries))
	for key, reg := range m.entries {
		if reg.Value != nil {
			out[key] = *reg.Value
		}
	}
	return out
}
