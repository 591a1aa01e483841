// Package oplog defines the tagged-union operation type Documents
// apply and exchange, and the ordered log of operations seen so far.
package oplog

import (
	"fmt"
	"time"

	"github.com/beepshq/beeps/internal/hlc"
)

// Kind identifies which variant of an Op is populated.
type Kind string

const (
	KindSetMinutesPerPing Kind = "SetMinutesPerPing"
	KindAddPing           Kind = "AddPing"
	KindSetTag            Kind = "SetTag"
)

// Op is a single operation stamped with the HLC of the replica that
// created it. Kind selects which of the Minutes/Ping/Tag fields are
// meaningful (SetTag uses both Ping and Tag); see MarshalJSON for the
// wire shape.
type Op struct {
	Clock hlc.Timestamp
	Kind  Kind

	Minutes int       // meaningful iff Kind == KindSetMinutesPerPing
	Ping    time.Time // meaningful iff Kind == KindAddPing or KindSetTag (as "when")
	Tag     *string   // meaningful iff Kind == KindSetTag; nil clears the tag
}

// SetMinutesPerPing builds a SetMinutesPerPing op.
func SetMinutesPerPing(clock hlc.Timestamp, minutes int) Op {
	return Op{Clock: clock, Kind: KindSetMinutesPerPing, Minutes: minutes}
}

// AddPing builds an AddPing op.
func AddPing(clock hlc.Timestamp, instant time.Time) Op {
	return Op{Clock: clock, Kind: KindAddPing, Ping: instant}
}

// SetTag builds a SetTag op. tag may be nil to clear an existing tag.
func SetTag(clock hlc.Timestamp, when time.Time, tag *string) Op {
	return Op{Clock: clock, Kind: KindSetTag, Ping: when, Tag: tag}
}

func (o Op) String() string {
	switch o.Kind {
	case KindSetMinutesPerPing:
		return fmt.Sprintf("SetMinutesPerPing(%d)@%s", o.Minutes, o.Clock)
	case KindAddPing:
		return fmt.Sprintf("AddPing(%s)@%s", o.Ping.UTC().Format(time.RFC3339), o.Clock)
	case KindSetTag:
		tag := "<nil>"
		if o.Tag != nil {
			tag = *o.Tag
		}
		return fmt.Sprintf("SetTag(%s, %q)@%s", o.Ping.UTC().Format(time.RFC3339), tag, o.Clock)
	default:
		return fmt.Sprintf("Op(%s)@%s", o.Kind, o.Clock)
	}
}

// Log records every operation ever applied to a Document, one entry
// per distinct HLC, in append order; Sorted returns them in HLC order.
// Operations are append-only: compaction is a future concern.
type Log struct {
	seen map[hlc.Timestamp]struct{}
	ops  []Op
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{seen: make(map[hlc.Timestamp]struct{})}
}

// Append records op in the log. Reports whether it was newly
// recorded; a duplicate HLC (already-seen op) is a no-op, matching
// apply's idempotence invariant.
func (l *Log) Append(op Op) bool {
	if _, ok := l.seen[op.Clock]; ok {
		return false
	}
	l.seen[op.Clock] = struct{}{}
	l.ops = append(l.ops, op)
	return true
}

// Contains reports whether an op with this clock has already been
// recorded.
func (l *Log) Contains(clock hlc.Timestamp) bool {
	_, ok := l.seen[clock]
	return ok
}

// All returns every recorded op, in append order (not necessarily HLC
// order — the CRDT is order-independent at the state level, so callers
// that need HLC order sort explicitly; see Sorted).
func (l *Log) All() []Op {
	out := make([]Op, len(l.ops))
	copy(out, l.ops)
	return out
}

// Sorted returns every recorded op in HLC order.
func (l *Log) Sorted() []Op {
	out := l.All()
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Clock.Before(out[j-1].Clock); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Since returns every op whose HLC is strictly greater than
// watermarks[op.Clock.Node], including ops from nodes absent from
// watermarks entirely.
func (l *Log) Since(watermarks map[hlc.NodeID]hlc.Timestamp) []Op {
	var out []Op
	for _, op := range l.ops {
		wm, ok := watermarks[op.Clock.Node]
		if !ok || op.Clock.After(wm) {
			out = append(out, op)
		}
	}
	return out
}

// Len returns the number of recorded operations.
func (l *Log) Len() int { return len(l.ops) }
