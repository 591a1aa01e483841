// Package document implements the replicated CRDT document: the
// merge-on-apply state machine, the deterministic Poisson ping
// scheduler, and the wire/file envelope for a Document's operation
// log. This is the "core" the rest of Beeps is built around — every
// client replica holds one Document per tracked account; the sync
// service stores only the operations and never builds a Document.
package document

import (
	"sync"
	"time"

	"github.com/beepshq/beeps/internal/document/crdt"
	"github.com/beepshq/beeps/internal/document/oplog"
	"github.com/beepshq/beeps/internal/hlc"
)

// defaultMinutesPerPing is the register's value before any
// SetMinutesPerPing op has ever been applied (§3: "default 45").
const defaultMinutesPerPing = 45

// View is a read-only snapshot of a Document's logical state, safe to
// hand to a UI or serializer without holding the Document's lock.
type View struct {
	MinutesPerPing int
	Pings          []time.Time
	Tags           map[int64]string // keyed by ping UnixMicro, omits untagged/cleared pings
}

// Document is the replicated CRDT state described in §3: a
// last-writer-wins minutes-per-ping register, a grow-only set of ping
// instants, and a per-ping last-writer-wins tag register — plus the
// operation log that produced them.
type Document struct {
	mu    sync.RWMutex
	clock *hlc.Clock

	log            *oplog.Log
	minutesPerPing crdt.Register[int]
	pings          *crdt.InstantSet
	tags           *crdt.TagMap
}

// New returns an empty Document bound to a fresh Clock for node.
// warner may be nil; see hlc.RegressionWarner.
func New(node hlc.NodeID, warner hlc.RegressionWarner) *Document {
	return &Document{
		clock:          hlc.NewClock(node, warner),
		log:            oplog.NewLog(),
		minutesPerPing: crdt.Register[int]{Value: defaultMinutesPerPing},
		pings:          crdt.NewInstantSet(),
		tags:           crdt.NewTagMap(),
	}
}

// Clock returns the Document's hybrid logical clock, so callers that
// stamp operations outside the Document's own mutator methods (e.g.
// when replaying a persisted log) can keep it observing remote HLCs.
func (d *Document) Clock() *hlc.Clock { return d.clock }

// Apply merges a single operation into the Document's state following
// the field-wise CRDT merge rules of §4.2.1. Applying the same
// operation (same HLC) twice is a no-op, satisfying idempotence.
// Apply never rejects a remote SetTag against an unknown ping: tag
// validation is a local, pre-stamp check (UnknownPing), not a merge
// rule, since the CRDT must converge regardless of delivery order.
func (d *Document) Apply(op oplog.Op) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyLocked(op)
}

// ApplyAll merges a batch of operations, in any order, observing the
// clock on every HLC encountered so the local Clock never regresses
// behind a remote replica's.
func (d *Document) ApplyAll(ops []oplog.Op) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range ops {
		d.applyLocked(op)
	}
}

func (d *Document) applyLocked(op oplog.Op) {
	if !d.log.Append(op) {
		return // already-seen HLC: no-op, per idempotence invariant
	}
	d.clock.Observe(op.Clock)

	switch op.Kind {
	case oplog.KindSetMinutesPerPing:
		d.minutesPerPing.Set(op.Minutes, op.Clock)
	case oplog.KindAddPing:
		d.pings.Add(op.Ping)
	case oplog.KindSetTag:
		d.tags.Set(op.Ping, op.Tag, op.Clock)
	}
}

// AddPing stamps and applies an AddPing operation for instant,
// returning the originating op so callers can push it to the sync
// service. Adding the same instant twice collapses at the set level
// but each call still produces (and applies) a distinct op.
func (d *Document) AddPing(instant time.Time) oplog.Op {
	d.mu.Lock()
	defer d.mu.Unlock()

	op := oplog.AddPing(d.clock.Now(), instant)
	d.applyLocked(op)
	return op
}

// SetTag stamps and applies a SetTag operation, clearing the tag if
// tag is nil. Returns ErrUnknownPing if instant is not a member of the
// ping set — per §4.2, set_tag "must reference an existing ping."
func (d *Document) SetTag(instant time.Time, tag *string) (oplog.Op, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.pings.Contains(instant) {
		return oplog.Op{}, ErrUnknownPing
	}

	op := oplog.SetTag(d.clock.Now(), instant, tag)
	d.applyLocked(op)
	return op, nil
}

// SetMinutesPerPing stamps and applies a SetMinutesPerPing operation.
// Returns ErrInvalidRate if n <= 0.
func (d *Document) SetMinutesPerPing(n int) (oplog.Op, error) {
	if n <= 0 {
		return oplog.Op{}, ErrInvalidRate
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	op := oplog.SetMinutesPerPing(d.clock.Now(), n)
	d.applyLocked(op)
	return op, nil
}

// View returns a read-only snapshot of the Document's current state.
func (d *Document) View() View {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return View{
		MinutesPerPing: d.minutesPerPing.Value,
		Pings:          d.pings.Values(),
		Tags:           d.tags.Snapshot(),
	}
}

// OpsSince returns every logged operation strictly newer than
// watermarks, per node, in the order required by the Sync service's
// GET /ops semantics (§4.3): ops for nodes absent from watermarks are
// included in full. The caller sorts by HLC if a deterministic order
// is wanted for display; correctness never depends on it.
func (d *Document) OpsSince(watermarks map[hlc.NodeID]hlc.Timestamp) []oplog.Op {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.log.Since(watermarks)
}

// Ops returns every operation ever applied to the Document, in append
// order (not HLC order).
func (d *Document) Ops() []oplog.Op {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.log.All()
}

// Len reports how many operations the Document has recorded.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.log.Len()
}
