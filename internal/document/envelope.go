package document

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/beepshq/beeps/internal/document/oplog"
	"github.com/beepshq/beeps/internal/hlc"
)

// Envelope is the wire/file shape described in §4.2.3 and §6:
// {"node_id": N, "operations": [...]}. Operations are always
// serialized in HLC order so that re-serializing an unchanged
// Document is byte-equal to the original (the round-trip invariant of
// §8), independent of the order operations were appended in.
type Envelope struct {
	NodeID     hlc.NodeID `json:"node_id"`
	Operations []oplog.Op `json:"operations"`
}

// Envelope returns d's current operation log as a serializable
// Envelope.
func (d *Document) Envelope() Envelope {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Envelope{NodeID: d.clock.Node(), Operations: d.log.Sorted()}
}

// MarshalJSON renders the Document as its canonical envelope.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Envelope())
}

// legacyEnvelope is the pre-CRDT on-disk shape: a flat list of pings,
// each with an optional tag, and no operation log at all. §4.2.3's
// closing paragraph describes upgrading one of these by synthesizing
// an AddPing (+ optional SetTag) operation per entry, stamped at the
// Document's epoch origin.
type legacyEnvelope struct {
	MinutesPerPing *int         `json:"minutes_per_ping,omitempty"`
	Pings          []legacyPing `json:"pings"`
}

type legacyPing struct {
	When string  `json:"when"`
	Tag  *string `json:"tag,omitempty"`
}

// Parse decodes a persisted Document from its JSON envelope,
// transparently upgrading the legacy {"pings": [...]} shape if that is
// what data contains. warner may be nil.
func Parse(data []byte, node hlc.NodeID, warner hlc.RegressionWarner) (*Document, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("document: malformed envelope: %w", err)
	}

	if _, isCurrent := probe["operations"]; isCurrent {
		return parseCurrentEnvelope(data, warner)
	}
	if _, isLegacy := probe["pings"]; isLegacy {
		return parseLegacyEnvelope(data, node, warner)
	}

	return nil, fmt.Errorf("document: envelope has neither \"operations\" nor \"pings\"")
}

func parseCurrentEnvelope(data []byte, warner hlc.RegressionWarner) (*Document, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("document: invalid envelope: %w", err)
	}

	doc := New(env.NodeID, warner)
	doc.ApplyAll(env.Operations)
	return doc, nil
}

func parseLegacyEnvelope(data []byte, node hlc.NodeID, warner hlc.RegressionWarner) (*Document, error) {
	var legacy legacyEnvelope
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("document: invalid legacy envelope: %w", err)
	}

	doc := New(node, warner)

	minutes := defaultMinutesPerPing
	if legacy.MinutesPerPing != nil {
		minutes = *legacy.MinutesPerPing
	}
	counter := uint64(0)
	nextClock := func() hlc.Timestamp {
		ts := hlc.Timestamp{Wall: Epoch.UnixMicro(), Counter: counter, Node: node}
		counter++
		return ts
	}

	if minutes > 0 {
		doc.Apply(oplog.SetMinutesPerPing(nextClock(), minutes))
	}

	for _, p := range legacy.Pings {
		when, err := parseLegacyWhen(p.When)
		if err != nil {
			return nil, err
		}
		doc.Apply(oplog.AddPing(nextClock(), when))
		if p.Tag != nil {
			doc.Apply(oplog.SetTag(nextClock(), when, p.Tag))
		}
	}

	return doc, nil
}

func parseLegacyWhen(s string) (time.Time, error) {
	when, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("document: invalid legacy ping timestamp %q: %w", s, err)
	}
	return when, nil
}
