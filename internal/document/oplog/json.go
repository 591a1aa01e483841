package oplog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/beepshq/beeps/internal/hlc"
)

const rfc3339Micro = "2006-01-02T15:04:05.000000Z07:00"

type opJSON struct {
	Clock hlc.Timestamp   `json:"clock"`
	Op    json.RawMessage `json:"op"`
}

type addPingBody struct {
	When string `json:"when"`
}

type setTagBody struct {
	When string  `json:"when"`
	Tag  *string `json:"tag"`
}

type setMinutesBody struct {
	Value int `json:"value"`
}

// MarshalJSON renders the op as {"clock": {...}, "op": {"<Kind>": {...}}}
// per §6's wire shape.
func (o Op) MarshalJSON() ([]byte, error) {
	var body any
	switch o.Kind {
	case KindAddPing:
		body = map[string]addPingBody{
			string(KindAddPing): {When: o.Ping.UTC().Format(rfc3339Micro)},
		}
	case KindSetTag:
		body = map[string]setTagBody{
			string(KindSetTag): {When: o.Ping.UTC().Format(rfc3339Micro), Tag: o.Tag},
		}
	case KindSetMinutesPerPing:
		body = map[string]setMinutesBody{
			string(KindSetMinutesPerPing): {Value: o.Minutes},
		}
	default:
		return nil, fmt.Errorf("oplog: unknown op kind %q", o.Kind)
	}

	opBytes, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(opJSON{Clock: o.Clock, Op: opBytes})
}

// UnmarshalJSON parses the {"clock": {...}, "op": {"<Kind>": {...}}}
// wire shape.
func (o *Op) UnmarshalJSON(data []byte) error {
	var raw opJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var variants map[string]json.RawMessage
	if err := json.Unmarshal(raw.Op, &variants); err != nil {
		return fmt.Errorf("oplog: malformed op variant: %w", err)
	}
	if len(variants) != 1 {
		return fmt.Errorf("oplog: expected exactly one op variant, got %d", len(variants))
	}

	o.Clock = raw.Clock

	for kind, payload := range variants {
		switch Kind(kind) {
		case KindAddPing:
			var b addPingBody
			if err := json.Unmarshal(payload, &b); err != nil {
				return err
			}
			when, err := time.Parse(time.RFC3339Nano, b.When)
			if err != nil {
				return fmt.Errorf("oplog: invalid AddPing.when %q: %w", b.When, err)
			}
			o.Kind = KindAddPing
			o.Ping = when
		case KindSetTag:
			var b setTagBody
			if err := json.Unmarshal(payload, &b); err != nil {
				return err
			}
			when, err := time.Parse(time.RFC3339Nano, b.When)
			if err != nil {
				return fmt.Errorf("oplog: invalid SetTag.when %q: %w", b.When, err)
			}
			o.Kind = KindSetTag
			o.Ping = when
			o.Tag = b.Tag
		case KindSetMinutesPerPing:
			var b setMinutesBody
			if err := json.Unmarshal(payload, &b); err != nil {
				return err
			}
			o.Kind = KindSetMinutesPerPing
			o.Minutes = b.Value
		default:
			return fmt.Errorf("oplog: unknown op kind %q", kind)
		}
	}

	return nil
}
