package hlc

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireTimestamp mirrors the wire/file shape for an HLC value:
// {"timestamp": "<RFC3339 microsecond UTC>", "counter": N, "node": N}.
type wireTimestamp struct {
	Timestamp string `json:"timestamp"`
	Counter   uint64 `json:"counter"`
	Node      NodeID `json:"node"`
}

// MarshalJSON renders t as {timestamp, counter, node} with timestamp
// an RFC3339 string at microsecond precision, UTC (§6).
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireTimestamp{
		Timestamp: time.UnixMicro(t.Wall).UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		Counter:   t.Counter,
		Node:      t.Node,
	})
}

// UnmarshalJSON parses the {timestamp, counter, node} wire shape.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var w wireTimestamp
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	wall, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return fmt.Errorf("hlc: invalid timestamp %q: %w", w.Timestamp, err)
	}
	t.Wall = wall.UnixMicro()
	t.Counter = w.Counter
	t.Node = w.Node
	return nil
}
