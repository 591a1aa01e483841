package syncserver

import (
	"fmt"
	"strconv"
	"time"

	"github.com/beepshq/beeps/internal/hlc"
)

func parseNodeID(s string) (hlc.NodeID, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q in since map: %w", s, err)
	}
	return hlc.NodeID(n), nil
}

func parseWall(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q in since map: %w", s, err)
	}
	return t.UnixMicro(), nil
}
