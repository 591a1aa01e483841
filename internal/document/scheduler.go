package document

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/beepshq/beeps/internal/document/oplog"
)

// Epoch is the Document's epoch-start: the "last" ping instant assumed
// when a Document has no pings yet, per §4.2.2 step 1.
var Epoch = time.Unix(0, 0).UTC()

// SchedulePings draws pings from a homogeneous Poisson process with
// rate 1/minutes_per_ping (per minute) starting just after the latest
// existing ping (or Epoch, if none), stopping once the draw would
// land past cutoff. Each draw is applied locally as it is produced;
// the returned slice is every AddPing op newly emitted, including ones
// whose instant is already <= now — the replica controller, not this
// method, partitions emitted ops into past (reveal now) and future
// (reveal later).
//
// The PRNG seed for each draw is derived deterministically from the
// previous ping instant and the current minutes-per-ping value (§4.2.2
// "Determinism"), so two replicas computing from the same state always
// produce the same future schedule. This is load-bearing: an
// independent-entropy PRNG would let offline replicas grow divergent
// ping sets that roughly double in size after syncing (§9).
func (d *Document) SchedulePings(now, cutoff time.Time) []oplog.Op {
	d.mu.RLock()
	last, ok := d.pings.Max()
	minutes := d.minutesPerPing.Value
	d.mu.RUnlock()

	if !ok {
		last = Epoch
	}
	if minutes <= 0 {
		minutes = defaultMinutesPerPing
	}

	lambda := 1.0 / float64(minutes)

	var ops []oplog.Op
	for last.Before(cutoff) {
		u := drawUniform(last, minutes)
		gapMinutes := -math.Log(u) / lambda
		next := last.Add(time.Duration(gapMinutes * float64(time.Minute))).Round(time.Second)

		if next.After(cutoff) {
			break
		}

		ops = append(ops, d.AddPing(next))
		last = next
	}

	return ops
}

// drawUniform returns a value in (0, 1) drawn from a PRNG seeded
// solely from (last, minutesPerPing), per §4.2.2's determinism
// requirement.
func drawUniform(last time.Time, minutesPerPing int) float64 {
	rng := rand.New(rand.NewSource(scheduleSeed(last, minutesPerPing)))
	// rand.Float64 can return exactly 0; -ln(0) is +Inf, which would
	// stall the loop forever. Re-draw deterministically (the source is
	// already advanced, so this remains a pure function of the seed).
	for {
		if u := rng.Float64(); u > 0 {
			return u
		}
	}
}

// scheduleSeed derives a PRNG seed from the byte representation of
// (last, minutesPerPing), per §4.2.2.
func scheduleSeed(last time.Time, minutesPerPing int) int64 {
	h := fnv.New64a()
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(last.UnixMicro()))
	binary.BigEndian.PutUint64(buf[8:16], uint64(int64(minutesPerPing)))
	h.Write(buf[:])
	return int64(h.Sum64())
}
