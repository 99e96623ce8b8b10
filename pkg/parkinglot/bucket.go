package parkinglot

import (
	"sync"
	"time"
	"unsafe"

	"github.com/odvcencio/taskrt/pkg/rtclock"
	"github.com/odvcencio/taskrt/pkg/rtmetrics"
)

// processStartNanos mixes into every bucket's fairness seed so that
// distinct process runs also disagree, in addition to the per-bucket
// address mixed in by seedFairness.
var processStartNanos = time.Now().UnixNano()

// bucketAddr gives every bucket a stable, comparable identity for
// establishing a canonical lock order across a slice of *bucket.
func bucketAddr(b *bucket) uintptr { return uintptr(unsafe.Pointer(b)) }

// bucket is one slot of the fixed-size table: a lock plus an intrusive
// doubly linked list of waiters, plus the timestamp-based fairness state
// WebKit's parking lot uses to occasionally force a direct handoff
// instead of an unlock/wake race, preventing a thread that keeps
// re-acquiring a lock from starving whoever has been queued longest.
type bucket struct {
	mu   sync.Mutex
	head *waiter
	tail *waiter

	nextFairTime rtclock.Instant
	rngState     uint64
}

// seedFairness seeds the bucket's xorshift state from its table index
// mixed with its own address, XOR process start time, so two Lots
// constructed in the same process (isolated tests, or several pools
// side by side) don't produce byte-identical fair-wake sequences —
// lockstep fairness across pools would otherwise mean a "fair" wake on
// one pool systematically coincides with one on another.
func (b *bucket) seedFairness(index int, addr uintptr) {
	seed := uint64(index)*2654435761 + 0x9E3779B97F4A7C15
	seed ^= uint64(addr)
	seed ^= uint64(processStartNanos)
	b.rngState = seed
	if b.rngState == 0 {
		b.rngState = 1
	}
	b.nextFairTime = rtclock.Now()
}

// nextRand is a small xorshift64* generator; the parking lot does not
// need cryptographic randomness, only enough jitter that fair wakes
// don't synchronize across buckets.
func (b *bucket) nextRand() uint64 {
	x := b.rngState
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	b.rngState = x
	return x * 2685821657736338717
}

// fairWakeAverage is the target mean interval between forced-fair
// handoffs on a contended bucket (~0.5ms average).
const fairWakeAverage = 500_000 // nanoseconds

// shouldBeFair reports whether, at now, this bucket owes a fair wake,
// and if so rearms nextFairTime with fresh jitter. Caller holds b.mu.
func (b *bucket) shouldBeFair(now rtclock.Instant) bool {
	if now.Before(b.nextFairTime) {
		return false
	}
	// Uniform jitter in [0, 2*average) nanoseconds, so the long-run
	// mean interval between fair wakes matches fairWakeAverage.
	jitter := int64(b.nextRand() % (2 * fairWakeAverage))
	b.nextFairTime = now.Add(rtclock.Duration(jitter))
	rtmetrics.ParkingLotFairWakes.Inc()
	return true
}

// hasKey reports whether any waiter currently linked in the bucket
// carries key. Caller holds b.mu; call after any unlink so the removed
// waiter is no longer counted.
func (b *bucket) hasKey(key Key) bool {
	for w := b.head; w != nil; w = w.next {
		if w.key == key {
			return true
		}
	}
	return false
}
