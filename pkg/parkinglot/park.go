package parkinglot

import (
	"sort"
	"time"

	"github.com/odvcencio/taskrt/pkg/rtclock"
	"github.com/odvcencio/taskrt/pkg/rterrors"
	"github.com/odvcencio/taskrt/pkg/rtlog"
	"github.com/odvcencio/taskrt/pkg/rtmetrics"
)

// MaxParkKeys bounds ParkMultiple at 128 so the bookkeeping for a
// multi-key wait has a known, small size.
const MaxParkKeys = 128

// Park registers the calling task as a waiter on key, then suspends it.
//
// validate runs with the bucket locked, immediately before the waiter is
// linked in; if it returns false the park is aborted with Invalid
// without ever suspending (the classic "recheck the condition under the
// queue lock" pattern that makes park/unpark race-free against a
// concurrent unpark that fires before the waiter is queued).
//
// beforeSleep runs after the waiter is linked and the bucket unlocked,
// still on the calling task — typically where a caller drops an outer
// mutex it was holding, matching the Mesa-style "queue, then release"
// ordering pkg/syncprim relies on.
//
// suspend performs the actual cooperative switch-away and does not
// return until resume is invoked for this waiter, by an unpark, a
// requeue, or a timeout.
func (l *Lot) Park(
	key Key,
	validate func() bool,
	beforeSleep func(),
	timedOut func(key Key, wasLastInBucket bool),
	token uintptr,
	deadline rtclock.Deadline,
	suspend func(),
	resume Resumer,
) ParkResult {
	b := l.bucketFor(key)
	b.mu.Lock()
	if validate != nil && !validate() {
		b.mu.Unlock()
		return ParkResult{Kind: Invalid}
	}
	w := &waiter{key: key, token: token, deadline: deadline, resume: resume}
	b.pushBack(w)
	b.mu.Unlock()

	rtmetrics.ParkingLotParked.Inc()

	if beforeSleep != nil {
		beforeSleep()
	}

	var timer *time.Timer
	if deadline.Valid {
		if deadline.Elapsed() {
			l.timeoutWaiter(b, w, timedOut)
		} else {
			timer = time.AfterFunc(rtclock.UntilTimer(deadline.At), func() { l.timeoutWaiter(b, w, timedOut) })
		}
	}

	suspend()

	if timer != nil {
		timer.Stop()
	}
	return ParkResult{Kind: w.resultKind, UnparkToken: w.resultToken}
}

// timeoutWaiter fires when a deadline elapses. If the waiter was already
// dequeued by a racing unpark, this is a no-op: that caller owns the
// resume call instead.
func (l *Lot) timeoutWaiter(b *bucket, w *waiter, timedOut func(Key, bool)) {
	b.mu.Lock()
	if !w.inList {
		b.mu.Unlock()
		return
	}
	w.unlink()
	wasLast := !b.hasKey(w.key)
	b.mu.Unlock()

	rtmetrics.ParkingLotTimedOut.Inc()
	l.log.Debug(rtlog.CategoryParkingLot, "park timed out")
	if timedOut != nil {
		timedOut(w.key, wasLast)
	}
	w.resultKind = TimedOut
	w.resume(0)
}

// ParkMultiple registers the calling task as a waiter on every key in
// keys simultaneously (at most MaxParkKeys), resuming it the instant any
// one of them is unparked or requeued, and unlinking the rest. Returns
// Invalid if keys exceeds the limit or validate rejects the wait.
func (l *Lot) ParkMultiple(
	keys []Key,
	validate func() bool,
	beforeSleep func(),
	token uintptr,
	deadline rtclock.Deadline,
	suspend func(),
	resume Resumer,
) ParkResult {
	if len(keys) == 0 {
		return ParkResult{Kind: Invalid}
	}
	if len(keys) > MaxParkKeys {
		rterrors.Assert(false, "ParkMultiple: too many keys")
		return ParkResult{Kind: Invalid}
	}

	buckets := make([]*bucket, len(keys))
	for i, k := range keys {
		buckets[i] = l.bucketFor(k)
	}
	uniqueBuckets := distinctBucketsInOrder(buckets)

	lockAll := func() {
		for _, b := range uniqueBuckets {
			b.mu.Lock()
		}
	}
	unlockAll := func() {
		for _, b := range uniqueBuckets {
			b.mu.Unlock()
		}
	}

	lockAll()
	if validate != nil && !validate() {
		unlockAll()
		return ParkResult{Kind: Invalid}
	}

	group := newMultiGroup(len(keys))
	group.resume = resume
	group.deadline = deadline
	for i, k := range keys {
		w := &waiter{key: k, token: token, deadline: deadline, group: group}
		buckets[i].pushBack(w)
		group.waiters = append(group.waiters, w)
	}
	unlockAll()

	rtmetrics.ParkingLotParked.Add(float64(len(keys)))

	if beforeSleep != nil {
		beforeSleep()
	}

	var timer *time.Timer
	if deadline.Valid {
		if deadline.Elapsed() {
			l.timeoutGroup(group)
		} else {
			timer = time.AfterFunc(rtclock.UntilTimer(deadline.At), func() { l.timeoutGroup(group) })
		}
	}

	suspend()

	if timer != nil {
		timer.Stop()
	}
	return ParkResult{Kind: group.resultKind, UnparkToken: group.resultToken}
}

func (l *Lot) timeoutGroup(g *multiGroup) {
	g.lock()
	if g.settled {
		g.unlock()
		return
	}
	g.settled = true
	g.unlock()

	l.unlinkGroup(g)
	g.resultKind = TimedOut
	l.log.Debug(rtlog.CategoryParkingLot, "multi-key park timed out")
	g.resume(0)
}

// unlinkGroup removes every still-linked waiter in g from its bucket.
// Called exactly once per group, after settled has been claimed.
func (l *Lot) unlinkGroup(g *multiGroup) {
	raw := make([]*bucket, len(g.waiters))
	for i, w := range g.waiters {
		raw[i] = w.bucket
	}
	unique := distinctBucketsInOrder(raw)

	for _, b := range unique {
		b.mu.Lock()
	}
	for _, w := range g.waiters {
		w.unlink()
	}
	for _, b := range unique {
		b.mu.Unlock()
	}
}

// distinctBucketsInOrder returns the unique buckets referenced by bs, in
// canonical ascending-address order — the fixed lock order every
// multi-bucket operation (ParkMultiple, UnparkRequeue) must follow to
// avoid deadlocking against another such operation.
func distinctBucketsInOrder(bs []*bucket) []*bucket {
	type entry struct {
		addr uintptr
		b    *bucket
	}
	entries := make([]entry, len(bs))
	for i, b := range bs {
		entries[i] = entry{addr: bucketAddr(b), b: b}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].addr < entries[j].addr })
	out := make([]*bucket, 0, len(entries))
	var last uintptr
	for i, e := range entries {
		if i > 0 && e.addr == last {
			continue
		}
		out = append(out, e.b)
		last = e.addr
	}
	return out
}
