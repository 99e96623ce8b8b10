package parkinglot

import "github.com/odvcencio/taskrt/pkg/rtclock"

// UnparkOne wakes the single longest-waiting waiter on key, if any.
// callback is invoked under the bucket lock with the result that will
// be reported, so it can decide the token delivered to the woken
// waiter; it may be nil, in which case token 0 is delivered.
func (l *Lot) UnparkOne(key Key, callback func(UnparkResult) uintptr) UnparkResult {
	b := l.bucketFor(key)
	b.mu.Lock()

	w := b.firstWithKey(key)
	if w == nil {
		b.mu.Unlock()
		return UnparkResult{}
	}
	w.unlink()
	result := UnparkResult{
		UnparkedCount: 1,
		HasMore:       b.hasKey(key),
		BeFair:        b.shouldBeFair(rtclock.Now()),
	}
	var token uintptr
	if callback != nil {
		token = callback(result)
	}
	b.mu.Unlock()

	deliverUnpark(l, w, Unparked, token)
	return result
}

// UnparkAll wakes every waiter on key, all with the same token.
func (l *Lot) UnparkAll(key Key, callback func(UnparkResult) uintptr) UnparkResult {
	b := l.bucketFor(key)
	b.mu.Lock()

	var toWake []*waiter
	for w := b.head; w != nil; {
		next := w.next
		if w.key == key {
			w.unlink()
			toWake = append(toWake, w)
		}
		w = next
	}
	result := UnparkResult{UnparkedCount: len(toWake), HasMore: false, BeFair: false}
	var token uintptr
	if callback != nil && len(toWake) > 0 {
		token = callback(result)
	}
	b.mu.Unlock()

	for _, w := range toWake {
		deliverUnpark(l, w, Unparked, token)
	}
	return result
}

// UnparkFilter wakes the subset of waiters on key that filter selects.
// filter is evaluated in FIFO order under the bucket lock against each
// waiter's original park token; FilterStop ends the scan early without
// examining the remaining waiters.
func (l *Lot) UnparkFilter(key Key, filter FilterFunc, callback func(UnparkResult) uintptr) UnparkResult {
	b := l.bucketFor(key)
	b.mu.Lock()

	var toWake []*waiter
	for w := b.head; w != nil; w = w.next {
		if w.key != key {
			continue
		}
		switch filter(w.token) {
		case FilterUnpark:
			toWake = append(toWake, w)
		case FilterStop:
			goto scanned
		case FilterSkip:
		}
	}
scanned:
	for _, w := range toWake {
		w.unlink()
	}
	result := UnparkResult{
		UnparkedCount: len(toWake),
		HasMore:       b.hasKey(key),
		BeFair:        b.shouldBeFair(rtclock.Now()),
	}
	var token uintptr
	if callback != nil {
		token = callback(result)
	}
	b.mu.Unlock()

	for _, w := range toWake {
		deliverUnpark(l, w, Unparked, token)
	}
	return result
}

// UnparkRequeue wakes up to validate's first return value's worth of
// filter-matched waiters on keyFrom, and moves up to the second worth
// from keyFrom's queue to keyTo's without waking them — the atomic
// "move the rest of the waiters to the new queue" step that lets a
// broadcast hand waiters over to the lock they must re-acquire instead
// of a thundering herd all racing for it. filter is evaluated in FIFO order against each waiter's
// original park token, exactly as UnparkFilter does it; a waiter
// filter skips is left parked on keyFrom untouched rather than being
// requeued or woken. filter may be nil, which is equivalent to
// FilterAll.
//
// Both buckets are locked together, in canonical address order; every
// other multi-bucket acquisition (ParkMultiple and its group-unlink
// helpers) follows the same canonical order to keep this deadlock-free.
func (l *Lot) UnparkRequeue(
	keyFrom, keyTo Key,
	filter FilterFunc,
	validate func() (wakeCount, requeueCount int),
	callback func(UnparkResult) uintptr,
) UnparkResult {
	if filter == nil {
		filter = FilterAll
	}

	bFrom := l.bucketFor(keyFrom)
	bTo := l.bucketFor(keyTo)

	ordered := distinctBucketsInOrder([]*bucket{bFrom, bTo})
	for _, b := range ordered {
		b.mu.Lock()
	}

	wakeCount, requeueCount := 0, 0
	if validate != nil {
		wakeCount, requeueCount = validate()
	}

	var toWake []*waiter
	var toRequeue []*waiter
scan:
	for w := bFrom.head; w != nil && (len(toWake) < wakeCount || len(toRequeue) < requeueCount); {
		next := w.next
		if w.key == keyFrom {
			switch filter(w.token) {
			case FilterUnpark:
				if len(toWake) < wakeCount {
					w.unlink()
					toWake = append(toWake, w)
				} else if len(toRequeue) < requeueCount {
					w.unlink()
					w.key = keyTo
					bTo.pushBack(w)
					toRequeue = append(toRequeue, w)
				}
			case FilterStop:
				break scan
			case FilterSkip:
			}
		}
		w = next
	}

	result := UnparkResult{
		UnparkedCount: len(toWake),
		RequeuedCount: len(toRequeue),
		HasMore:       bFrom.hasKey(keyFrom),
		BeFair:        bFrom.shouldBeFair(rtclock.Now()),
	}
	var token uintptr
	if callback != nil {
		token = callback(result)
	}

	for _, b := range ordered {
		b.mu.Unlock()
	}

	for _, w := range toWake {
		deliverUnpark(l, w, Unparked, token)
	}
	return result
}

// firstWithKey returns the longest-waiting (FIFO-earliest) linked waiter
// carrying key, or nil. Caller holds b.mu.
func (b *bucket) firstWithKey(key Key) *waiter {
	for w := b.head; w != nil; w = w.next {
		if w.key == key {
			return w
		}
	}
	return nil
}

// deliverUnpark resolves w's result and invokes its resumer. For a
// ParkMultiple waiter, it additionally wins (or loses) the race to
// settle the shared group: losing means some other key in the same
// group was unparked first, so this call is a no-op.
func deliverUnpark(l *Lot, w *waiter, kind ParkOutcome, token uintptr) {
	if w.group == nil {
		w.resultKind = kind
		w.resultToken = token
		w.resume(token)
		return
	}

	g := w.group
	g.lock()
	if g.settled {
		g.unlock()
		return
	}
	g.settled = true
	g.unlock()

	l.unlinkGroupExcept(g, w)
	g.resultKind = kind
	g.resultToken = token
	g.resume(token)
}

// unlinkGroupExcept removes every waiter in g other than skip (already
// unlinked by the caller) from its bucket.
func (l *Lot) unlinkGroupExcept(g *multiGroup, skip *waiter) {
	var rest []*waiter
	for _, w := range g.waiters {
		if w != skip {
			rest = append(rest, w)
		}
	}
	if len(rest) == 0 {
		return
	}
	raw := make([]*bucket, len(rest))
	for i, w := range rest {
		raw[i] = w.bucket
	}
	unique := distinctBucketsInOrder(raw)
	for _, b := range unique {
		b.mu.Lock()
	}
	for _, w := range rest {
		w.unlink()
	}
	for _, b := range unique {
		b.mu.Unlock()
	}
}
