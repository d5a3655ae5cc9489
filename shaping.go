// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

// shapingState is the per-queue ownership state machine of spec §4.C:
//
//	Unknown  --first item seen--> Stealing
//	Stealing --steal fails------> Unknown (item dropped)
//	Stealing --steal ok, drain--> Owned
//	Owned    --shutdown---------> Released
type shapingState int

const (
	shapingUnknown shapingState = iota
	shapingStealing
	shapingOwned
	shapingReleased
)

// ShapingQueueAdapter wraps an external ShapingQueue with the
// ownership-steal bookkeeping, per-queue batch limit, and pacing
// deadline the arbiter drives it through (spec §3, §4.C). Touched only
// by the arbiter goroutine; no field here needs atomics.
type ShapingQueueAdapter struct {
	id    int // device queue ID this shaping queue feeds
	q     ShapingQueue
	state shapingState

	nextLinkIdle uint64 // pseudo-picosecond pacing deadline
	batchLimit   int
}

// newShapingQueueAdapter wraps q for device queue id, unowned.
func newShapingQueueAdapter(id int, q ShapingQueue, batchLimit int) *ShapingQueueAdapter {
	return &ShapingQueueAdapter{id: id, q: q, batchLimit: batchLimit}
}

// owned reports whether the arbiter currently owns this queue.
func (a *ShapingQueueAdapter) owned() bool { return a.state == shapingOwned }

// steal attempts the first-sighting ownership protocol (spec §4.C).
// On success it discards any items already queued inside the external
// shaping queue by design — spec §9 calls this "data loss by design":
// the prior owner's in-flight items are abandoned — and initializes
// next_link_idle to now.
func (a *ShapingQueueAdapter) steal(now uint64) bool {
	a.state = shapingStealing
	if !a.q.TryBeginRun() {
		a.state = shapingUnknown
		return false
	}
	a.q.SetRequeued(nil)
	a.q.SetBadTransmit(nil)
	for {
		if _, ok := a.q.Dequeue(); !ok {
			break
		}
	}
	a.state = shapingOwned
	a.nextLinkIdle = now
	return true
}

// enqueue offers item to the wrapped shaping queue. The caller is
// responsible for having stolen ownership first.
func (a *ShapingQueueAdapter) enqueue(item Item) EnqueueResult {
	return a.q.Enqueue(item)
}

// dequeueNext returns the held-aside requeued item if present,
// otherwise the shaping queue's own next item in its own order
// (spec §4.D.4).
func (a *ShapingQueueAdapter) dequeueNext() (Item, bool) {
	if item, ok := a.q.Requeued(); ok {
		a.q.SetRequeued(nil)
		return item, true
	}
	return a.q.Dequeue()
}

// requeue holds item aside to be returned first by the next
// dequeueNext call, e.g. after a failed transmit attempt.
func (a *ShapingQueueAdapter) requeue(item Item) { a.q.SetRequeued(item) }

// release returns ownership to the surrounding system without
// freeing the wrapped queue (spec §4.C "On shutdown").
func (a *ShapingQueueAdapter) release() {
	if a.state == shapingOwned {
		a.q.EndRun()
	}
	a.state = shapingReleased
}

// BypassShapingQueue is the built-in FIFO spec §9 resolves the
// tc_bypass open question with: "intentionally a simple internal
// shaping queue and not a null-shaper — items still incur rate
// pacing." It is owned by the core itself rather than stolen from an
// external scheduler, so TryBeginRun always succeeds.
type BypassShapingQueue struct {
	items       []Item
	head        int
	requeued    Item
	badTransmit Item
}

// NewBypassShapingQueue creates a bypass queue with room for capacity
// items.
func NewBypassShapingQueue(capacity int) *BypassShapingQueue {
	return &BypassShapingQueue{items: make([]Item, 0, capacity)}
}

// Enqueue appends item, or reports EnqueueDropped if at capacity.
func (b *BypassShapingQueue) Enqueue(item Item) EnqueueResult {
	if len(b.items)-b.head >= cap(b.items) {
		return EnqueueDropped
	}
	if len(b.items) == cap(b.items) {
		// Slide the live items to the front so append never grows the
		// backing array past the configured capacity.
		n := copy(b.items, b.items[b.head:])
		clear(b.items[n:])
		b.items = b.items[:n]
		b.head = 0
	}
	b.items = append(b.items, item)
	return EnqueueOk
}

// Dequeue pops the oldest enqueued item.
func (b *BypassShapingQueue) Dequeue() (Item, bool) {
	if b.head >= len(b.items) {
		b.items = b.items[:0]
		b.head = 0
		return nil, false
	}
	item := b.items[b.head]
	b.items[b.head] = nil
	b.head++
	if b.head == len(b.items) {
		b.items = b.items[:0]
		b.head = 0
	}
	return item, true
}

// Requeued returns the held-aside item, if any.
func (b *BypassShapingQueue) Requeued() (Item, bool) {
	if b.requeued == nil {
		return nil, false
	}
	return b.requeued, true
}

// SetRequeued stashes or clears the held-aside item.
func (b *BypassShapingQueue) SetRequeued(item Item) { b.requeued = item }

// BadTransmit returns the item set aside after a failed transmit, if any.
func (b *BypassShapingQueue) BadTransmit() (Item, bool) {
	if b.badTransmit == nil {
		return nil, false
	}
	return b.badTransmit, true
}

// SetBadTransmit stashes or clears the bad-transmit sidecar item.
func (b *BypassShapingQueue) SetBadTransmit(item Item) { b.badTransmit = item }

// TryBeginRun always succeeds: the bypass queue is never run by any
// scheduler other than this arbiter.
func (b *BypassShapingQueue) TryBeginRun() bool { return true }

// EndRun is a no-op for the same reason.
func (b *BypassShapingQueue) EndRun() {}
