// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// DispatchMailbox is the arbiter-to-dispatcher hand-off queue for
// XmitDispatch mode (spec §4.D.5). The arbiter is always its single
// producer; spec §5 allows zero or more dispatcher tasks to drain it
// concurrently, so this is the SCQ-style FAA single-producer/
// multi-consumer algorithm from the teacher's SPMC, adapted to carry
// Item instead of an arbitrary generic payload.
//
// Memory: 2n slots for capacity n, matching the teacher's SPMC.
type DispatchMailbox struct {
	_         pad
	head      atomix.Uint64 // consumer index (FAA, shared across dispatchers)
	_         pad
	tail      atomix.Uint64 // producer index (stored by the arbiter; consumers advance it in catchup)
	_         pad
	threshold atomix.Int64 // livelock prevention for consumers
	_         pad
	buffer    []dispatchSlot
	capacity  uint64
	size      uint64
	mask      uint64
}

type dispatchSlot struct {
	cycle atomix.Uint64
	item  Item
	_     padShort
}

// NewDispatchMailbox creates a dispatch mailbox with room for capacity
// items, rounded up to a power of two.
func NewDispatchMailbox(capacity int) *DispatchMailbox {
	n := uint64(roundToPow2(capacity))
	size := n * 2

	q := &DispatchMailbox{
		buffer:   make([]dispatchSlot, size),
		capacity: n,
		size:     size,
		mask:     size - 1,
	}
	q.threshold.StoreRelaxed(3*int64(n) - 1)
	for i := uint64(0); i < size; i++ {
		q.buffer[i].cycle.StoreRelaxed(i / n)
	}
	return q
}

// Cap returns the mailbox's item capacity.
func (q *DispatchMailbox) Cap() int { return int(q.capacity) }

// Insert adds item to the mailbox (arbiter side only). Returns ErrFull
// if the mailbox has no room for it (spec §4.D.5 "on Full, drop it").
func (q *DispatchMailbox) Insert(item Item) error {
	tail := q.tail.LoadRelaxed()
	head := q.head.LoadAcquire()
	if tail >= head+q.capacity {
		return ErrFull
	}

	cycle := tail / q.capacity
	slot := &q.buffer[tail&q.mask]
	if slot.cycle.LoadAcquire() != cycle {
		return ErrFull
	}

	slot.item = item
	slot.cycle.StoreRelease(cycle + 1)
	q.tail.StoreRelaxed(tail + 1)
	q.threshold.StoreRelaxed(3*int64(q.capacity) - 1)
	return nil
}

// Extract removes and returns the next item. Safe for any number of
// concurrent dispatcher goroutines.
func (q *DispatchMailbox) Extract() (Item, bool) {
	if q.threshold.LoadRelaxed() < 0 {
		return nil, false
	}

	sw := spin.Wait{}
	for {
		myHead := q.head.AddAcqRel(1) - 1
		slot := &q.buffer[myHead&q.mask]
		expectedCycle := myHead/q.capacity + 1
		slotCycle := slot.cycle.LoadAcquire()

		if slotCycle == expectedCycle {
			item := slot.item
			slot.item = nil
			slot.cycle.StoreRelease((myHead + q.size) / q.capacity)
			return item, true
		}

		if int64(slotCycle) < int64(expectedCycle) {
			slot.cycle.CompareAndSwapAcqRel(slotCycle, (myHead+q.size)/q.capacity)

			tail := q.tail.LoadRelaxed()
			if tail <= myHead+1 {
				q.catchup(tail, myHead+1)
				q.threshold.AddAcqRel(-1)
				return nil, false
			}
			if q.threshold.AddAcqRel(-1) <= 0 {
				return nil, false
			}
		}
		sw.Once()
	}
}

func (q *DispatchMailbox) catchup(tail, head uint64) {
	for tail < head {
		if q.tail.CompareAndSwapRelaxed(tail, head) {
			break
		}
		tail = q.tail.LoadRelaxed()
		head = q.head.LoadRelaxed()
	}
}
