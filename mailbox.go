// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

import "code.hybscloud.com/atomix"

// mbFilledTag is the non-zero marker stored in a slot's word once it
// holds a value. The low bit carries the per-pass sequence bit; spec
// §9 notes that a type-safe reimplementation can store items as an
// index into an arena (here, the slot's own array position) tagged
// with the sequence bit, instead of relying on pointer alignment to
// free up a low bit. That is what Mailbox does: the tag word never
// encodes the payload itself, so T can be any Go value, not just an
// aligned pointer.
const mbFilledTag = uint64(2)

// mbSlot pairs the atomically-published tag word with the payload it
// guards. Only the word is touched with atomics; value is only ever
// read by whichever side currently holds exclusive access to this
// slot, which the word's state transition enforces.
type mbSlot[T any] struct {
	word  atomix.Uint64
	value T
}

// Mailbox is the cache-line-aware, wait-free single-producer/
// single-consumer ring described in spec §4.A. A slot is empty from
// the consumer's point of view when its stored word is zero or its
// sequence bit disagrees with the consumer's current pass, which lets
// Empty/Extract decide fullness purely from slot content — no shared
// head/tail counter is compared across the producer/consumer boundary.
//
// Producer fields (prodWrite/prodCheck) and consumer fields
// (consRead/consClear) are separated by cache-line padding, and are
// each touched by exactly one goroutine, so they need no atomics of
// their own; only the slot words are shared and thus atomic.
type Mailbox[T any] struct {
	// shared, immutable after construction
	mask        uint64
	shift       uint64 // log2(capacity)
	lineEntries uint64
	lineMask    uint64

	_ pad
	// producer-owned
	prodWrite uint64
	prodCheck uint64

	_ pad
	// consumer-owned
	consRead  uint64
	consClear uint64

	_     pad
	slots []mbSlot[T]
}

// NewMailbox creates a Mailbox with room for entries slots (rounded up
// to a power of two) grouped lineEntries at a time (also rounded up to
// a power of two). Panics if the rounded capacity does not exceed
// twice the line size, per spec §3's "N > 2 * line_entries" invariant.
func NewMailbox[T any](entries, lineEntries int) *Mailbox[T] {
	n := uint64(roundToPow2(entries))
	le := uint64(roundToPow2(lineEntries))
	if n <= 2*le {
		panic("pspat: mailbox capacity must be greater than 2*line_entries")
	}
	return &Mailbox[T]{
		mask:        n - 1,
		shift:       log2Pow2(n),
		lineEntries: le,
		lineMask:    le - 1,
		slots:       make([]mbSlot[T], n),
	}
}

// Cap returns the mailbox's slot capacity after rounding to a power of two.
func (m *Mailbox[T]) Cap() int {
	return int(m.mask + 1)
}

// LineEntries returns the number of slots cleared together as one
// deferred-clear group.
func (m *Mailbox[T]) LineEntries() int {
	return int(m.lineEntries)
}

// Insert adds v to the mailbox (producer side only). Returns ErrFull
// when the slot group ahead of prod_check is not yet clear, meaning
// the consumer has not caught up.
//
// Algorithm (spec §4.A):
//  1. If prod_write == prod_check, probe the slot group line_entries
//     ahead; if it is still occupied, the mailbox is full.
//  2. Otherwise advance prod_check past that group and store v,
//     tagged with the current pass's sequence bit, at prod_write.
func (m *Mailbox[T]) Insert(v T) error {
	if m.prodWrite == m.prodCheck {
		probe := (m.prodCheck + m.lineEntries) & m.mask
		if m.slots[probe].word.LoadAcquire() != 0 {
			return ErrFull
		}
		m.prodCheck += m.lineEntries
		m.prefetchSlot(probe)
	}

	idx := m.prodWrite & m.mask
	seq := (m.prodWrite >> m.shift) & 1
	m.slots[idx].value = v
	// StoreRelease is the commit signal: the payload write above is
	// guaranteed visible to any consumer that observes this word via
	// LoadAcquire (Empty/Extract), which is what spec §9's "memory
	// ordering choice" calls for in place of a separate full fence.
	m.slots[idx].word.StoreRelease(mbFilledTag | seq)
	m.prodWrite++
	return nil
}

// prefetchSlot is advisory; the Go runtime exposes no portable
// software-prefetch intrinsic, so this only documents where the
// native implementation issues one ahead of the next insert.
func (m *Mailbox[T]) prefetchSlot(_ uint64) {}

// Empty reports whether the slot the consumer would read next is
// empty (spec §4.A "Empty test").
func (m *Mailbox[T]) Empty() bool {
	return m.empty(m.consRead)
}

func (m *Mailbox[T]) empty(readIdx uint64) bool {
	word := m.slots[readIdx&m.mask].word.LoadAcquire()
	if word == 0 {
		return true
	}
	expected := (readIdx >> m.shift) & 1
	return (word & 1) != expected
}

// Extract removes and returns the next item (consumer side only). ok
// is false if the mailbox is empty, in which case the mailbox is left
// unmodified. Extract does not recycle the slot; call Clear
// periodically to do that.
func (m *Mailbox[T]) Extract() (item T, ok bool) {
	if m.empty(m.consRead) {
		return item, false
	}
	idx := m.consRead & m.mask
	item = m.slots[idx].value
	var zero T
	m.slots[idx].value = zero
	m.consRead++
	return item, true
}

// Clear zeroes fully-read cache lines: it advances cons_clear in
// single-slot steps up to (but not into) the line containing
// cons_read-1, writing zero to each slot along the way. That line is
// left for a later Clear even when it has been read to its end (i.e.
// cons_read sits on a line boundary). This is the
// deferred clear that amortizes write-back over a cache line instead
// of zeroing a slot the instant it is extracted, and it is what lets
// the producer's forward probe in Insert observe emptied slots.
func (m *Mailbox[T]) Clear() {
	if m.consRead == 0 {
		return
	}
	limit := (m.consRead - 1) &^ m.lineMask
	var zero T
	for (m.consClear &^ m.lineMask) != limit {
		idx := m.consClear & m.mask
		m.slots[idx].value = zero
		m.slots[idx].word.StoreRelease(0)
		m.consClear++
	}
}

// Prefetch is an advisory hint, matching spec §4.A's prefetch()
// operation; a no-op here for the same reason as prefetchSlot.
func (m *Mailbox[T]) Prefetch() {}
