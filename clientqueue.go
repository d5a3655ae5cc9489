// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

import "code.hybscloud.com/atomix"

// poisonItem is a reserved, zero-length item a producer pushes ahead
// of tearing down, so the arbiter can recognize departure mid-drain
// rather than waiting only on the dead flag. This supplements spec §4
// with the PSPAT_LAST_SKB behavior of
// original_source/net/pspat/functions.c.
type poisonItem struct{}

func (poisonItem) Len() int           { return 0 }
func (poisonItem) DeviceQueueID() int { return -1 }
func (poisonItem) OriginCPU() int     { return -1 }

var itemClosed Item = poisonItem{}

func isPoison(item Item) bool {
	_, ok := item.(poisonItem)
	return ok
}

// ProducerMailbox is a payload mailbox jointly owned by one producer
// and the arbiter (spec §3). Its identifier is compared, never its
// pointer, when deciding whether to re-announce it into a client-list
// mailbox, so that an address reused after this mailbox is freed can
// never be mistaken for it (spec §9, "Mailbox deletion race").
type ProducerMailbox struct {
	id uint64
	mb *Mailbox[Item]

	_            pad
	backpressure atomix.Bool
	_            pad
	dead         atomix.Bool
}

func newProducerMailbox(entries, lineEntries int) *ProducerMailbox {
	return &ProducerMailbox{
		id: nextMailboxID(),
		mb: NewMailbox[Item](entries, lineEntries),
	}
}

// ID returns this mailbox's monotonically-assigned identifier.
func (pm *ProducerMailbox) ID() uint64 { return pm.id }

// Dead reports whether the owning producer has torn down.
func (pm *ProducerMailbox) Dead() bool { return pm.dead.LoadAcquire() }

// Backpressure reports whether the arbiter rejected an item out of
// this mailbox since the producer last observed and cleared the flag.
func (pm *ProducerMailbox) Backpressure() bool { return pm.backpressure.LoadAcquire() }

// setBackpressure is called by the arbiter after a downstream
// rejection (spec §4.C, §7). The producer clears it on its own next
// push, so each side's write is idempotent (spec §5).
func (pm *ProducerMailbox) setBackpressure() { pm.backpressure.StoreRelease(true) }

// ClientQueue is the per-producer-CPU record fanning one producer's
// payload mailbox into the arbiter (spec §4.B). A ClientQueue is
// touched by exactly two goroutines: the producer pinned to its CPU
// (which owns payloadMB/cliLastMB) and the arbiter (which owns
// arbExtractNext/arbLastMB/mbToClear); inq is the client-list mailbox
// the producer writes and the arbiter reads.
type ClientQueue struct {
	cpu                  int
	entries, lineEntries int

	_ pad
	// producer-owned
	payloadMB *ProducerMailbox
	cliLastMB uint64

	_ pad
	// shared SPSC mailbox: producer inserts, arbiter extracts
	inq *Mailbox[*ProducerMailbox]

	_ pad
	// arbiter-owned
	arbExtractNext uint64
	arbLastMB      *ProducerMailbox
	mbToClear      []*ProducerMailbox

	stats *Stats
}

// NewClientQueue creates the client queue for one producer CPU.
// entries/lineEntries size the lazily-created payload mailbox;
// listEntries/listLineEntries size the client-list mailbox. stats may
// be nil, in which case this queue's local drops go unreported.
func NewClientQueue(cpu, entries, lineEntries, listEntries, listLineEntries int, stats *Stats) *ClientQueue {
	return &ClientQueue{
		cpu:         cpu,
		entries:     entries,
		lineEntries: lineEntries,
		inq:         NewMailbox[*ProducerMailbox](listEntries, listLineEntries),
		stats:       stats,
	}
}

// CPU returns the producer CPU index this queue is dedicated to.
func (cq *ClientQueue) CPU() int { return cq.cpu }

// Push submits item from the producer pinned to this queue's CPU
// (spec §4.B, producer-side push(pq, skb)).
//
//  1. Lazily allocate the payload mailbox on first submission.
//  2. If a prior downstream rejection raised backpressure, clear it
//     and fail immediately — this is the propagation signal from the
//     arbiter (spec §7 "Backpressure propagation").
//  3. Insert into the payload mailbox; a Full here fails the push and
//     is reported as a per-producer input-queue drop (spec §6).
//  4. Re-announce the payload mailbox into the client-list mailbox
//     only if it was not already the last one announced (compared by
//     identifier, not pointer). A Full on this announcement also
//     fails the push and is reported the same way, even though the
//     item already landed in the payload mailbox: the next successful
//     announcement will make the arbiter see it.
func (cq *ClientQueue) Push(item Item) error {
	if cq.payloadMB == nil {
		cq.payloadMB = newProducerMailbox(cq.entries, cq.lineEntries)
	}
	pm := cq.payloadMB

	if pm.backpressure.LoadAcquire() {
		pm.backpressure.StoreRelease(false)
		return ErrFull
	}

	if err := pm.mb.Insert(item); err != nil {
		cq.reportInputDrop()
		return err
	}

	if cq.cliLastMB != pm.id {
		if err := cq.inq.Insert(pm); err != nil {
			cq.reportInputDrop()
			return err
		}
		cq.cliLastMB = pm.id
	}
	return nil
}

// reportInputDrop publishes a per-producer input-queue drop (spec §6's
// read-only counter of the same name) when the local mailbox or
// client-list mailbox is saturated, i.e. the iox.ErrWouldBlock cases
// of Push, not a downstream backpressure rejection.
func (cq *ClientQueue) reportInputDrop() {
	if cq.stats != nil {
		cq.stats.reportProducerInputDrop(cq.cpu)
	}
}

// Close signals producer teardown. It pushes the reserved poison item
// so the arbiter can free the mailbox as soon as it drains it, then
// marks the mailbox dead so the plain dead-flag path (spec §3) still
// applies if the poison announcement itself hit backpressure.
func (cq *ClientQueue) Close() error {
	if cq.payloadMB == nil {
		return nil
	}
	err := cq.Push(itemClosed)
	cq.payloadMB.dead.StoreRelease(true)
	return err
}

// getPayloadMB returns the payload mailbox the arbiter should drain
// next for this client queue (spec §4.B get_payload_mb). It may return
// nil if there is nothing to drain, or a non-nil mailbox that turns
// out to still be empty if the client-list mailbox had nothing new
// either.
func (cq *ClientQueue) getPayloadMB() *ProducerMailbox {
	if cq.arbLastMB != nil && !cq.arbLastMB.mb.Empty() {
		return cq.arbLastMB
	}
	next, ok := cq.inq.Extract()
	if !ok {
		return cq.arbLastMB
	}
	// The client-list mailbox's own slot is cheap to recycle the
	// instant we have consumed the handle it carried; unlike payload
	// mailboxes (which may yield many items per round), it never
	// benefits from batching the clear.
	cq.inq.Clear()
	cq.arbLastMB = next
	// Pairs with the producer's StoreRelease publish in Push: every
	// write the producer made into next's slots before announcing it
	// is visible here, by acquire/release transitivity (spec §9,
	// "memory ordering choice").
	return next
}

// ack recycles every payload mailbox this queue touched since the
// last ack (spec §4.B ack(pq)), which is what lets the corresponding
// producer observe its slots as clear again.
func (cq *ClientQueue) ack() {
	for _, pm := range cq.mbToClear {
		pm.mb.Clear()
	}
	cq.mbToClear = cq.mbToClear[:0]
}

// markTouched records that pm had at least one item extracted this
// round, so the next ack() call clears it.
func (cq *ClientQueue) markTouched(pm *ProducerMailbox) {
	for _, existing := range cq.mbToClear {
		if existing == pm {
			return
		}
	}
	cq.mbToClear = append(cq.mbToClear, pm)
}

// forgetCurrent drops the arbiter's reference to its current payload
// mailbox, e.g. once it has been staged for deletion.
func (cq *ClientQueue) forgetCurrent() {
	cq.arbLastMB = nil
}
