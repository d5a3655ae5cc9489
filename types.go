// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

// Item is an opaque, pointer-sized work unit produced by one CPU and
// consumed by the arbiter, a shaping queue, and ultimately a device.
// The core never inspects payload bytes; it only needs the fields
// below to shape and route the item (spec §6).
type Item interface {
	// Len returns the item's length in bytes, used to pace dequeues
	// against the configured link rate.
	Len() int
	// DeviceQueueID selects which device queue's shaping queue this
	// item targets. Producer-side classification/selection is out of
	// scope for the core (spec §1).
	DeviceQueueID() int
	// OriginCPU identifies the producer CPU this item came from, so
	// the arbiter can route a dispatcher-mailbox rejection back to
	// the correct producer's backpressure flag.
	OriginCPU() int
}

// EnqueueResult is the outcome of a ShapingQueue.Enqueue call.
type EnqueueResult int

const (
	// EnqueueOk means the shaping queue accepted the item.
	EnqueueOk EnqueueResult = iota
	// EnqueueDropped means the shaping queue refused the item.
	EnqueueDropped
)

// TransmitStatus is the outcome of a DeviceQueue.TryTransmit call.
type TransmitStatus int

const (
	// TransmitComplete means every item handed to TryTransmit was
	// accepted by the device.
	TransmitComplete TransmitStatus = iota
	// TransmitBusy means the device could not accept some or all of
	// the items; the remainder must be retried on a later flush.
	TransmitBusy
	// TransmitError means the device rejected the items outright
	// (e.g. link down); treated the same as TransmitBusy by the core,
	// items are retried rather than dropped.
	TransmitError
)

// ShapingQueue is the external traffic-shaping discipline the arbiter
// drives through [ShapingQueueAdapter]. Implementations own their own
// internal ordering/priority; the core only drives enqueue/dequeue and
// the steal protocol (spec §4.C, §6).
type ShapingQueue interface {
	// Enqueue offers an item to the shaping queue.
	Enqueue(item Item) EnqueueResult
	// Dequeue removes and returns the next item in the queue's own
	// order, or (nil, false) if empty.
	Dequeue() (Item, bool)
	// Requeued returns a previously held-aside item that must be
	// retried ahead of calling Dequeue again, if any.
	Requeued() (Item, bool)
	// SetRequeued stashes an item to be returned by the next Requeued
	// call, clearing the slot if item is nil.
	SetRequeued(item Item)
	// BadTransmit returns an item set aside after a failed transmit
	// attempt, if any. The core only clears this slot when it steals
	// the queue; the arbiter and dispatcher never read it.
	BadTransmit() (Item, bool)
	// SetBadTransmit stashes an item to be returned by the next
	// BadTransmit call, clearing the slot if item is nil.
	SetBadTransmit(item Item)
	// TryBeginRun attempts to steal ownership of the queue from
	// whatever scheduler currently runs it. Returns false if another
	// scheduler is already running it.
	TryBeginRun() bool
	// EndRun releases ownership back to the surrounding system. It
	// does not free the queue.
	EndRun()
}

// DeviceQueue is the external per-device transmit path the arbiter and
// dispatcher flush marked items into (spec §4.D.6, §6).
type DeviceQueue interface {
	// ID identifies this device queue, used as the index producers
	// select via Item.DeviceQueueID.
	ID() int
	// TryTransmit attempts to hand items (oldest first) to the
	// device. It returns the items that could not be accepted along
	// with the transmit status; an empty remaining slice with
	// TransmitComplete means every item went out.
	TryTransmit(items []Item) (remaining []Item, status TransmitStatus)
}
