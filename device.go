// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

// deviceState is the arbiter's bookkeeping for one external
// DeviceQueue: the buffered "mark" list built up since the last flush
// and the "valid" list of items a prior flush could not get rid of
// (spec §4.D.6, §6). Touched only by the arbiter (or, for its own
// copy, a Dispatcher), so it needs no synchronization of its own.
type deviceState struct {
	dq     DeviceQueue
	markq  []Item
	validq []Item
}

func newDeviceState(dq DeviceQueue) *deviceState {
	return &deviceState{dq: dq}
}

// mark appends item to this device's pending list, chaining it the
// way spec §6 describes ("core owns chaining items via a per-device
// markq/validq pair").
func (d *deviceState) mark(item Item) {
	d.markq = append(d.markq, item)
}

// flush hands every item from the previous validq plus this pass's
// markq to the device, oldest first. Items the device could not
// accept are kept on validq to retry on the next flush. Returns the
// number of items the device accepted and whether validq emptied,
// meaning the arbiter may drop this device queue from its active list
// (spec §4.D.6).
func (d *deviceState) flush() (sent int, emptied bool) {
	pending := len(d.validq) + len(d.markq)
	if pending == 0 {
		return 0, true
	}
	items := make([]Item, 0, pending)
	items = append(items, d.validq...)
	items = append(items, d.markq...)
	d.markq = d.markq[:0]

	remaining, _ := d.dq.TryTransmit(items)
	d.validq = remaining
	return pending - len(remaining), len(remaining) == 0
}
