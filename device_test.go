// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

import "testing"

type fakeDeviceQueue struct {
	id       int
	accept   int
	transmit []Item
}

func (f *fakeDeviceQueue) ID() int { return f.id }

func (f *fakeDeviceQueue) TryTransmit(items []Item) ([]Item, TransmitStatus) {
	f.transmit = append(f.transmit, items...)
	if f.accept >= len(items) {
		return nil, TransmitComplete
	}
	return items[f.accept:], TransmitBusy
}

func TestDeviceStateFlushRetriesBusyItemsNextPass(t *testing.T) {
	dq := &fakeDeviceQueue{id: 0, accept: 1}
	d := newDeviceState(dq)
	d.mark(testItem{length: 1})
	d.mark(testItem{length: 2})

	sent, emptied := d.flush()
	if sent != 1 || emptied {
		t.Fatalf("flush: sent=%d emptied=%v, want sent=1 emptied=false", sent, emptied)
	}
	if len(d.validq) != 1 {
		t.Fatalf("validq: len=%d, want 1", len(d.validq))
	}

	dq.accept = 10
	sent, emptied = d.flush()
	if sent != 1 || !emptied {
		t.Fatalf("second flush: sent=%d emptied=%v, want sent=1 emptied=true", sent, emptied)
	}
}

func TestDeviceStateFlushNoopWhenNothingPending(t *testing.T) {
	dq := &fakeDeviceQueue{id: 0}
	d := newDeviceState(dq)
	sent, emptied := d.flush()
	if sent != 0 || !emptied {
		t.Fatalf("flush on empty device: sent=%d emptied=%v, want 0/true", sent, emptied)
	}
	if len(dq.transmit) != 0 {
		t.Fatal("TryTransmit should not be called when nothing is pending")
	}
}
