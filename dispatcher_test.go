// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherRunPassDrainsAndFlushes(t *testing.T) {
	dq := &fakeDeviceQueue{id: 0, accept: 1 << 30}
	mb := NewDispatchMailbox(64)
	for i := range 10 {
		if err := mb.Insert(testItem{length: 100, devq: 0, cpu: 0}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	cfg := NewAtomicConfig(defaultConfig())
	stats := NewStats(64)
	d := NewDispatcher(mb, cfg, stats, []DeviceQueue{dq}, NewLogger("error"))
	d.SetBatch(100)

	n := d.runPass()
	if n != 10 {
		t.Fatalf("runPass drained %d, want 10", n)
	}
	if len(dq.transmit) != 10 {
		t.Fatalf("device transmitted %d, want 10", len(dq.transmit))
	}
}

func TestDispatcherRunPassRespectsBatchLimit(t *testing.T) {
	dq := &fakeDeviceQueue{id: 0, accept: 1 << 30}
	mb := NewDispatchMailbox(64)
	for i := range 10 {
		_ = mb.Insert(testItem{length: 10, devq: 0, cpu: 0})
		_ = i
	}

	cfg := NewAtomicConfig(defaultConfig())
	stats := NewStats(64)
	d := NewDispatcher(mb, cfg, stats, []DeviceQueue{dq}, NewLogger("error"))
	d.SetBatch(4)

	n := d.runPass()
	if n != 4 {
		t.Fatalf("runPass drained %d, want batch limit 4", n)
	}
}

func TestDispatcherRunPassHonorsSingleTxq(t *testing.T) {
	dq0 := &fakeDeviceQueue{id: 0, accept: 1 << 30}
	mb := NewDispatchMailbox(8)
	_ = mb.Insert(testItem{length: 10, devq: 7, cpu: 0})

	cfg := NewAtomicConfig(defaultConfig())
	cfg.SetSingleTxq(true)
	stats := NewStats(8)
	d := NewDispatcher(mb, cfg, stats, []DeviceQueue{dq0}, NewLogger("error"))

	if n := d.runPass(); n != 1 {
		t.Fatalf("runPass drained %d, want 1", n)
	}
	if len(dq0.transmit) != 1 {
		t.Fatal("item destined for device 7 should have been routed to device 0 under single_txq")
	}
}

func TestDispatcherShutdownDrainsMailboxAndValidq(t *testing.T) {
	dq := &fakeDeviceQueue{id: 0, accept: 0}
	mb := NewDispatchMailbox(8)
	_ = mb.Insert(testItem{length: 10, devq: 0, cpu: 0})

	cfg := NewAtomicConfig(defaultConfig())
	stats := NewStats(8)
	d := NewDispatcher(mb, cfg, stats, []DeviceQueue{dq}, NewLogger("error"))
	d.runPass()
	if len(d.devices[0].validq) == 0 {
		t.Fatal("expected the refused item to be retained on validq before shutdown")
	}

	d.shutdown()
	if len(d.devices[0].validq) != 0 || len(d.devices[0].markq) != 0 {
		t.Fatal("shutdown should drop both mailbox contents and any held validq entries")
	}
	if _, ok := mb.Extract(); ok {
		t.Fatal("shutdown should have drained the dispatch mailbox")
	}
}

func TestDispatcherRunStopsOnContextCancel(t *testing.T) {
	dq := &fakeDeviceQueue{id: 0, accept: 1 << 30}
	mb := NewDispatchMailbox(8)
	cfg := NewAtomicConfig(defaultConfig())
	stats := NewStats(8)
	d := NewDispatcher(mb, cfg, stats, []DeviceQueue{dq}, NewLogger("error"))
	d.SetSleepInterval(100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
