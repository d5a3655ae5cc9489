// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type testItem struct {
	length, devq, cpu int
}

func (t testItem) Len() int           { return t.length }
func (t testItem) DeviceQueueID() int { return t.devq }
func (t testItem) OriginCPU() int     { return t.cpu }

func TestClientQueuePushAnnouncesMailboxOnce(t *testing.T) {
	cq := NewClientQueue(0, 64, 8, 64, 8, nil)

	for i := range 5 {
		if err := cq.Push(testItem{length: 100, cpu: 0}); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	// All 5 pushes share one payload mailbox, so only the first
	// announces it into the client-list mailbox.
	pm := cq.getPayloadMB()
	if pm == nil {
		t.Fatal("getPayloadMB: nil, want the announced mailbox")
	}
	for i := range 5 {
		item, ok := pm.mb.Extract()
		if !ok {
			t.Fatalf("extract %d: empty", i)
		}
		if item.(testItem).length != 100 {
			t.Fatalf("extract %d: wrong item", i)
		}
	}
	if _, ok := pm.mb.Extract(); ok {
		t.Fatal("expected payload mailbox drained after 5 extracts")
	}

	// No second handle was announced: nothing further to extract from
	// the client-list mailbox for this same mailbox generation.
	if got := cq.getPayloadMB(); got != pm {
		t.Fatalf("getPayloadMB: got %v, want cached %v", got, pm)
	}
}

func TestClientQueueBackpressurePropagation(t *testing.T) {
	cq := NewClientQueue(0, 64, 8, 64, 8, nil)
	if err := cq.Push(testItem{length: 64}); err != nil {
		t.Fatalf("push: %v", err)
	}
	cq.payloadMB.setBackpressure()

	if err := cq.Push(testItem{length: 64}); err == nil || !IsFull(err) {
		t.Fatalf("push under backpressure: got %v, want ErrFull", err)
	}
	if cq.payloadMB.Backpressure() {
		t.Fatal("backpressure flag should be cleared by the producer's next push")
	}
	if err := cq.Push(testItem{length: 64}); err != nil {
		t.Fatalf("push after backpressure cleared: %v", err)
	}
}

func TestClientQueueAckRecyclesTouchedMailboxes(t *testing.T) {
	cq := NewClientQueue(0, 64, 8, 64, 8, nil)
	const n = 50
	for i := range n {
		if err := cq.Push(testItem{length: i}); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	pm := cq.getPayloadMB()
	for range n {
		if _, ok := pm.mb.Extract(); !ok {
			t.Fatal("unexpected empty during drain")
		}
	}
	cq.markTouched(pm)
	cq.ack()
	if len(cq.mbToClear) != 0 {
		t.Fatalf("mbToClear not reset: len=%d", len(cq.mbToClear))
	}
	if err := pm.mb.Insert(testItem{length: 1}); err != nil {
		t.Fatalf("insert after ack: %v", err)
	}
}

func TestClientQueueCloseMarksDeadAndDeliversPoison(t *testing.T) {
	cq := NewClientQueue(0, 64, 8, 64, 8, nil)
	if err := cq.Push(testItem{length: 10}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := cq.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !cq.payloadMB.Dead() {
		t.Fatal("expected payload mailbox marked dead after Close")
	}

	pm := cq.getPayloadMB()
	first, ok := pm.mb.Extract()
	if !ok || first.(testItem).length != 10 {
		t.Fatalf("expected to extract the original item first, got %v ok=%v", first, ok)
	}
	second, ok := pm.mb.Extract()
	if !ok || !isPoison(second) {
		t.Fatalf("expected poison item second, got %v ok=%v", second, ok)
	}
}

func TestClientQueueCloseWithoutPriorPushIsNoop(t *testing.T) {
	cq := NewClientQueue(0, 64, 8, 64, 8, nil)
	if err := cq.Close(); err != nil {
		t.Fatalf("close on idle queue: %v", err)
	}
	if cq.payloadMB != nil {
		t.Fatal("close on idle queue should not allocate a payload mailbox")
	}
}

func TestClientQueuePushReportsInputDropOnMailboxFull(t *testing.T) {
	stats := NewStats(64)
	ctx, cancel := context.WithCancel(context.Background())
	go stats.Run(ctx)
	defer cancel()

	cq := NewClientQueue(3, 8, 2, 64, 8, stats)
	var lastErr error
	for i := range 64 {
		if lastErr = cq.Push(testItem{length: i}); lastErr != nil {
			break
		}
	}
	if lastErr == nil || !IsFull(lastErr) {
		t.Fatalf("expected the payload mailbox to fill and Push to return ErrFull, got %v", lastErr)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(stats.producerInputDrop.WithLabelValues(strconv.Itoa(3))) >= 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("producerInputDrop counter did not converge for cpu 3")
}

func TestClientQueueGetPayloadMBNilWhenIdle(t *testing.T) {
	cq := NewClientQueue(0, 64, 8, 64, 8, nil)
	if got := cq.getPayloadMB(); got != nil {
		t.Fatalf("getPayloadMB on idle queue: got %v, want nil", got)
	}
}
