// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

import "testing"

// fakeShapingQueue is a minimal in-memory ShapingQueue for exercising
// the adapter's steal/drain/release protocol without a real scheduler.
type fakeShapingQueue struct {
	items        []Item
	requeued     Item
	badTransmit  Item
	beginResults []bool
	beginCalls   int
	endRunCalls  int
}

func (f *fakeShapingQueue) Enqueue(item Item) EnqueueResult {
	f.items = append(f.items, item)
	return EnqueueOk
}

func (f *fakeShapingQueue) Dequeue() (Item, bool) {
	if len(f.items) == 0 {
		return nil, false
	}
	item := f.items[0]
	f.items = f.items[1:]
	return item, true
}

func (f *fakeShapingQueue) Requeued() (Item, bool) {
	if f.requeued == nil {
		return nil, false
	}
	return f.requeued, true
}
func (f *fakeShapingQueue) SetRequeued(item Item) { f.requeued = item }

func (f *fakeShapingQueue) BadTransmit() (Item, bool) {
	if f.badTransmit == nil {
		return nil, false
	}
	return f.badTransmit, true
}
func (f *fakeShapingQueue) SetBadTransmit(item Item) { f.badTransmit = item }

func (f *fakeShapingQueue) TryBeginRun() bool {
	i := f.beginCalls
	f.beginCalls++
	if i < len(f.beginResults) {
		return f.beginResults[i]
	}
	return true
}

func (f *fakeShapingQueue) EndRun() { f.endRunCalls++ }

func TestShapingQueueAdapterStealConflictThenSuccess(t *testing.T) {
	fq := &fakeShapingQueue{beginResults: []bool{false, true}}
	a := newShapingQueueAdapter(0, fq, 40)

	if a.steal(100) {
		t.Fatal("first steal attempt should fail")
	}
	if a.owned() {
		t.Fatal("adapter should not be owned after a failed steal")
	}
	if !a.steal(200) {
		t.Fatal("second steal attempt should succeed")
	}
	if !a.owned() {
		t.Fatal("adapter should be owned after a successful steal")
	}
	if a.nextLinkIdle != 200 {
		t.Fatalf("nextLinkIdle: got %d, want 200", a.nextLinkIdle)
	}
}

func TestShapingQueueAdapterStealDiscardsInFlightItems(t *testing.T) {
	fq := &fakeShapingQueue{
		items:       []Item{testItem{length: 1}, testItem{length: 2}},
		requeued:    testItem{length: 3},
		badTransmit: testItem{length: 4},
	}
	a := newShapingQueueAdapter(0, fq, 40)
	if !a.steal(0) {
		t.Fatal("steal should succeed against a cooperative fake")
	}
	if _, ok := a.dequeueNext(); ok {
		t.Fatal("steal must discard everything already queued")
	}
	if len(fq.items) != 0 || fq.requeued != nil || fq.badTransmit != nil {
		t.Fatal("steal must clear requeued and bad-transmit sidecars too")
	}
}

func TestShapingQueueAdapterDequeueNextPrefersRequeued(t *testing.T) {
	fq := &fakeShapingQueue{items: []Item{testItem{length: 2}}}
	a := newShapingQueueAdapter(0, fq, 40)
	a.requeue(testItem{length: 1})

	item, ok := a.dequeueNext()
	if !ok || item.(testItem).length != 1 {
		t.Fatalf("expected requeued item first, got %v ok=%v", item, ok)
	}
	item, ok = a.dequeueNext()
	if !ok || item.(testItem).length != 2 {
		t.Fatalf("expected queue's own item second, got %v ok=%v", item, ok)
	}
}

func TestShapingQueueAdapterReleaseEndsRunOnlyWhenOwned(t *testing.T) {
	fq := &fakeShapingQueue{}
	a := newShapingQueueAdapter(0, fq, 40)
	a.release()
	if fq.endRunCalls != 0 {
		t.Fatal("release on an unowned adapter must not call EndRun")
	}

	a.steal(0)
	a.release()
	if fq.endRunCalls != 1 {
		t.Fatalf("endRunCalls: got %d, want 1", fq.endRunCalls)
	}
}

func TestBypassShapingQueueFIFOAndCapacity(t *testing.T) {
	q := NewBypassShapingQueue(2)
	if q.Enqueue(testItem{length: 1}) != EnqueueOk {
		t.Fatal("first enqueue should succeed")
	}
	if q.Enqueue(testItem{length: 2}) != EnqueueOk {
		t.Fatal("second enqueue should succeed")
	}
	if q.Enqueue(testItem{length: 3}) != EnqueueDropped {
		t.Fatal("third enqueue should be dropped at capacity")
	}
	item, ok := q.Dequeue()
	if !ok || item.(testItem).length != 1 {
		t.Fatalf("expected FIFO order, got %v ok=%v", item, ok)
	}
}

func TestBypassShapingQueueTryBeginRunAlwaysSucceeds(t *testing.T) {
	q := NewBypassShapingQueue(1)
	if !q.TryBeginRun() || !q.TryBeginRun() {
		t.Fatal("bypass queue should never refuse ownership")
	}
}
