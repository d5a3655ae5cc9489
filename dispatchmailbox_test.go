// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat_test

import (
	"sync"
	"testing"

	"code.hybscloud.com/pspat"
)

type dmItem struct{ n int }

func (d dmItem) Len() int           { return d.n }
func (d dmItem) DeviceQueueID() int { return 0 }
func (d dmItem) OriginCPU() int     { return 0 }

func TestDispatchMailboxInsertExtractFIFO(t *testing.T) {
	mb := pspat.NewDispatchMailbox(16)
	for i := range 10 {
		if err := mb.Insert(dmItem{n: i}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := range 10 {
		item, ok := mb.Extract()
		if !ok || item.(dmItem).n != i {
			t.Fatalf("extract %d: got %v ok=%v", i, item, ok)
		}
	}
	if _, ok := mb.Extract(); ok {
		t.Fatal("expected empty after draining")
	}
}

func TestDispatchMailboxFullAtCapacity(t *testing.T) {
	mb := pspat.NewDispatchMailbox(4)
	accepted := 0
	for mb.Insert(dmItem{n: accepted}) == nil {
		accepted++
	}
	if accepted != mb.Cap() {
		t.Fatalf("accepted %d, want capacity %d", accepted, mb.Cap())
	}
}

func TestDispatchMailboxConcurrentConsumers(t *testing.T) {
	mb := pspat.NewDispatchMailbox(512)
	const n = 500
	for i := range n {
		for mb.Insert(dmItem{n: i}) != nil {
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int]bool)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, ok := mb.Extract()
				if !ok {
					return
				}
				mu.Lock()
				seen[item.(dmItem).n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != n {
		t.Fatalf("observed %d distinct items, want %d", len(seen), n)
	}
}
