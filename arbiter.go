// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

import (
	"context"
	"runtime"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// XmitMode selects what the arbiter does with an item once a shaping
// queue releases it (spec §4.D.5, §6).
type XmitMode int32

const (
	// XmitARB marks items onto a per-device queue's active list and
	// flushes it inline from the arbiter pass.
	XmitARB XmitMode = iota
	// XmitDispatch inserts items into a dispatcher mailbox for a
	// separate Dispatcher task to flush.
	XmitDispatch
	// XmitDrop discards items immediately, for measurement runs.
	XmitDrop
)

// statsWindowLoops is PSPAT_ARB_STATS_LOOPS from original_source/net/pspat/pspat.h.
const statsWindowLoops = 4096

// loopStatsWindow accumulates per-loop timing until statsWindowLoops
// passes have been recorded, then reports the window's avg/max ns and
// avg requests/loop (spec §4.D.7) and resets.
type loopStatsWindow struct {
	loops    uint64
	sumPicos uint64
	maxPicos uint64
	sumReqs  uint64
}

func (w *loopStatsWindow) record(elapsedPicos, reqs uint64) (avgNs, maxNs, avgReqs float64, rolled bool) {
	w.loops++
	w.sumPicos += elapsedPicos
	w.sumReqs += reqs
	if elapsedPicos > w.maxPicos {
		w.maxPicos = elapsedPicos
	}
	if w.loops < statsWindowLoops {
		return 0, 0, 0, false
	}
	avgNs = float64(w.sumPicos>>picoShift) / float64(w.loops)
	maxNs = float64(w.maxPicos >> picoShift)
	avgReqs = float64(w.sumReqs) / float64(w.loops)
	*w = loopStatsWindow{}
	return avgNs, maxNs, avgReqs, true
}

// Arbiter is the single fixed-cadence consumer task described in spec
// §4.D: it fans in from every Client Queue, drives shaping queues
// through ShapingQueueAdapter, paces dequeues against the configured
// link rate, and emits to either an inline device flush or a
// dispatcher mailbox.
type Arbiter struct {
	instanceID uuid.UUID
	log        zerolog.Logger

	cfg   *AtomicConfig
	clock Clock
	rate  rateCache
	stats *Stats

	clientQueues []*ClientQueue

	shapingByDevice map[int]*ShapingQueueAdapter
	bypass          *ShapingQueueAdapter
	owned           []*ShapingQueueAdapter

	devices       map[int]*deviceState
	activeDevices []*deviceState

	dispatchMB *DispatchMailbox

	mbToDelete []*ProducerMailbox
	window     loopStatsWindow
}

// ArbiterBuilder configures and constructs an Arbiter, in the
// teacher's fluent-builder idiom (the deleted lfq Builder configured
// queue algorithm selection the same way).
type ArbiterBuilder struct {
	numCPU                             int
	mailboxEntries, mailboxLineEntries int
	listEntries, listLineEntries       int
	dispatchMailboxCapacity            int
	statsBusCapacity                   int
	bypassCapacity                     int

	cfg   *AtomicConfig
	clock Clock
	log   zerolog.Logger
	logSet bool

	devices       []DeviceQueue
	shapingQueues map[int]ShapingQueue
}

// NewArbiterBuilder returns a builder seeded with the teacher-style
// defaults used throughout this repository's tests.
func NewArbiterBuilder() *ArbiterBuilder {
	return &ArbiterBuilder{
		numCPU:                  1,
		mailboxEntries:          512,
		mailboxLineEntries:      16,
		listEntries:             64,
		listLineEntries:         8,
		dispatchMailboxCapacity: 4096,
		statsBusCapacity:        4096,
		bypassCapacity:          1024,
		clock:                   SystemClock{},
		shapingQueues:           make(map[int]ShapingQueue),
	}
}

// CPUs sets the number of per-CPU client queues to create.
func (b *ArbiterBuilder) CPUs(n int) *ArbiterBuilder { b.numCPU = n; return b }

// MailboxSize sets the payload mailbox capacity and line size.
func (b *ArbiterBuilder) MailboxSize(entries, lineEntries int) *ArbiterBuilder {
	b.mailboxEntries, b.mailboxLineEntries = entries, lineEntries
	return b
}

// ClientListSize sets the per-CPU client-list mailbox capacity and line size.
func (b *ArbiterBuilder) ClientListSize(entries, lineEntries int) *ArbiterBuilder {
	b.listEntries, b.listLineEntries = entries, lineEntries
	return b
}

// DispatchMailboxCapacity sizes the arbiter-to-dispatcher mailbox.
func (b *ArbiterBuilder) DispatchMailboxCapacity(n int) *ArbiterBuilder {
	b.dispatchMailboxCapacity = n
	return b
}

// Config attaches the live, control-surface-writable configuration.
func (b *ArbiterBuilder) Config(cfg *AtomicConfig) *ArbiterBuilder { b.cfg = cfg; return b }

// Clock overrides the monotonic clock source, e.g. with a FakeClock in tests.
func (b *ArbiterBuilder) Clock(c Clock) *ArbiterBuilder { b.clock = c; return b }

// Logger attaches a scoped logger.
func (b *ArbiterBuilder) Logger(log zerolog.Logger) *ArbiterBuilder {
	b.log, b.logSet = log, true
	return b
}

// DeviceQueue registers a device queue and the shaping queue that
// feeds it, keyed by dq.ID().
func (b *ArbiterBuilder) DeviceQueue(dq DeviceQueue, sq ShapingQueue) *ArbiterBuilder {
	b.devices = append(b.devices, dq)
	b.shapingQueues[dq.ID()] = sq
	return b
}

// Build constructs the Arbiter. Panics if Config was never called:
// the control surface is not optional ambient wiring, it is how
// enable/xmit_mode/rate reach the hot loop.
func (b *ArbiterBuilder) Build() *Arbiter {
	if b.cfg == nil {
		panic("pspat: ArbiterBuilder requires Config")
	}

	stats := NewStats(b.statsBusCapacity)

	clientQueues := make([]*ClientQueue, b.numCPU)
	for i := range clientQueues {
		clientQueues[i] = NewClientQueue(i, b.mailboxEntries, b.mailboxLineEntries, b.listEntries, b.listLineEntries, stats)
	}

	devices := make(map[int]*deviceState, len(b.devices))
	shapingByDevice := make(map[int]*ShapingQueueAdapter, len(b.devices))
	for _, dq := range b.devices {
		devices[dq.ID()] = newDeviceState(dq)
		if sq, ok := b.shapingQueues[dq.ID()]; ok {
			shapingByDevice[dq.ID()] = newShapingQueueAdapter(dq.ID(), sq, 0)
		}
	}

	log := b.log
	if !b.logSet {
		log = NewLogger("info")
	}

	return &Arbiter{
		instanceID:      uuid.New(),
		log:             log.With().Str("component", "arbiter").Logger(),
		cfg:             b.cfg,
		clock:           b.clock,
		stats:           stats,
		clientQueues:    clientQueues,
		shapingByDevice: shapingByDevice,
		bypass:          newShapingQueueAdapter(-1, NewBypassShapingQueue(b.bypassCapacity), 0),
		devices:         devices,
		dispatchMB:      NewDispatchMailbox(b.dispatchMailboxCapacity),
	}
}

// InstanceID returns the log-correlation identity for this arbiter
// process (spec §9 "global state"/SPEC_FULL §3 identity section; not
// used in any mailbox-deletion decision).
func (a *Arbiter) InstanceID() uuid.UUID { return a.instanceID }

// Stats returns the read-only counters collector.
func (a *Arbiter) Stats() *Stats { return a.stats }

// DispatchMailbox returns the mailbox a Dispatcher should drain when
// xmit_mode is DISPATCH.
func (a *Arbiter) DispatchMailbox() *DispatchMailbox { return a.dispatchMB }

// ClientQueue returns the client queue for producer CPU i, for a
// producer to call Push/Close against.
func (a *Arbiter) ClientQueue(cpu int) *ClientQueue { return a.clientQueues[cpu] }

// SetEnabled toggles arbiter participation. Per SPEC_FULL §4
// ("Per-arbiter-registration lifecycle counters"), a disabled→enabled
// transition resets the statistics window so a toggle through the
// control surface doesn't pollute fresh statistics with stale history.
func (a *Arbiter) SetEnabled(enabled bool) {
	was := a.cfg.Enabled()
	a.cfg.SetEnabled(enabled)
	if enabled && !was {
		a.window = loopStatsWindow{}
	}
}

// Run drives the arbiter loop until ctx is cancelled, then releases
// ownership of every shaping queue it holds (spec §4.C "On shutdown").
// The arbiter never blocks inside a pass (spec §5); between passes it
// yields voluntarily.
func (a *Arbiter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return
		default:
		}
		a.runPass()
		runtime.Gosched()
	}
}

func (a *Arbiter) shutdown() {
	for _, adapter := range a.owned {
		adapter.release()
	}
}

// runPass executes one arbiter loop iteration (spec §4.D, steps 1-7).
func (a *Arbiter) runPass() {
	if !a.cfg.Enabled() {
		return
	}

	start := a.clock.NowPicos()
	now := start
	ppb := a.rate.update(a.cfg.RateBps())
	arbIntervalPicos := a.cfg.ArbIntervalNs() << picoShift
	singleTxq := a.cfg.SingleTxq()
	tcBypass := a.cfg.TCBypass()
	qdiscBatch := a.cfg.ArbQdiscBatch()

	var reqs uint64
	anySeen := false

	// 2. Fetch phase.
	for _, cq := range a.clientQueues {
		if now < cq.arbExtractNext {
			continue
		}
		cq.arbExtractNext = now + arbIntervalPicos

		for {
			pm := cq.getPayloadMB()
			if pm == nil {
				break
			}
			item, ok := pm.mb.Extract()
			if !ok {
				break
			}
			anySeen = true
			reqs++
			cq.markTouched(pm)

			if isPoison(item) {
				// The poison item is always the producer's last push
				// (Close pushes it, then sets dead), so the mailbox is
				// guaranteed to receive nothing more: free it now
				// instead of waiting for the quiet-round latch below,
				// which exists only for producers that crash without
				// calling Close.
				cq.forgetCurrent()
				break
			}

			devID := item.DeviceQueueID()
			if singleTxq {
				devID = 0
			}

			var adapter *ShapingQueueAdapter
			if tcBypass {
				adapter = a.bypass
			} else {
				adapter = a.shapingByDevice[devID]
			}
			if adapter == nil {
				continue
			}
			if !adapter.owned() {
				if !adapter.steal(now) {
					continue
				}
				adapter.batchLimit = qdiscBatch
				a.owned = append(a.owned, adapter)
			}
			if adapter.enqueue(item) == EnqueueDropped {
				a.stats.reportEnqueueDrop()
				a.drainIntoDiscard(pm, cq)
				pm.setBackpressure()
			}
		}

		if cq.arbLastMB != nil && cq.arbLastMB.Dead() && cq.arbLastMB.mb.Empty() {
			a.mbToDelete = append(a.mbToDelete, cq.arbLastMB)
			cq.forgetCurrent()
		}
	}

	// 3. Ack phase.
	for _, cq := range a.clientQueues {
		cq.ack()
	}
	if !anySeen {
		a.mbToDelete = a.mbToDelete[:0]
	}

	// 4 & 5. Dequeue and emit.
	for _, adapter := range a.owned {
		if !adapter.owned() {
			continue
		}
		deadline := adapter.nextLinkIdle
		n := 0
		starved := false
		for deadline <= now && n < adapter.batchLimit {
			item, ok := adapter.dequeueNext()
			if !ok {
				starved = true
				break
			}
			deadline += ppb * uint64(item.Len())
			n++
			reqs++
			a.emit(item, singleTxq)
		}
		if starved {
			deadline = now
		}
		adapter.nextLinkIdle = deadline
	}

	// 6. Flush (ARB only).
	if a.cfg.XmitMode() == XmitARB {
		a.flushActiveDevices()
	}

	// 7. Statistics.
	elapsed := a.clock.NowPicos() - start
	if avgNs, maxNs, avgReqs, rolled := a.window.record(elapsed, reqs); rolled {
		a.stats.setLoopWindow(avgNs, maxNs, avgReqs)
	}
}

// drainIntoDiscard empties pm after a shaping-queue rejection (spec
// §4.C "drain that producer's current mailbox into discard").
func (a *Arbiter) drainIntoDiscard(pm *ProducerMailbox, cq *ClientQueue) {
	for {
		_, ok := pm.mb.Extract()
		if !ok {
			break
		}
	}
	cq.markTouched(pm)
}

func (a *Arbiter) emit(item Item, singleTxq bool) {
	switch a.cfg.XmitMode() {
	case XmitDrop:
		return
	case XmitDispatch:
		if err := a.dispatchMB.Insert(item); err != nil {
			a.stats.reportDispatchDrop()
			a.setLastProducerBackpressure(item.OriginCPU())
		}
	default: // XmitARB
		devID := item.DeviceQueueID()
		if singleTxq {
			devID = 0
		}
		ds := a.devices[devID]
		if ds == nil {
			return
		}
		ds.mark(item)
		a.activateDevice(ds)
	}
}

func (a *Arbiter) setLastProducerBackpressure(cpu int) {
	if cpu < 0 || cpu >= len(a.clientQueues) {
		return
	}
	cq := a.clientQueues[cpu]
	if cq.arbLastMB != nil {
		cq.arbLastMB.setBackpressure()
	}
	a.stats.reportBackpressureDrop()
}

func (a *Arbiter) activateDevice(ds *deviceState) {
	for _, existing := range a.activeDevices {
		if existing == ds {
			return
		}
	}
	a.activeDevices = append(a.activeDevices, ds)
}

func (a *Arbiter) flushActiveDevices() {
	live := a.activeDevices[:0]
	for _, ds := range a.activeDevices {
		sent, emptied := ds.flush()
		if sent > 0 {
			a.stats.reportTransmitSuccess(uint64(sent))
			a.stats.reportDequeue(uint64(sent))
		}
		if !emptied {
			live = append(live, ds)
		}
	}
	a.activeDevices = live
}
