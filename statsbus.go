// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

import (
	"context"
	"strconv"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
	"github.com/prometheus/client_golang/prometheus"
)

// statEventKind tags which counter a statEvent bumps.
type statEventKind int

const (
	statEnqueueDrop statEventKind = iota
	statDequeue
	statDispatchDrop
	statBackpressureDrop
	statTransmitSuccess
	statProducerInputDrop
)

type statEvent struct {
	kind statEventKind
	cpu  int
	n    uint64
}

// StatsBus is the many-producers/one-aggregator path for the counters
// named in spec §6 that originate from more than one goroutine:
// producer CPUs reporting input-queue drops, the arbiter reporting
// enqueue/dispatch/backpressure drops and transmit successes. It is
// the teacher's FAA-based MPSC algorithm (SCQ, Nikolaev DISC 2019),
// carrying statEvent instead of an arbitrary generic payload, so that
// none of those goroutines contend on a shared struct.
type StatsBus struct {
	_        pad
	head     atomix.Uint64
	_        pad
	tail     atomix.Uint64
	_        pad
	draining atomix.Bool
	_        pad
	buffer   []statsBusSlot
	capacity uint64
	size     uint64
	mask     uint64
}

type statsBusSlot struct {
	cycle atomix.Uint64
	data  statEvent
	_     padShort
}

// NewStatsBus creates a stats bus with room for capacity pending
// events, rounded up to a power of two.
func NewStatsBus(capacity int) *StatsBus {
	n := uint64(roundToPow2(capacity))
	size := n * 2
	b := &StatsBus{
		buffer:   make([]statsBusSlot, size),
		capacity: n,
		size:     size,
		mask:     size - 1,
	}
	for i := uint64(0); i < size; i++ {
		b.buffer[i].cycle.StoreRelaxed(i / n)
	}
	return b
}

func (b *StatsBus) publish(ev statEvent) {
	sw := spin.Wait{}
	for {
		tail := b.tail.LoadAcquire()
		head := b.head.LoadRelaxed()
		if tail >= head+b.capacity {
			// Stats are best-effort: a saturated bus drops the event
			// rather than stalling whichever path is reporting it.
			return
		}

		myTail := b.tail.AddAcqRel(1) - 1
		slot := &b.buffer[myTail&b.mask]
		expectedCycle := myTail / b.capacity
		slotCycle := slot.cycle.LoadAcquire()

		if slotCycle == expectedCycle {
			slot.data = ev
			slot.cycle.StoreRelease(expectedCycle + 1)
			return
		}
		if int64(slotCycle) < int64(expectedCycle) {
			return
		}
		sw.Once()
	}
}

func (b *StatsBus) dequeue() (statEvent, bool) {
	head := b.head.LoadRelaxed()
	cycle := head / b.capacity
	slot := &b.buffer[head&b.mask]

	if slot.cycle.LoadAcquire() != cycle+1 {
		return statEvent{}, false
	}
	ev := slot.data
	slot.data = statEvent{}
	slot.cycle.StoreRelease((head + b.size) / b.capacity)
	b.head.StoreRelaxed(head + 1)
	return ev, true
}

// Stats aggregates the read-only counters named in spec §6, backed by
// github.com/prometheus/client_golang collectors (grounded on
// other_examples' cuemby/warren and ghjramos-aistore). Exactly one
// goroutine (Run) drains the bus and applies its events to the
// counters; the loop-window gauges are set directly by the arbiter
// through setLoopWindow.
type Stats struct {
	bus *StatsBus

	enqueueDrops      prometheus.Counter
	dequeueCount      prometheus.Counter
	dispatchDrops     prometheus.Counter
	backpressureDrops prometheus.Counter
	transmitSuccesses prometheus.Counter
	producerInputDrop *prometheus.CounterVec

	avgLoopNs      prometheus.Gauge
	maxLoopNs      prometheus.Gauge
	avgReqsPerLoop prometheus.Gauge
}

// NewStats builds the stats aggregator and its collectors, registering
// none of them; call Collectors and register with the caller's
// registry (or prometheus.DefaultRegisterer).
func NewStats(busCapacity int) *Stats {
	return &Stats{
		bus: NewStatsBus(busCapacity),
		enqueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pspat", Name: "enqueue_drops_total",
			Help: "Items rejected by a shaping queue's enqueue.",
		}),
		dequeueCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pspat", Name: "dequeue_total",
			Help: "Items dequeued from shaping queues.",
		}),
		dispatchDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pspat", Name: "dispatch_drops_total",
			Help: "Items dropped because the dispatcher mailbox was full.",
		}),
		backpressureDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pspat", Name: "backpressure_drops_total",
			Help: "Full dispatcher-mailbox rejections that raised backpressure on the producing CPU.",
		}),
		transmitSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pspat", Name: "transmit_success_total",
			Help: "Items a device queue accepted for transmit.",
		}),
		producerInputDrop: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pspat", Name: "producer_input_drops_total",
			Help: "Push rejections observed on a producer's own mailbox, by CPU.",
		}, []string{"cpu"}),
		avgLoopNs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pspat", Name: "arb_loop_avg_ns",
			Help: "Average arbiter loop duration over the last stats window.",
		}),
		maxLoopNs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pspat", Name: "arb_loop_max_ns",
			Help: "Maximum arbiter loop duration over the last stats window.",
		}),
		avgReqsPerLoop: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pspat", Name: "arb_loop_avg_reqs",
			Help: "Average items processed per arbiter loop over the last stats window.",
		}),
	}
}

// Collectors returns every collector owned by Stats, for registration.
func (s *Stats) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.enqueueDrops, s.dequeueCount, s.dispatchDrops, s.backpressureDrops,
		s.transmitSuccesses, s.producerInputDrop, s.avgLoopNs, s.maxLoopNs, s.avgReqsPerLoop,
	}
}

func (s *Stats) reportEnqueueDrop()      { s.bus.publish(statEvent{kind: statEnqueueDrop, n: 1}) }
func (s *Stats) reportDequeue(n uint64)  { s.bus.publish(statEvent{kind: statDequeue, n: n}) }
func (s *Stats) reportDispatchDrop()     { s.bus.publish(statEvent{kind: statDispatchDrop, n: 1}) }
func (s *Stats) reportBackpressureDrop() { s.bus.publish(statEvent{kind: statBackpressureDrop, n: 1}) }
func (s *Stats) reportTransmitSuccess(n uint64) {
	s.bus.publish(statEvent{kind: statTransmitSuccess, n: n})
}
func (s *Stats) reportProducerInputDrop(cpu int) {
	s.bus.publish(statEvent{kind: statProducerInputDrop, cpu: cpu, n: 1})
}

func (s *Stats) setLoopWindow(avgNs, maxNs, avgReqs float64) {
	s.avgLoopNs.Set(avgNs)
	s.maxLoopNs.Set(maxNs)
	s.avgReqsPerLoop.Set(avgReqs)
}

// Run drains the bus and applies events to the prometheus collectors
// until ctx is cancelled. It is meant to run on its own goroutine.
func (s *Stats) Run(ctx context.Context) {
	sw := spin.Wait{}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ev, ok := s.bus.dequeue()
		if !ok {
			sw.Once()
			continue
		}
		switch ev.kind {
		case statEnqueueDrop:
			s.enqueueDrops.Add(float64(ev.n))
		case statDequeue:
			s.dequeueCount.Add(float64(ev.n))
		case statDispatchDrop:
			s.dispatchDrops.Add(float64(ev.n))
		case statBackpressureDrop:
			s.backpressureDrops.Add(float64(ev.n))
		case statTransmitSuccess:
			s.transmitSuccesses.Add(float64(ev.n))
		case statProducerInputDrop:
			s.producerInputDrop.WithLabelValues(strconv.Itoa(ev.cpu)).Add(float64(ev.n))
		}
	}
}
