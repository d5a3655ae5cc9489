// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher is the optional helper task of spec §4.E: it drains the
// mailbox the arbiter fills in XmitDispatch mode, groups items onto
// per-device-queue markq lists exactly like the arbiter's own flush
// step, and invokes the same device transmit path.
type Dispatcher struct {
	log   zerolog.Logger
	cfg   *AtomicConfig
	stats *Stats
	mb    *DispatchMailbox

	batch     int
	sleep     time.Duration
	devices   map[int]*deviceState
	active    []*deviceState
}

// NewDispatcher creates a Dispatcher draining mb and grouping onto the
// given device queues. Its per-pass drain limit starts at
// cfg.ArbQdiscBatch() and its idle interval at 100µs; SetBatch and
// SetSleepInterval override them.
func NewDispatcher(mb *DispatchMailbox, cfg *AtomicConfig, stats *Stats, devices []DeviceQueue, log zerolog.Logger) *Dispatcher {
	m := make(map[int]*deviceState, len(devices))
	for _, dq := range devices {
		m[dq.ID()] = newDeviceState(dq)
	}
	return &Dispatcher{
		log:     log.With().Str("component", "dispatcher").Logger(),
		cfg:     cfg,
		stats:   stats,
		mb:      mb,
		batch:   cfg.ArbQdiscBatch(),
		sleep:   100 * time.Microsecond,
		devices: m,
	}
}

// SetSleepInterval overrides the between-pass sleep, matching the
// configurable dispatch_sleep_us control surface field (spec §6).
func (d *Dispatcher) SetSleepInterval(us int) {
	d.sleep = time.Duration(us) * time.Microsecond
}

// SetBatch overrides the per-pass drain limit (dispatch_batch, spec §6).
func (d *Dispatcher) SetBatch(n int) { d.batch = n }

// Run drains mb in passes of up to d.batch items, flushing each
// touched device queue after every pass, until ctx is cancelled. After
// a pass that drained nothing it sleeps for d.sleep; a pass that
// drained items is followed at once by the next. That sleep mirrors
// original_source/net/pspat/pspat_main.c's
// usleep_range(sleep_us, sleep_us): a best-effort, not
// precisely-bounded, idle window (spec §9 open question).
func (d *Dispatcher) Run(ctx context.Context) {
	timer := time.NewTimer(d.sleep)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return
		default:
		}

		n := d.runPass()

		if n == 0 {
			timer.Reset(d.sleep)
			select {
			case <-ctx.Done():
				d.shutdown()
				return
			case <-timer.C:
			}
		}
	}
}

// runPass drains up to d.batch items and flushes any device queue
// that received one, returning how many items were drained.
func (d *Dispatcher) runPass() int {
	singleTxq := d.cfg.SingleTxq()
	n := 0
	for n < d.batch {
		item, ok := d.mb.Extract()
		if !ok {
			break
		}
		n++
		devID := item.DeviceQueueID()
		if singleTxq {
			devID = 0
		}
		ds := d.devices[devID]
		if ds == nil {
			continue
		}
		ds.mark(item)
		d.activate(ds)
	}

	live := d.active[:0]
	for _, ds := range d.active {
		sent, emptied := ds.flush()
		if sent > 0 {
			d.stats.reportTransmitSuccess(uint64(sent))
			d.stats.reportDequeue(uint64(sent))
		}
		if !emptied {
			live = append(live, ds)
		}
	}
	d.active = live
	return n
}

func (d *Dispatcher) activate(ds *deviceState) {
	for _, existing := range d.active {
		if existing == ds {
			return
		}
	}
	d.active = append(d.active, ds)
}

// shutdown drops both mailbox contents and any held validq entries
// (spec §4.E "Shutdown drops both mailbox contents and any held
// validq entries").
func (d *Dispatcher) shutdown() {
	for {
		if _, ok := d.mb.Extract(); !ok {
			break
		}
	}
	for _, ds := range d.devices {
		ds.markq = nil
		ds.validq = nil
	}
	d.active = nil
}
