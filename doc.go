// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pspat implements a parallel scheduler for packet arbitration
// tasks: per-CPU producers deposit opaque work items into wait-free
// SPSC mailboxes, a single arbiter task fans in at a fixed cadence,
// feeds a traffic-shaping queue per target device, and paces dequeues
// against a simulated wire rate. Optional dispatcher tasks drain the
// resulting transmit schedule.
//
// # Data path
//
// Producers never block. [ClientQueue.Push] either succeeds or returns
// [ErrFull], at which point the caller is expected to drop the item and
// fall back to its own default path.
//
//	cq := arb.ClientQueue(cpu)
//	if err := cq.Push(item); pspat.IsFull(err) {
//	    // backpressure: drop and signal upstream
//	}
//
// The [Arbiter] owns one [ClientQueue] per producer CPU, visits them in
// index order once per pass, drains newly arrived items into the
// matching [ShapingQueueAdapter], and paces dequeues out of each
// adapter against its own next_link_idle deadline. Depending on
// [Config.XmitMode] items are marked onto a device's active queue for
// an in-loop transmit, handed to a dispatcher mailbox, or dropped.
//
// # Core vs ambient
//
// [Mailbox], [ClientQueue], [ShapingQueueAdapter] and [Arbiter] are the
// core described by the specification this module implements. Logging
// ([NewLogger]), configuration ([Config], [LoadConfig]), the control
// surface ([NewControlServer]) and statistics ([Stats]) are the
// ambient stack every production build of the core needs; they are
// built the way the rest of this codebase's dependency graph builds
// them, not bolted on.
//
// # Dependencies
//
// The lock-free core uses [code.hybscloud.com/atomix] for atomic
// primitives with explicit memory ordering, [code.hybscloud.com/iox]
// for semantic errors, and [code.hybscloud.com/spin] for CPU pause
// instructions during bounded retry loops. The ambient stack uses
// github.com/rs/zerolog for logging, github.com/spf13/{viper,cobra}
// for configuration and the CLI, github.com/prometheus/client_golang
// for statistics, github.com/go-chi/chi/v5 and
// github.com/json-iterator/go for the control surface, and
// github.com/pkg/errors and github.com/google/uuid where call-site
// context or process-wide identity is needed.
//
// # Race detection
//
// Like the teacher package this one is built from, the lock-free core
// uses acquire/release atomics to protect non-atomic fields, which the
// race detector cannot always see through. [RaceEnabled] reports
// whether the race detector is active; the package's tests neither
// read it nor carry a race build tag.
package pspat
