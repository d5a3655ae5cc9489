// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

import (
	"code.hybscloud.com/iox"
	"github.com/pkg/errors"
)

// ErrFull indicates a mailbox insert could not proceed because the
// slot it would land on has not been cleared yet. It is the only
// failing mailbox operation; callers drop the item and, for producer
// mailboxes, treat the condition as backpressure.
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency
// with the rest of the code.hybscloud.com queue family.
var ErrFull = iox.ErrWouldBlock

// IsFull reports whether err indicates a mailbox was full.
func IsFull(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control-flow signal rather than
// a failure. Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// ErrNotEnabled is the error for a producer push attempted while no
// arbiter is enabled. Unlike ErrFull this is not backpressure: the
// submitter falls back to its own default transmit path rather than
// retrying. ClientQueue.Push does not consult the enable setting and
// never returns it; no function in this package returns it.
var ErrNotEnabled = errors.New("pspat: arbiter not enabled")

// ErrShapingStealConflict indicates the arbiter could not take
// ownership of a shaping queue because another scheduler is currently
// running it (ShapingQueue.TryBeginRun returned false). The triggering
// item is dropped; the next first-sighting of the same queue retries.
var ErrShapingStealConflict = errors.New("pspat: shaping queue already owned")

// ErrShapingReject indicates a shaping queue's own Enqueue refused an
// item. The arbiter drains the offending producer's current mailbox
// into a discard sink and raises backpressure on it.
var ErrShapingReject = errors.New("pspat: shaping queue rejected item")

// ErrDispatcherFull indicates the arbiter->dispatcher mailbox rejected
// an item in DISPATCH transmit mode.
var ErrDispatcherFull = errors.New("pspat: dispatcher mailbox full")

// ErrDeviceBusy indicates a device's TryTransmit refused some or all
// of the items handed to it; the remainder is kept on that device's
// validq for a later flush.
var ErrDeviceBusy = errors.New("pspat: device busy")

// wrapOOM wraps an allocation failure as an out-of-memory condition
// that surfaces to the control-surface caller instead of being
// recovered from in-pass.
func wrapOOM(err error, what string) error {
	return errors.Wrapf(err, "pspat: out of memory allocating %s", what)
}
