// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

import (
	"time"

	"code.hybscloud.com/atomix"
)

// picoShift is the left shift applied to a monotonic nanosecond
// reading to obtain pseudo-picoseconds (spec §4.D.1, GLOSSARY). Using
// a shift instead of multiplying by 1000 keeps rate*length divisions
// exact in integer arithmetic while staying cheap to compute on every
// pass.
const picoShift = 10

// Clock reports a monotonic instant, already rescaled to
// pseudo-picoseconds. Exists as an interface purely so tests can
// inject a deterministic fake; production code uses [SystemClock].
type Clock interface {
	NowPicos() uint64
}

// SystemClock reads the host monotonic clock (time elapsed since
// process start, via time.Since) and rescales it to pseudo-picoseconds.
type SystemClock struct{}

// clockEpoch anchors SystemClock; time.Since on it uses the monotonic
// reading time.Now carries, not the wall clock.
var clockEpoch = time.Now()

// NowPicos implements Clock.
func (SystemClock) NowPicos() uint64 {
	return uint64(time.Since(clockEpoch).Nanoseconds()) << picoShift
}

// FakeClock is a manually-advanced [Clock] for deterministic tests.
type FakeClock struct {
	picos uint64
}

// NewFakeClock returns a FakeClock starting at the given pseudo-picosecond
// instant.
func NewFakeClock(startPicos uint64) *FakeClock {
	return &FakeClock{picos: startPicos}
}

// NowPicos implements Clock.
func (c *FakeClock) NowPicos() uint64 {
	return c.picos
}

// Advance moves the fake clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.picos += uint64(d.Nanoseconds()) << picoShift
}

// rateCache caches picos_per_byte, recomputing it only when the
// configured rate changes (spec §9, "Rate precomputation vs.
// per-packet division"). Only the arbiter task ever calls update, so
// no synchronization beyond atomix's relaxed ordering is needed (spec
// §5, "Rate precomputation").
type rateCache struct {
	rateBps      atomix.Uint64
	picosPerByte atomix.Uint64
}

// picosPerByte computes floor(8 * 1e9 * 1024 / rateBps), the pseudo-picosecond
// cost of one byte at the given bits-per-second rate.
func picosPerByte(rateBps uint64) uint64 {
	if rateBps == 0 {
		return 0
	}
	const numerator = uint64(8) * 1_000_000_000 << picoShift
	return numerator / rateBps
}

// update recomputes the cached picos_per_byte only if rateBps changed
// since the last call, returning the (possibly unchanged) cached value.
func (c *rateCache) update(rateBps uint64) uint64 {
	if c.rateBps.LoadRelaxed() == rateBps {
		return c.picosPerByte.LoadRelaxed()
	}
	ppb := picosPerByte(rateBps)
	c.rateBps.StoreRelaxed(rateBps)
	c.picosPerByte.StoreRelaxed(ppb)
	return ppb
}
