// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package pspat

// RaceEnabled is true when the race detector is active. The race
// detector cannot observe cross-variable acquire/release ordering, so
// it can report false positives on the lock-free mailboxes; no test in
// this package currently reads this constant.
const RaceEnabled = true
