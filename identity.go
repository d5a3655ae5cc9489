// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

import (
	"code.hybscloud.com/atomix"
	"github.com/google/uuid"
)

// mailboxIDGen assigns the monotonically-increasing identifier every
// ProducerMailbox carries (spec §3, §6). Reimplementers must compare
// identifiers rather than pointers when deciding whether to
// re-announce a producer mailbox into the client-list mailbox, so that
// an address reused after a mailbox is freed can never be mistaken for
// the mailbox that previously lived there.
var mailboxIDGen atomix.Uint64

// nextMailboxID returns the next globally unique producer-mailbox
// identifier.
func nextMailboxID() uint64 {
	return mailboxIDGen.AddAcqRel(1)
}

// NewInstanceID returns a process-wide identity for one Arbiter
// instance, used only to correlate log lines and metrics across a
// single run. It plays no part in the mailbox-deletion race, which
// relies solely on nextMailboxID.
func NewInstanceID() uuid.UUID {
	return uuid.New()
}
