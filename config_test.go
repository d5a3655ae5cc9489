// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat_test

import (
	"testing"

	"code.hybscloud.com/pspat"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsMatchEndToEndScenarioParameters(t *testing.T) {
	cfg, err := pspat.LoadConfig("")
	require.NoError(t, err)
	require.True(t, cfg.Enable)
	require.EqualValues(t, 40_000_000_000, cfg.RateBps)
	require.EqualValues(t, 1000, cfg.ArbIntervalNs)
	require.Equal(t, 40, cfg.ArbQdiscBatch)
	require.Equal(t, 512, cfg.MailboxEntries)
	require.Equal(t, 16, cfg.MailboxLineSize)
}

func TestLoadConfigAppliesEnvOverrideAndMatchesWholeStructExactly(t *testing.T) {
	t.Setenv("PSPAT_MAILBOX_ENTRIES", "1024")

	got, err := pspat.LoadConfig("")
	require.NoError(t, err)

	want := pspat.Config{
		Enable:          true,
		XmitMode:        int(pspat.XmitARB),
		SingleTxq:       false,
		TCBypass:        false,
		RateBps:         40_000_000_000,
		ArbIntervalNs:   1000,
		ArbQdiscBatch:   40,
		DispatchBatch:   256,
		DispatchSleepUs: 100,
		MailboxEntries:  1024,
		MailboxLineSize: 16,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestAtomicConfigReflectsSeedAndLiveUpdates(t *testing.T) {
	cfg, err := pspat.LoadConfig("")
	require.NoError(t, err)
	ac := pspat.NewAtomicConfig(cfg)

	require.True(t, ac.Enabled())
	require.Equal(t, pspat.XmitARB, ac.XmitMode())

	ac.SetEnabled(false)
	ac.SetXmitMode(pspat.XmitDispatch)
	ac.SetRateBps(10_000_000_000)

	require.False(t, ac.Enabled())
	require.Equal(t, pspat.XmitDispatch, ac.XmitMode())
	require.EqualValues(t, 10_000_000_000, ac.RateBps())
}
