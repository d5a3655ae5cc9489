// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

import (
	"code.hybscloud.com/atomix"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config mirrors the control-plane sysctl-style surface of spec §6.
// It is the file/env-loaded shape; fields the arbiter re-reads
// every pass are mirrored into an [AtomicConfig] so the control
// surface can update them live.
type Config struct {
	Enable    bool `mapstructure:"enable"`
	XmitMode  int  `mapstructure:"xmit_mode"`
	SingleTxq bool `mapstructure:"single_txq"`
	TCBypass  bool `mapstructure:"tc_bypass"`
	RateBps   uint64 `mapstructure:"rate"`

	ArbIntervalNs   uint64 `mapstructure:"arb_interval_ns"`
	ArbQdiscBatch   int    `mapstructure:"arb_qdisc_batch"`
	DispatchBatch   int    `mapstructure:"dispatch_batch"`
	DispatchSleepUs int    `mapstructure:"dispatch_sleep_us"`
	MailboxEntries  int    `mapstructure:"mailbox_entries"`
	MailboxLineSize int    `mapstructure:"mailbox_line_size"`
}

// defaultConfig matches the end-to-end scenario parameters in spec §8
// (N=512, line_entries=16, rate=40 Gbit/s, arb_interval_ns=1000,
// batch_limit=40).
func defaultConfig() Config {
	return Config{
		Enable:          true,
		XmitMode:        int(XmitARB),
		RateBps:         40_000_000_000,
		ArbIntervalNs:   1000,
		ArbQdiscBatch:   40,
		DispatchBatch:   256,
		DispatchSleepUs: 100,
		MailboxEntries:  512,
		MailboxLineSize: 16,
	}
}

// LoadConfig reads configuration from path (if non-empty), the
// environment (PSPAT_ prefix), and defaults, in viper's usual
// precedence order — grounded on webitel-im-delivery-service's use of
// github.com/spf13/viper for layered configuration.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	v := viper.New()
	v.SetEnvPrefix("pspat")
	v.AutomaticEnv()
	v.SetDefault("enable", cfg.Enable)
	v.SetDefault("xmit_mode", cfg.XmitMode)
	v.SetDefault("single_txq", cfg.SingleTxq)
	v.SetDefault("tc_bypass", cfg.TCBypass)
	v.SetDefault("rate", cfg.RateBps)
	v.SetDefault("arb_interval_ns", cfg.ArbIntervalNs)
	v.SetDefault("arb_qdisc_batch", cfg.ArbQdiscBatch)
	v.SetDefault("dispatch_batch", cfg.DispatchBatch)
	v.SetDefault("dispatch_sleep_us", cfg.DispatchSleepUs)
	v.SetDefault("mailbox_entries", cfg.MailboxEntries)
	v.SetDefault("mailbox_line_size", cfg.MailboxLineSize)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "pspat: load config %q", path)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "pspat: decode config")
	}
	return cfg, nil
}

// AtomicConfig mirrors the hot-path fields of Config
// (enable/xmit_mode/rate/single_txq/tc_bypass/arb_interval_ns/
// arb_qdisc_batch) behind
// code.hybscloud.com/atomix so the control surface can update them
// without restarting the arbiter task (SPEC_FULL §2).
type AtomicConfig struct {
	enable    atomix.Bool
	xmitMode  atomix.Int32
	singleTxq atomix.Bool
	tcBypass  atomix.Bool
	rateBps   atomix.Uint64

	arbIntervalNs atomix.Uint64
	arbQdiscBatch atomix.Int32
}

// NewAtomicConfig seeds an AtomicConfig from a loaded Config.
func NewAtomicConfig(cfg Config) *AtomicConfig {
	a := &AtomicConfig{}
	a.enable.StoreRelease(cfg.Enable)
	a.xmitMode.StoreRelease(int32(cfg.XmitMode))
	a.singleTxq.StoreRelease(cfg.SingleTxq)
	a.tcBypass.StoreRelease(cfg.TCBypass)
	a.rateBps.StoreRelease(cfg.RateBps)
	a.arbIntervalNs.StoreRelease(cfg.ArbIntervalNs)
	a.arbQdiscBatch.StoreRelease(int32(cfg.ArbQdiscBatch))
	return a
}

func (a *AtomicConfig) Enabled() bool       { return a.enable.LoadAcquire() }
func (a *AtomicConfig) SetEnabled(v bool)   { a.enable.StoreRelease(v) }
func (a *AtomicConfig) XmitMode() XmitMode  { return XmitMode(a.xmitMode.LoadAcquire()) }
func (a *AtomicConfig) SetXmitMode(m XmitMode) { a.xmitMode.StoreRelease(int32(m)) }
func (a *AtomicConfig) SingleTxq() bool     { return a.singleTxq.LoadAcquire() }
func (a *AtomicConfig) SetSingleTxq(v bool) { a.singleTxq.StoreRelease(v) }
func (a *AtomicConfig) TCBypass() bool      { return a.tcBypass.LoadAcquire() }
func (a *AtomicConfig) SetTCBypass(v bool)  { a.tcBypass.StoreRelease(v) }
func (a *AtomicConfig) RateBps() uint64     { return a.rateBps.LoadAcquire() }
func (a *AtomicConfig) SetRateBps(v uint64) { a.rateBps.StoreRelease(v) }

// ArbIntervalNs returns the minimum spacing between visits to the same
// producer, in nanoseconds. The arbiter shifts it to pseudo-picoseconds.
func (a *AtomicConfig) ArbIntervalNs() uint64 { return a.arbIntervalNs.LoadAcquire() }
func (a *AtomicConfig) SetArbIntervalNs(v uint64) { a.arbIntervalNs.StoreRelease(v) }

func (a *AtomicConfig) ArbQdiscBatch() int       { return int(a.arbQdiscBatch.LoadAcquire()) }
func (a *AtomicConfig) SetArbQdiscBatch(v int)   { a.arbQdiscBatch.StoreRelease(int32(v)) }
