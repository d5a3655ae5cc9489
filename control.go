// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pspat

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// controlOptions is the JSON shape of the writable subset of the
// control surface (spec §6): enable, xmit_mode, single_txq, tc_bypass,
// rate. The remaining Config fields are pacing/capacity knobs fixed at
// process start, not live-reloadable.
type controlOptions struct {
	Enable    *bool   `json:"enable,omitempty"`
	XmitMode  *int32  `json:"xmit_mode,omitempty"`
	SingleTxq *bool   `json:"single_txq,omitempty"`
	TCBypass  *bool   `json:"tc_bypass,omitempty"`
	RateBps   *uint64 `json:"rate,omitempty"`
}

// NewControlServer wires the read-only counters and the limited
// writable options of spec §6 behind an HTTP surface, via
// github.com/go-chi/chi/v5 (grounded on webitel-im-delivery-service)
// and github.com/json-iterator/go (grounded on ghjramos-aistore)
// instead of encoding/json.
func NewControlServer(arb *Arbiter, log zerolog.Logger) http.Handler {
	log = log.With().Str("component", "control").Logger()
	r := chi.NewRouter()

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		cfg := arb.cfg
		resp := controlOptions{
			Enable:    boolPtr(cfg.Enabled()),
			XmitMode:  int32Ptr(int32(cfg.XmitMode())),
			SingleTxq: boolPtr(cfg.SingleTxq()),
			TCBypass:  boolPtr(cfg.TCBypass()),
			RateBps:   uint64Ptr(cfg.RateBps()),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := jsonAPI.NewEncoder(w).Encode(resp); err != nil {
			log.Error().Err(err).Msg("encode status response")
		}
	})

	r.Put("/config", func(w http.ResponseWriter, req *http.Request) {
		var opts controlOptions
		if err := jsonAPI.NewDecoder(req.Body).Decode(&opts); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cfg := arb.cfg
		if opts.Enable != nil {
			arb.SetEnabled(*opts.Enable)
		}
		if opts.XmitMode != nil {
			cfg.SetXmitMode(XmitMode(*opts.XmitMode))
		}
		if opts.SingleTxq != nil {
			cfg.SetSingleTxq(*opts.SingleTxq)
		}
		if opts.TCBypass != nil {
			cfg.SetTCBypass(*opts.TCBypass)
		}
		if opts.RateBps != nil {
			cfg.SetRateBps(*opts.RateBps)
		}
		log.Info().Interface("options", opts).Msg("control surface updated configuration")
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

func boolPtr(v bool) *bool       { return &v }
func int32Ptr(v int32) *int32    { return &v }
func uint64Ptr(v uint64) *uint64 { return &v }
