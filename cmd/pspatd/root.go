// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"net/http"
	"os/signal"
	"syscall"

	"code.hybscloud.com/pspat"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

// nullDeviceQueue is a built-in stand-in for the external device
// integration spec §1 names out of scope ("the actual per-device
// transmit call"); it always accepts every item, so `pspatd serve`
// has somewhere to run end-to-end without a real NIC driver wired in.
type nullDeviceQueue struct{ id int }

func (n nullDeviceQueue) ID() int { return n.id }

func (n nullDeviceQueue) TryTransmit(items []pspat.Item) ([]pspat.Item, pspat.TransmitStatus) {
	return nil, pspat.TransmitComplete
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		cpus       int
		listenAddr string
		logLevel   string
	)

	root := &cobra.Command{
		Use:   "pspatd",
		Short: "Runs a packet-transmission arbiter (PSPAT) daemon.",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Starts the arbiter, its dispatchers, and the control surface.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := maxprocs.Set(); err != nil {
				return err
			}

			cfg, err := pspat.LoadConfig(configPath)
			if err != nil {
				return err
			}
			log := pspat.NewLogger(logLevel)

			atomicCfg := pspat.NewAtomicConfig(cfg)
			dq := nullDeviceQueue{id: 0}
			sq := pspat.NewBypassShapingQueue(cfg.ArbQdiscBatch * 4)

			arb := pspat.NewArbiterBuilder().
				CPUs(cpus).
				MailboxSize(cfg.MailboxEntries, cfg.MailboxLineSize).
				Config(atomicCfg).
				Logger(log).
				DeviceQueue(dq, sq).
				Build()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go arb.Run(ctx)

			dispatcher := pspat.NewDispatcher(arb.DispatchMailbox(), atomicCfg, arb.Stats(), []pspat.DeviceQueue{dq}, log)
			dispatcher.SetBatch(cfg.DispatchBatch)
			dispatcher.SetSleepInterval(cfg.DispatchSleepUs)
			go dispatcher.Run(ctx)

			go arb.Stats().Run(ctx)

			srv := &http.Server{Addr: listenAddr, Handler: pspat.NewControlServer(arb, log)}
			go func() {
				<-ctx.Done()
				_ = srv.Close()
			}()

			log.Info().Str("addr", listenAddr).Msg("control surface listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	serve.Flags().StringVar(&configPath, "config", "", "path to a config file (optional)")
	serve.Flags().IntVar(&cpus, "cpus", 1, "number of producer CPUs to provision client queues for")
	serve.Flags().StringVar(&listenAddr, "listen", ":8420", "control surface listen address")
	serve.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serve)
	return root
}
