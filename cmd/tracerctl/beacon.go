package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"exposure-tracer/internal/infra"
	"exposure-tracer/internal/tracer"
	"exposure-tracer/internal/usecase"
)

// beaconCmd はビーコンの制御ループを実行するコマンド。
func beaconCmd() *cobra.Command {
	var nodes int
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "beacon",
		Short: "Run the beacon control loop over the loopback radio",
		Long: "Run the beacon control loop: restore the TEK snapshot, rotate keys, advertise and scan.\n" +
			"With --nodes > 1 several beacons share one loopback radio and record each other.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if nodes < 1 {
				return fmt.Errorf("--nodes must be at least 1")
			}
			sched, err := schedule()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			sealer, closeSealer, err := newSealer(ctx)
			if err != nil {
				return err
			}
			defer closeSealer()

			beaconCfg := usecase.BeaconConfig{
				Schedule:      sched,
				Capacity:      cfg.TEKCapacity,
				ScanWindow:    cfg.ScanWindow,
				TickInterval:  cfg.TickInterval,
				TxPower:       cfg.TxPower,
				ScanRetention: scanRetention(),
			}

			bus := infra.NewLoopbackBus()
			beacons := make([]*usecase.BeaconService, nodes)
			for i := range beacons {
				dir := cfg.DataDir
				if nodes > 1 {
					dir = filepath.Join(cfg.DataDir, fmt.Sprintf("node-%d", i))
				}
				store, err := openFileStore(dir)
				if err != nil {
					return err
				}
				ring := tracer.NewTEKRing(cfg.TEKCapacity, nil)
				beacons[i] = usecase.NewBeaconService(beaconCfg, ring, bus.NewRadio(), store, sealer, infra.SystemClock{})
			}

			slog.InfoContext(ctx, "beacon started", "nodes", nodes, "data_dir", cfg.DataDir)

			var wg sync.WaitGroup
			for i, b := range beacons {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := b.Run(ctx)
					if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
						slog.ErrorContext(ctx, "beacon stopped", "node", i, "error", err)
					}
				}()
			}
			wg.Wait()

			slog.Info("beacon stopped")
			return nil
		},
	}
	cmd.Flags().IntVar(&nodes, "nodes", 1, "Number of beacons sharing the loopback radio")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this duration (0 runs until interrupted)")
	return cmd
}
