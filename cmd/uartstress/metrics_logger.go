package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tholian/uartstress/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"tx_frames", snap.TxFrames,
					"rx_frames", snap.RxFrames,
					"bad_crc", snap.BadCRC,
					"resyncs", snap.Resyncs,
					"seq_gaps", snap.SeqGaps,
					"protocol_errors", snap.ProtocolErrors,
					"driver_overruns", snap.DriverOverruns,
					"cases_passed", snap.CasesPassed,
					"cases_failed", snap.CasesFailed,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
