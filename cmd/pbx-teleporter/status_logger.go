package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-pbx-teleporter/internal/bridge"
	"github.com/kstaniek/go-pbx-teleporter/internal/metrics"
)

type statusSource interface {
	Status() bridge.Status
}

func startStatusLogger(ctx context.Context, interval time.Duration, src statusSource, l *slog.Logger, wg *sync.WaitGroup) {
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
				logStatus(l, src.Status(), metrics.Snap())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func logStatus(l *slog.Logger, st bridge.Status, snap metrics.Snapshot) {
	l.Info("bridge_status",
		"status", st.String(),
		"session", st.SessionID,
		"pixels", st.Pixels,
		"frames", snap.Frames,
		"commands", snap.Commands,
		"dropped", snap.Dropped,
		"sync_skipped", snap.SyncSkipped,
		"udp_requests", snap.Requests,
		"udp_replies", snap.Replies,
		"errors", snap.Errors,
	)
}
