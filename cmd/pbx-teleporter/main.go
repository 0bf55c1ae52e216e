package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kstaniek/go-pbx-teleporter/internal/bridge"
	"github.com/kstaniek/go-pbx-teleporter/internal/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	loader, showVersion, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		return 2
	}
	if showVersion {
		fmt.Printf("pbx-teleporter %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}
	cfg, err := loader.load()
	if err != nil {
		fmt.Println(err)
		return 1
	}
	l, closeLog := setupLogger(cfg)
	defer func() { _ = closeLog() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	br := bridge.New(bridge.WithLogger(l))
	if err := br.Start(ctx, cfg.bridgeConfig()); err != nil {
		l.Error("bridge_start_error", "error", err)
		return 1
	}
	defer func() {
		if err := br.Stop(); err != nil {
			l.Warn("bridge_stop_error", "error", err)
		}
	}()

	metrics.SetReadinessFunc(func() bool {
		return br.Status().Running && ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}
	startStatusLogger(ctx, cfg.statusEvery, br, l, &wg)

	adv := &advertiser{ctx: ctx, l: l}
	adv.update(cfg)
	defer adv.stop()

	var changes <-chan struct{}
	if cfg.watchConfig {
		ch, err := watchConfig(ctx, cfg.configPath, l, &wg)
		if err != nil {
			l.Warn("config_watch_failed", "error", err)
		} else {
			changes = ch
		}
	}

	reload := func(reason string) {
		next, err := loader.load()
		if err != nil {
			metrics.IncError(metrics.ErrConfig)
			l.Error("config_reload_error", "reason", reason, "error", err)
			return
		}
		l.Info("bridge_restart", "reason", reason)
		if err := br.Restart(ctx, next.bridgeConfig()); err != nil {
			l.Error("bridge_restart_error", "error", err)
		}
		adv.update(next)
		cfg = next
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	for {
		select {
		case s := <-sigCh:
			if s == syscall.SIGHUP {
				reload("sighup")
				continue
			}
			l.Info("shutdown_signal", "signal", s.String())
			cancel()
			wg.Wait()
			return 0
		case <-changes:
			reload("config_changed")
		}
	}
}

// advertiser keeps the mDNS record in line with the current listen port.
type advertiser struct {
	ctx     context.Context
	l       *slog.Logger
	port    int
	cleanup func()
}

func (a *advertiser) update(cfg *appConfig) {
	if a.cleanup != nil && (!cfg.mdnsEnable || a.port != cfg.listenPort) {
		a.stop()
	}
	if !cfg.mdnsEnable || a.cleanup != nil {
		return
	}
	cleanup, err := startMDNS(a.ctx, cfg, cfg.listenPort)
	if err != nil {
		a.l.Warn("mdns_start_failed", "error", err)
		return
	}
	a.port, a.cleanup = cfg.listenPort, cleanup
	a.l.Info("mdns_started", "service", mdnsServiceType, "name", mdnsInstance(cfg), "port", cfg.listenPort)
}

func (a *advertiser) stop() {
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
}
