package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_pixelteleporter._udp"

// mdnsRegister is a hook for tests.
var mdnsRegister = zeroconf.Register

// startMDNS registers the UDP service via mDNS and returns a cleanup
// function. It is safe to call even if disabled (no-op).
func startMDNS(ctx context.Context, cfg *appConfig, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	svc, err := mdnsRegister(mdnsInstance(cfg), mdnsServiceType, "local.", port, mdnsMeta(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}

func mdnsInstance(cfg *appConfig) string {
	if cfg.mdnsName != "" {
		return cfg.mdnsName
	}
	host, _ := os.Hostname()
	return fmt.Sprintf("pbx-teleporter-%s", host)
}

func mdnsMeta(cfg *appConfig) []string {
	return []string{
		"send_port=" + strconv.Itoa(cfg.sendPort),
		"max_pixels=" + strconv.Itoa(cfg.maxPixels),
		"version=" + version,
		"commit=" + commit,
	}
}
