// Package bridge owns the lifecycle of one serial-to-UDP session: the
// frame buffer, the serial line feeding the expander reader, and the UDP
// responder serving the last complete frame.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kstaniek/go-pbx-teleporter/internal/expander"
	"github.com/kstaniek/go-pbx-teleporter/internal/framebuf"
	"github.com/kstaniek/go-pbx-teleporter/internal/logging"
	"github.com/kstaniek/go-pbx-teleporter/internal/metrics"
	"github.com/kstaniek/go-pbx-teleporter/internal/serial"
	"github.com/kstaniek/go-pbx-teleporter/internal/server"
)

var (
	ErrDeviceUnavailable = errors.New("serial device unavailable")
	ErrSocketBindFailed  = errors.New("udp socket bind failed")
	ErrAlreadyRunning    = errors.New("bridge already running")
)

// Hooks for tests.
var (
	openSerialPort = serial.Open
	resolveDevice  = serial.Resolve
	restartPause   = 500 * time.Millisecond
)

// session bundles everything one Start acquires.
type session struct {
	id      string
	device  string
	fb      *framebuf.Buffer
	line    *serial.Line
	srv     *server.Server
	running atomic.Bool
	linkUp  atomic.Bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// Bridge starts, stops and restarts sessions. Start, Stop and Restart are
// serialized; Status never blocks on them.
type Bridge struct {
	mu     sync.Mutex
	cur    atomic.Pointer[session]
	logger *slog.Logger
}

type Option func(*Bridge)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

func New(opts ...Option) *Bridge {
	b := &Bridge{logger: logging.L()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Start opens the serial device and the UDP socket and launches the reader
// and responder goroutines. On failure nothing is left running.
func (b *Bridge) Start(ctx context.Context, cfg Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startLocked(ctx, cfg)
}

// Stop ends the current session and waits for both goroutines. Stopping an
// idle bridge is a no-op.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopLocked()
}

// Restart stops the running session (if any), pauses so the OS can release
// the device and port, then starts with cfg.
func (b *Bridge) Restart(ctx context.Context, cfg Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.stopLocked(); err != nil {
		b.logger.Warn("bridge_stop_error", "error", err)
	}
	if restartPause > 0 {
		t := time.NewTimer(restartPause)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return b.startLocked(ctx, cfg)
}

func (b *Bridge) startLocked(ctx context.Context, cfg Config) error {
	if b.cur.Load() != nil {
		return ErrAlreadyRunning
	}
	if err := cfg.Validate(); err != nil {
		metrics.IncError(metrics.ErrConfig)
		return err
	}
	s := &session{id: uuid.NewString()}
	s.logger = b.logger.With("session", s.id)
	s.fb = framebuf.New(cfg.MaxPixels)

	device, err := resolveDevice(cfg.Device)
	if err != nil {
		metrics.IncError(metrics.ErrSerialOpen)
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	s.device = device
	port, err := openSerialPort(device, cfg.baud(), cfg.ReadTimeout)
	if err != nil {
		metrics.IncError(metrics.ErrSerialOpen)
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, device, err)
	}
	s.line = serial.NewLine(port, cfg.ReadTimeout)
	if err := s.line.Flush(); err != nil {
		s.logger.Debug("serial_flush_error", "error", err)
	}
	s.logger.Info("serial_open", "device", device, "baud", cfg.baud(), "read_timeout", cfg.ReadTimeout)

	s.running.Store(true)
	s.linkUp.Store(true)
	rd := expander.NewReader(s.line, s.fb, expander.WithLogger(s.logger), expander.WithRunFlag(&s.running))
	s.wg.Add(1)
	go s.readLoop(rd)

	s.srv = server.NewServer(
		server.WithListenAddr(cfg.listenAddr()),
		server.WithReplyPort(cfg.SendPort),
		server.WithSource(s.fb),
		server.WithRunFlag(&s.running),
		server.WithLogger(s.logger),
	)
	if err := s.srv.Bind(ctx); err != nil {
		_ = s.shutdown()
		return fmt.Errorf("%w: %v", ErrSocketBindFailed, err)
	}
	s.wg.Add(1)
	go s.serveLoop()

	b.cur.Store(s)
	metrics.IncStart()
	s.logger.Info("bridge_started", "device", device, "udp", s.srv.Addr(), "send_port", cfg.SendPort, "max_pixels", cfg.MaxPixels)
	return nil
}

func (b *Bridge) stopLocked() error {
	s := b.cur.Swap(nil)
	if s == nil {
		return nil
	}
	err := s.shutdown()
	s.logger.Info("bridge_stopped", "device", s.device)
	return err
}

func (s *session) readLoop(rd *expander.Reader) {
	defer s.wg.Done()
	err := rd.Run()
	s.linkUp.Store(false)
	if !s.running.Load() || errors.Is(err, serial.ErrClosed) {
		s.logger.Debug("serial_rx_stopped", "offset", rd.Offset())
		return
	}
	metrics.IncError(metrics.ErrSerialRead)
	s.logger.Error("serial_rx_end", "device", s.device, "offset", rd.Offset(), "error", err)
}

func (s *session) serveLoop() {
	defer s.wg.Done()
	if err := s.srv.Serve(); err != nil {
		s.logger.Error("udp_serve_end", "error", err)
	}
}

// shutdown clears the run flag, closes both handles to unblock pending
// reads, then joins the goroutines.
func (s *session) shutdown() error {
	s.running.Store(false)
	var errs []error
	if s.line != nil {
		if err := s.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close serial: %w", err))
		}
	}
	if s.srv != nil {
		if err := s.srv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close udp: %w", err))
		}
	}
	s.wg.Wait()
	s.linkUp.Store(false)
	return errors.Join(errs...)
}
