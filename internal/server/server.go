package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-pbx-teleporter/internal/logging"
	"github.com/kstaniek/go-pbx-teleporter/internal/metrics"
)

// FrameSource supplies the most recent complete frame.
type FrameSource interface {
	Snapshot() []byte
}

// Server answers every inbound datagram with the current frame. The request
// payload is never inspected. Replies go to the requester's IP on replyPort,
// or back to its source port when replyPort is 0.
type Server struct {
	mu        sync.RWMutex
	addr      string
	replyPort int
	reuseAddr bool
	Source    FrameSource

	running   *atomic.Bool
	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error
	conn      *net.UDPConn
	closed    atomic.Bool
	logger    *slog.Logger

	totalRequests   atomic.Uint64
	totalReplies    atomic.Uint64
	totalSkipped    atomic.Uint64
	totalSendErrors atomic.Uint64
}

const (
	DefaultListenPort = 8081
	DefaultReplyPort  = 8082
	requestBufSize    = 256
)

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		replyPort: DefaultReplyPort,
		reuseAddr: true,
		readyCh:   make(chan struct{}),
		errCh:     make(chan error, 1),
		logger:    logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = fmt.Sprintf(":%d", DefaultListenPort)
	}
	return s
}

func WithListenAddr(a string) ServerOption       { return func(s *Server) { s.addr = a } }
func WithSource(src FrameSource) ServerOption    { return func(s *Server) { s.Source = src } }
func WithRunFlag(flag *atomic.Bool) ServerOption { return func(s *Server) { s.running = flag } }
func WithReuseAddr(on bool) ServerOption         { return func(s *Server) { s.reuseAddr = on } }

// WithReplyPort sets the destination port of replies; 0 replies to the
// request's source port.
func WithReplyPort(p int) ServerOption {
	return func(s *Server) {
		if p >= 0 {
			s.replyPort = p
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) SetListenAddr(a string) { s.setAddr(a) }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}
func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Bind opens the UDP socket on the listen address. An empty host binds all
// interfaces.
func (s *Server) Bind(ctx context.Context) error {
	addr := s.Addr()
	lc := net.ListenConfig{}
	if s.reuseAddr {
		lc.Control = reuseAddrControl
	}
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrBind, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return fmt.Errorf("%w: unexpected packet conn %T", ErrBind, pc)
	}
	s.mu.Lock()
	s.conn = conn
	s.addr = conn.LocalAddr().String()
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("udp_listen", "addr", s.Addr(), "reply_port", s.replyPort)
	return nil
}

// Serve runs the request loop on the bound socket until Close (or until the
// run flag is cleared and one more request arrives). It returns nil on
// shutdown.
func (s *Server) Serve() error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotBound
	}
	buf := make([]byte, requestBufSize)
	for s.running == nil || s.running.Load() {
		_, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			wrap := fmt.Errorf("%w: %v", ErrReceive, err)
			metrics.IncError(mapErrToMetric(wrap))
			s.setError(wrap)
			s.logger.Warn("udp_read_error", "error", err)
			continue
		}
		s.reply(conn, from)
	}
	return nil
}

func (s *Server) reply(conn *net.UDPConn, from *net.UDPAddr) {
	s.totalRequests.Add(1)
	metrics.IncRequest()
	var frame []byte
	if s.Source != nil {
		frame = s.Source.Snapshot()
	}
	if len(frame) == 0 {
		s.totalSkipped.Add(1)
		metrics.IncReplySkipped()
		return
	}
	to := &net.UDPAddr{IP: from.IP, Port: s.replyPort, Zone: from.Zone}
	if s.replyPort == 0 {
		to.Port = from.Port
	}
	if _, err := conn.WriteToUDP(frame, to); err != nil {
		wrap := fmt.Errorf("%w: %v", ErrSend, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		s.totalSendErrors.Add(1)
		s.logger.Debug("udp_send_error", "to", to.String(), "bytes", len(frame), "error", err)
		return
	}
	s.totalReplies.Add(1)
	metrics.AddReply(len(frame))
}

// Close closes the socket, which unblocks a pending receive in Serve.
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.logger.Info("udp_shutdown_summary", "requests", s.totalRequests.Load(), "replies", s.totalReplies.Load(), "skipped", s.totalSkipped.Load(), "send_errors", s.totalSendErrors.Load())
	return err
}
