package serial

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Line.Read once the line has been closed.
var ErrClosed = errors.New("serial line closed")

// Line turns a Port into a plain blocking byte source whose pending Read is
// cancelled by Close.
//
// With a read timeout the port returns empty reads (io.EOF) whenever the
// timeout lapses; Line swallows those and reads again until data arrives or
// the line is closed, which bounds how long Close waits on drivers that do
// not abort an in-flight read. Without a timeout an empty read means hangup
// and is reported as io.EOF.
type Line struct {
	port      Port
	timeout   time.Duration
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewLine wraps p, which was opened with the given read timeout.
func NewLine(p Port, readTimeout time.Duration) *Line {
	return &Line{port: p, timeout: readTimeout}
}

func (l *Line) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for {
		if l.closed.Load() {
			return 0, ErrClosed
		}
		n, err := l.port.Read(b)
		if n > 0 {
			return n, nil
		}
		if l.closed.Load() {
			return 0, ErrClosed
		}
		if err == nil || errors.Is(err, io.EOF) {
			if l.timeout > 0 {
				continue // timeout lapsed, nothing received
			}
			return 0, io.EOF
		}
		return 0, err
	}
}

// Flush discards unread input when the port supports it.
func (l *Line) Flush() error {
	if f, ok := l.port.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close marks the line closed and closes the port (idempotent).
func (l *Line) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.closeErr = l.port.Close()
	})
	return l.closeErr
}

// Closed reports whether Close has been called.
func (l *Line) Closed() bool { return l.closed.Load() }
