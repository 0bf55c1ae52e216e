package expander

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/kstaniek/go-pbx-teleporter/internal/framebuf"
	"github.com/kstaniek/go-pbx-teleporter/internal/logging"
	"github.com/kstaniek/go-pbx-teleporter/internal/metrics"
)

const readBufSize = 4096

// Reader synchronizes to the record marker, decodes each record in arrival
// order and writes pixel data into its frame buffer. It is the buffer's only
// writer and must run on a single goroutine.
type Reader struct {
	src       *bufio.Reader
	fb        *framebuf.Buffer
	logger    *slog.Logger
	running   *atomic.Bool
	anomalies rate.Sometimes
	offset    int64
	seenFrame bool
}

type Option func(*Reader)

// WithLogger sets the logger used for lifecycle and anomaly events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRunFlag makes Run return once flag is cleared. The flag is only checked
// between records; a blocked read is interrupted by closing the source.
func WithRunFlag(flag *atomic.Bool) Option {
	return func(r *Reader) { r.running = flag }
}

// NewReader decodes records from src into fb.
func NewReader(src io.Reader, fb *framebuf.Buffer, opts ...Option) *Reader {
	r := &Reader{
		src:       bufio.NewReaderSize(src, readBufSize),
		fb:        fb,
		logger:    logging.L(),
		anomalies: rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Offset returns the number of bytes consumed from the source so far.
func (r *Reader) Offset() int64 { return r.offset }

// Run decodes records until the source fails or the run flag is cleared.
// Dropped records are counted and logged, never retried. The returned error
// is whatever the source reported (nil when stopped by the flag).
func (r *Reader) Run() error {
	for r.running == nil || r.running.Load() {
		h, err := r.Next()
		if err == nil {
			metrics.IncCommand(h.Command.String())
			continue
		}
		if reason, ok := dropReason(err); ok {
			metrics.IncDropped(reason)
			r.anomalies.Do(func() {
				r.logger.Warn("record_dropped", "channel", h.Channel, "command", h.Command.String(), "reason", reason, "error", err)
			})
			continue
		}
		return err
	}
	return nil
}

// Next waits for the marker, then decodes exactly one record. Framing
// anomalies come back as errors matching IsAnomaly; the stream stays usable.
// An unknown command leaves the reader right after its header, so the next
// call scans byte by byte for a fresh marker.
func (r *Reader) Next() (Header, error) {
	if err := r.sync(); err != nil {
		return Header{}, err
	}
	var hb [headerSize]byte
	if err := r.readFull(hb[:]); err != nil {
		return Header{}, err
	}
	h := Header{Channel: hb[0], Command: Command(hb[1])}
	switch h.Command {
	case CmdSetChannelWS2812:
		return h, r.decodeWS2812()
	case CmdDrawAll:
		return h, r.drawAll()
	case CmdSetChannelAPA102Data:
		return h, r.decodeAPA102Data()
	case CmdSetChannelAPA102Clock:
		return h, r.decodeAPA102Clock()
	default:
		return h, fmt.Errorf("%w: %d", ErrUnknownCommand, hb[1])
	}
}

// sync consumes bytes until the full marker has been read. A mismatching
// byte restarts the match, and is itself tried as the first marker byte.
func (r *Reader) sync() error {
	matched, skipped := 0, 0
	defer func() { metrics.AddSyncSkipped(skipped) }()
	for matched < len(Magic) {
		c, err := r.src.ReadByte()
		if err != nil {
			return err
		}
		r.offset++
		if c == Magic[matched] {
			matched++
			continue
		}
		skipped += matched
		if c == Magic[0] {
			matched = 1
			continue
		}
		skipped++
		matched = 0
	}
	return nil
}

func (r *Reader) readFull(p []byte) error {
	n, err := io.ReadFull(r.src, p)
	r.offset += int64(n)
	return err
}

func (r *Reader) discard(n int) error {
	d, err := r.src.Discard(n)
	r.offset += int64(d)
	if err == io.EOF {
		return io.ErrUnexpectedEOF // always mid-record
	}
	return err
}
