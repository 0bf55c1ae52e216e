package expander

import (
	"errors"
	"fmt"

	"github.com/kstaniek/go-pbx-teleporter/internal/framebuf"
	"github.com/kstaniek/go-pbx-teleporter/internal/metrics"
)

// Framing anomalies. The offending record is dropped and the reader carries
// on; I/O errors are returned unwrapped instead.
var (
	ErrUnsupportedElements = errors.New("expander: unsupported element count")
	ErrPixelOverflow       = errors.New("expander: pixel count exceeds frame capacity")
	ErrChannelDisabled     = errors.New("expander: apa102 channel disabled")
	ErrUnknownCommand      = errors.New("expander: unknown command")
)

// dropReason maps an anomaly to its metrics label.
func dropReason(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrUnsupportedElements):
		return metrics.DropElements, true
	case errors.Is(err, ErrPixelOverflow):
		return metrics.DropOverflow, true
	case errors.Is(err, ErrChannelDisabled):
		return metrics.DropDisabled, true
	case errors.Is(err, ErrUnknownCommand):
		return metrics.DropUnknown, true
	default:
		return "", false
	}
}

// IsAnomaly reports whether err is a dropped record rather than a stream failure.
func IsAnomaly(err error) bool {
	_, ok := dropReason(err)
	return ok
}

// decodeWS2812 copies an RGB channel verbatim into the frame. Records that
// cannot be stored are still read in full so the next marker lines up.
func (r *Reader) decodeWS2812() error {
	var d [ws2812Size]byte
	if err := r.readFull(d[:]); err != nil {
		return err
	}
	ch := parseWS2812(d[:])
	n := ch.PayloadLen()

	var drop error
	switch {
	case ch.Elements != supportedElements:
		drop = fmt.Errorf("%w: %d", ErrUnsupportedElements, ch.Elements)
	case n > r.fb.Free():
		drop = fmt.Errorf("%w: %d pixels, %d bytes free", ErrPixelOverflow, ch.Pixels, r.fb.Free())
	}
	if drop == nil {
		if err := r.readFull(r.fb.Window(n)); err != nil {
			return err
		}
	} else if err := r.discard(n); err != nil {
		return err
	}
	if err := r.discard(TrailerSize); err != nil {
		return err
	}
	return drop
}

// decodeAPA102Data drops the brightness byte of every LED and stores the
// three color bytes that follow it.
func (r *Reader) decodeAPA102Data() error {
	var d [apa102DataSize]byte
	if err := r.readFull(d[:]); err != nil {
		return err
	}
	ch := parseAPA102Data(d[:])
	n := int(ch.Pixels) * framebuf.BytesPerPixel

	var drop error
	switch {
	case ch.Frequency == 0:
		drop = ErrChannelDisabled
	case n > r.fb.Free():
		drop = fmt.Errorf("%w: %d pixels, %d bytes free", ErrPixelOverflow, ch.Pixels, r.fb.Free())
	}
	if drop == nil {
		w := r.fb.Window(n)
		for i := 0; i < n; i += framebuf.BytesPerPixel {
			if err := r.discard(1); err != nil {
				return err
			}
			if err := r.readFull(w[i : i+framebuf.BytesPerPixel]); err != nil {
				return err
			}
		}
	} else if err := r.discard(ch.PayloadLen()); err != nil {
		return err
	}
	if err := r.discard(TrailerSize); err != nil {
		return err
	}
	return drop
}

// decodeAPA102Clock consumes the clock record; the frequency is not used.
func (r *Reader) decodeAPA102Clock() error {
	var d [apa102ClockSize]byte
	if err := r.readFull(d[:]); err != nil {
		return err
	}
	ch := parseAPA102Clock(d[:])
	r.logger.Debug("apa102_clock", "frequency", ch.Frequency)
	return r.discard(TrailerSize)
}

// drawAll publishes the accumulated frame.
func (r *Reader) drawAll() error {
	n := r.fb.Finalize()
	pixels := n / framebuf.BytesPerPixel
	metrics.IncFrame(pixels)
	if !r.seenFrame {
		r.seenFrame = true
		r.logger.Info("first_frame", "pixels", pixels)
	}
	return r.discard(TrailerSize)
}
