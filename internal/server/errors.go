package server

import (
	"errors"

	"github.com/kstaniek/go-pbx-teleporter/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrBind     = errors.New("udp_bind")
	ErrReceive  = errors.New("udp_receive")
	ErrSend     = errors.New("udp_send")
	ErrNotBound = errors.New("udp socket not bound")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrBind):
		return metrics.ErrUDPBind
	case errors.Is(err, ErrReceive):
		return metrics.ErrUDPRead
	case errors.Is(err, ErrSend):
		return metrics.ErrUDPWrite
	default:
		return "other"
	}
}
