package serial

import (
	"time"

	tarm "github.com/tarm/serial"
)

// Bitrate is the line speed the Pixelblaze expander output runs at.
const Bitrate = 2000000

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Close() error
}

// Open opens name at baud, 8 data bits, no parity, 1 stop bit. A zero
// readTimeout blocks each read until at least one byte arrives.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &tarm.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: readTimeout,
		Size:        8,
		Parity:      tarm.ParityNone,
		StopBits:    tarm.Stop1,
	}
	return tarm.OpenPort(cfg)
}
