package bridge

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kstaniek/go-pbx-teleporter/internal/serial"
	"github.com/kstaniek/go-pbx-teleporter/internal/server"
)

const (
	DefaultMaxPixels   = 2048
	DefaultReadTimeout = 50 * time.Millisecond
	maxPort            = 65535
	maxPixelsLimit     = 65535
)

// ErrInvalidConfig is wrapped by every Config.Validate failure.
var ErrInvalidConfig = errors.New("invalid bridge config")

// Config is everything a session needs. ReadTimeout 0 makes serial reads
// block until data arrives; Stop then depends on the driver aborting the
// pending read when the port closes.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
	BindAddress string
	ListenPort  int
	SendPort    int
	MaxPixels   int
}

func DefaultConfig() Config {
	return Config{
		Device:      serial.AutoDevice,
		Baud:        serial.Bitrate,
		ReadTimeout: DefaultReadTimeout,
		ListenPort:  server.DefaultListenPort,
		SendPort:    server.DefaultReplyPort,
		MaxPixels:   DefaultMaxPixels,
	}
}

func (c Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("%w: serial device is required", ErrInvalidConfig)
	}
	if c.Baud < 0 {
		return fmt.Errorf("%w: baud %d must be positive", ErrInvalidConfig, c.Baud)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("%w: read timeout %s must not be negative", ErrInvalidConfig, c.ReadTimeout)
	}
	if c.MaxPixels < 1 || c.MaxPixels > maxPixelsLimit {
		return fmt.Errorf("%w: max pixels %d out of range 1..%d", ErrInvalidConfig, c.MaxPixels, maxPixelsLimit)
	}
	if c.ListenPort < 1 || c.ListenPort > maxPort {
		return fmt.Errorf("%w: listen port %d out of range 1..%d", ErrInvalidConfig, c.ListenPort, maxPort)
	}
	if c.SendPort < 0 || c.SendPort > maxPort {
		return fmt.Errorf("%w: send port %d out of range 0..%d", ErrInvalidConfig, c.SendPort, maxPort)
	}
	if c.BindAddress != "" && net.ParseIP(c.BindAddress) == nil {
		return fmt.Errorf("%w: bind address %q is not an IP address", ErrInvalidConfig, c.BindAddress)
	}
	return nil
}

func (c Config) baud() int {
	if c.Baud == 0 {
		return serial.Bitrate
	}
	return c.Baud
}

func (c Config) listenAddr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.ListenPort))
}
