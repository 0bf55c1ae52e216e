package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-pbx-teleporter/internal/bridge"
	"github.com/kstaniek/go-pbx-teleporter/internal/logging"
	"github.com/kstaniek/go-pbx-teleporter/internal/serial"
	"github.com/kstaniek/go-pbx-teleporter/internal/server"
)

const envPrefix = "PBX_TELEPORTER_"

type appConfig struct {
	serialDev    string
	baud         int
	serialReadTO time.Duration
	bindIP       string
	listenPort   int
	sendPort     int
	maxPixels    int

	configPath  string
	watchConfig bool

	logFormat     string
	logLevel      string
	logFile       string
	logMaxSizeMB  int
	logMaxBackups int
	logMaxAgeDays int

	metricsAddr string
	statusEvery time.Duration
	mdnsEnable  bool
	mdnsName    string
}

// configLoader remembers the command line so the final config can be
// rebuilt (file and env re-read) on reload without losing flag precedence.
type configLoader struct {
	flags appConfig
	set   map[string]struct{}
}

func parseFlags(fs *flag.FlagSet, args []string) (*configLoader, bool, error) {
	c := appConfig{}
	fs.StringVar(&c.serialDev, "serial", serial.AutoDevice, "Serial device path, or \"auto\" for the first port found")
	fs.IntVar(&c.baud, "baud", serial.Bitrate, "Serial baud rate")
	fs.DurationVar(&c.serialReadTO, "serial-read-timeout", bridge.DefaultReadTimeout, "Serial read timeout (0 blocks until data arrives)")
	fs.StringVar(&c.bindIP, "bind-ip", "", "Local IP address for the UDP socket; empty binds all interfaces")
	fs.IntVar(&c.listenPort, "listen-port", server.DefaultListenPort, "UDP port for frame requests")
	fs.IntVar(&c.sendPort, "send-port", server.DefaultReplyPort, "UDP port frames are sent to (0 = requester's source port)")
	fs.IntVar(&c.maxPixels, "max-pixels", bridge.DefaultMaxPixels, "Frame buffer capacity in pixels")
	fs.StringVar(&c.configPath, "config", "", "Optional YAML settings file")
	fs.BoolVar(&c.watchConfig, "watch-config", false, "Restart the bridge when the settings file changes")
	fs.StringVar(&c.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&c.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&c.logFile, "log-file", "", "Also write logs to this rolling file")
	fs.IntVar(&c.logMaxSizeMB, "log-max-size", 10, "Rolling log file size limit (MB)")
	fs.IntVar(&c.logMaxBackups, "log-max-backups", 3, "Rolled log files to keep")
	fs.IntVar(&c.logMaxAgeDays, "log-max-age", 28, "Days to keep rolled log files")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&c.statusEvery, "status-interval", 3*time.Second, "If >0, periodically log the bridge status")
	fs.BoolVar(&c.mdnsEnable, "mdns-enable", false, "Enable mDNS/Avahi advertisement of the UDP service")
	fs.StringVar(&c.mdnsName, "mdns-name", "", "mDNS instance name (default pbx-teleporter-<hostname>)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}

	// Track which flags were explicitly set to give them precedence over env and file.
	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })
	return &configLoader{flags: c, set: set}, *showVersion, nil
}

// load builds the effective config: flag > env > file > default.
func (l *configLoader) load() (*appConfig, error) {
	c := l.flags
	if _, ok := l.set["config"]; !ok {
		if v, ok := os.LookupEnv(envPrefix + "CONFIG"); ok && strings.TrimSpace(v) != "" {
			c.configPath = strings.TrimSpace(v)
		}
	}
	if c.configPath != "" {
		if err := applyFile(&c, c.configPath, l.set); err != nil {
			return nil, err
		}
	}
	if err := applyEnvOverrides(&c, l.set); err != nil {
		return nil, fmt.Errorf("environment override error: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return &c, nil
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners, only checks values.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.statusEvery < 0 {
		return fmt.Errorf("status-interval must be >= 0")
	}
	if c.watchConfig && c.configPath == "" {
		return fmt.Errorf("watch-config requires -config")
	}
	if c.logFile != "" && (c.logMaxSizeMB <= 0 || c.logMaxBackups < 0 || c.logMaxAgeDays < 0) {
		return fmt.Errorf("invalid log rotation settings")
	}
	return c.bridgeConfig().Validate()
}

func (c *appConfig) bridgeConfig() bridge.Config {
	return bridge.Config{
		Device:      c.serialDev,
		Baud:        c.baud,
		ReadTimeout: c.serialReadTO,
		BindAddress: c.bindIP,
		ListenPort:  c.listenPort,
		SendPort:    c.sendPort,
		MaxPixels:   c.maxPixels,
	}
}

func (c *appConfig) rotation() logging.FileRotation {
	return logging.FileRotation{
		Path:       c.logFile,
		MaxSizeMB:  c.logMaxSizeMB,
		MaxBackups: c.logMaxBackups,
		MaxAgeDays: c.logMaxAgeDays,
	}
}

// applyEnvOverrides maps PBX_TELEPORTER_* environment variables to config
// fields unless a corresponding flag was explicitly set. Empty values are
// ignored. Durations use time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(flagName, key string) (string, bool) {
		if _, ok := set[flagName]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(envPrefix + key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	setInt := func(flagName, key string, dst *int, min int) {
		if v, ok := get(flagName, key); ok {
			if n, err := strconv.Atoi(v); err == nil && n >= min {
				*dst = n
			} else if firstErr == nil {
				if err == nil {
					err = fmt.Errorf("must be >= %d", min)
				}
				firstErr = fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
			}
		}
	}
	setDuration := func(flagName, key string, dst *time.Duration) {
		if v, ok := get(flagName, key); ok {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				*dst = d
			} else if firstErr == nil {
				if err == nil {
					err = errors.New("must be >= 0")
				}
				firstErr = fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
			}
		}
	}
	setString := func(flagName, key string, dst *string) {
		if v, ok := get(flagName, key); ok {
			*dst = v
		}
	}
	setBool := func(flagName, key string, dst *bool) {
		if v, ok := get(flagName, key); ok {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}

	setString("serial", "SERIAL", &c.serialDev)
	setInt("baud", "BAUD", &c.baud, 1)
	setDuration("serial-read-timeout", "SERIAL_READ_TIMEOUT", &c.serialReadTO)
	setString("bind-ip", "BIND_IP", &c.bindIP)
	setInt("listen-port", "LISTEN_PORT", &c.listenPort, 1)
	setInt("send-port", "SEND_PORT", &c.sendPort, 0)
	setInt("max-pixels", "MAX_PIXELS", &c.maxPixels, 1)
	setBool("watch-config", "WATCH_CONFIG", &c.watchConfig)
	setString("log-format", "LOG_FORMAT", &c.logFormat)
	setString("log-level", "LOG_LEVEL", &c.logLevel)
	setString("log-file", "LOG_FILE", &c.logFile)
	setDuration("status-interval", "STATUS_INTERVAL", &c.statusEvery)
	setBool("mdns-enable", "MDNS_ENABLE", &c.mdnsEnable)
	setString("mdns-name", "MDNS_NAME", &c.mdnsName)
	// metrics address may be set to empty to disable, so it bypasses get.
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := os.LookupEnv(envPrefix + "METRICS"); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	return firstErr
}
