package bridge

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kstaniek/go-pbx-teleporter/internal/serial"
)

// pipePort is a serial.Port backed by an io.Pipe; the test writes device
// bytes into w.
type pipePort struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	closed atomic.Bool
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, w: w}
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *pipePort) Close() error {
	p.closed.Store(true)
	return p.r.Close()
}

// withFakePort swaps the serial open hook for the duration of the test.
func withFakePort(t *testing.T, p *pipePort, openErr error) *atomic.Int32 {
	t.Helper()
	var opens atomic.Int32
	prevOpen, prevPause := openSerialPort, restartPause
	openSerialPort = func(name string, baud int, readTimeout time.Duration) (serial.Port, error) {
		opens.Add(1)
		if openErr != nil {
			return nil, openErr
		}
		return p, nil
	}
	restartPause = 0
	t.Cleanup(func() { openSerialPort, restartPause = prevOpen, prevPause })
	return &opens
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("probe port: %v", err)
	}
	port := c.LocalAddr().(*net.UDPAddr).Port
	_ = c.Close()
	return port
}

func testConfig(t *testing.T, sendPort int) Config {
	cfg := DefaultConfig()
	cfg.Device = "/dev/fake"
	cfg.ReadTimeout = 0
	cfg.BindAddress = "127.0.0.1"
	cfg.ListenPort = freeUDPPort(t)
	cfg.SendPort = sendPort
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// exampleStream is one two-pixel WS2812 channel followed by draw-all.
func exampleStream(px []byte) []byte {
	var b bytes.Buffer
	b.WriteString("UPXL")
	b.Write([]byte{0, 1, 3, 0})
	_ = binary.Write(&b, binary.LittleEndian, uint16(len(px)/3))
	b.Write(px)
	b.Write([]byte{1, 2, 3, 4})
	b.WriteString("UPXL")
	b.Write([]byte{0, 2})
	b.Write([]byte{1, 2, 3, 4})
	return b.Bytes()
}

func TestBridge_EndToEnd(t *testing.T) {
	p := newPipePort()
	withFakePort(t, p, nil)

	rx, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer rx.Close()
	cfg := testConfig(t, rx.LocalAddr().(*net.UDPAddr).Port)

	b := New()
	if err := b.Start(context.Background(), cfg); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Stop()

	px := []byte{10, 20, 30, 40, 50, 60}
	if _, err := p.w.Write(exampleStream(px)); err != nil {
		t.Fatalf("feed: %v", err)
	}
	waitFor(t, "ready frame", func() bool { return b.Status().ReadyBytes == 6 })

	st := b.Status()
	if st.Pixels != 2 || !st.Running || !st.LinkUp {
		t.Fatalf("status = %+v", st)
	}
	if st.String() != "Connected. Pixel count is: 2" {
		t.Fatalf("status text = %q", st.String())
	}

	to := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: cfg.ListenPort}
	if _, err := rx.WriteToUDP([]byte("?"), to); err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = rx.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, _, err := rx.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if !bytes.Equal(buf[:n], px) {
		t.Fatalf("reply = %v, want %v", buf[:n], px)
	}
}

func TestBridge_StopUnblocksWorkers(t *testing.T) {
	p := newPipePort()
	withFakePort(t, p, nil)
	b := New()
	if err := b.Start(context.Background(), testConfig(t, 0)); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- b.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stop did not return")
	}
	if !p.closed.Load() {
		t.Fatalf("serial port not closed")
	}
	if st := b.Status(); st.Running || st.String() != "Not Connected" {
		t.Fatalf("status after stop = %+v", st)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestBridge_DeviceUnavailable(t *testing.T) {
	withFakePort(t, nil, errors.New("no such file"))
	b := New()
	err := b.Start(context.Background(), testConfig(t, 0))
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("want ErrDeviceUnavailable, got %v", err)
	}
	if b.Status().Running {
		t.Fatalf("bridge must not be running")
	}
}

func TestBridge_BindFailureReleasesSerial(t *testing.T) {
	p := newPipePort()
	withFakePort(t, p, nil)
	holder, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer holder.Close()

	cfg := testConfig(t, 0)
	cfg.ListenPort = holder.LocalAddr().(*net.UDPAddr).Port
	b := New()
	err = b.Start(context.Background(), cfg)
	if !errors.Is(err, ErrSocketBindFailed) {
		t.Fatalf("want ErrSocketBindFailed, got %v", err)
	}
	if !p.closed.Load() {
		t.Fatalf("serial port left open after failed start")
	}
	if b.Status().Running {
		t.Fatalf("bridge must not be running")
	}
}

func TestBridge_AlreadyRunning(t *testing.T) {
	p := newPipePort()
	opens := withFakePort(t, p, nil)
	b := New()
	cfg := testConfig(t, 0)
	if err := b.Start(context.Background(), cfg); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Stop()
	if err := b.Start(context.Background(), cfg); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("want ErrAlreadyRunning, got %v", err)
	}
	if opens.Load() != 1 {
		t.Fatalf("device opened %d times", opens.Load())
	}
}

func TestBridge_RestartNewSession(t *testing.T) {
	first := newPipePort()
	withFakePort(t, first, nil)
	b := New()
	cfg := testConfig(t, 0)
	if err := b.Start(context.Background(), cfg); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Stop()
	firstID := b.Status().SessionID

	second := newPipePort()
	openSerialPort = func(string, int, time.Duration) (serial.Port, error) { return second, nil }
	if err := b.Restart(context.Background(), cfg); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !first.closed.Load() {
		t.Fatalf("old port not closed on restart")
	}
	st := b.Status()
	if !st.Running || st.SessionID == "" || st.SessionID == firstID {
		t.Fatalf("status after restart = %+v (first id %s)", st, firstID)
	}
	if st.ReadyBytes != 0 {
		t.Fatalf("new session must start with an empty frame, got %d bytes", st.ReadyBytes)
	}
	if st.ListenAddr != net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.ListenPort)) {
		t.Fatalf("listen addr = %s", st.ListenAddr)
	}
}

func TestBridge_RestartHonoursContext(t *testing.T) {
	p := newPipePort()
	withFakePort(t, p, nil)
	restartPause = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := New()
	if err := b.Restart(ctx, testConfig(t, 0)); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestBridge_LinkDownKeepsServing(t *testing.T) {
	p := newPipePort()
	withFakePort(t, p, nil)
	b := New()
	if err := b.Start(context.Background(), testConfig(t, 0)); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Stop()

	if _, err := p.w.Write(exampleStream([]byte{1, 1, 1})); err != nil {
		t.Fatalf("feed: %v", err)
	}
	waitFor(t, "ready frame", func() bool { return b.Status().ReadyBytes == 3 })
	_ = p.w.Close() // device hangup
	waitFor(t, "link down", func() bool { return !b.Status().LinkUp })

	st := b.Status()
	if !st.Running || st.ReadyBytes != 3 {
		t.Fatalf("status after hangup = %+v", st)
	}
	if st.String() != "Not Connected" {
		t.Fatalf("status text = %q", st.String())
	}
}

func TestConfigValidate(t *testing.T) {
	ok := DefaultConfig()
	if err := ok.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cases := map[string]func(*Config){
		"empty device":     func(c *Config) { c.Device = "" },
		"zero pixels":      func(c *Config) { c.MaxPixels = 0 },
		"too many pixels":  func(c *Config) { c.MaxPixels = 70000 },
		"zero listen":      func(c *Config) { c.ListenPort = 0 },
		"listen too large": func(c *Config) { c.ListenPort = 70000 },
		"negative send":    func(c *Config) { c.SendPort = -1 },
		"hostname bind":    func(c *Config) { c.BindAddress = "localhost" },
		"negative timeout": func(c *Config) { c.ReadTimeout = -time.Second },
	}
	for name, mut := range cases {
		c := DefaultConfig()
		mut(&c)
		if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: want ErrInvalidConfig, got %v", name, err)
		}
	}
	c := DefaultConfig()
	c.SendPort = 0
	c.BindAddress = "::1"
	if err := c.Validate(); err != nil {
		t.Fatalf("send port 0 with v6 bind should be valid: %v", err)
	}
}

func TestStatusString(t *testing.T) {
	if got := (Status{}).String(); got != "Not Connected" {
		t.Fatalf("idle = %q", got)
	}
	if got := (Status{Running: true, LinkUp: true, Pixels: 512}).String(); got != "Connected. Pixel count is: 512" {
		t.Fatalf("running = %q", got)
	}
}
