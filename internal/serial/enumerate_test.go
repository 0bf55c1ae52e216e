package serial

import (
	"errors"
	"testing"
)

func withPorts(t *testing.T, ports []string, err error) {
	t.Helper()
	listPorts = func() ([]string, error) { return ports, err }
	t.Cleanup(func() { listPorts = bugstList })
}

var bugstList = listPorts

func TestFirstPort(t *testing.T) {
	withPorts(t, []string{"", "/dev/ttyACM0", "/dev/ttyUSB0"}, nil)
	p, err := FirstPort()
	if err != nil || p != "/dev/ttyACM0" {
		t.Fatalf("FirstPort = %q, %v", p, err)
	}
}

func TestFirstPortNone(t *testing.T) {
	withPorts(t, nil, nil)
	if _, err := FirstPort(); !errors.Is(err, ErrNoPorts) {
		t.Fatalf("expected ErrNoPorts, got %v", err)
	}
}

func TestFirstPortListError(t *testing.T) {
	boom := errors.New("boom")
	withPorts(t, nil, boom)
	if _, err := FirstPort(); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped list error, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	withPorts(t, []string{"COM3"}, nil)
	if p, _ := Resolve("/dev/ttyUSB1"); p != "/dev/ttyUSB1" {
		t.Fatalf("explicit name changed to %q", p)
	}
	if p, err := Resolve(AutoDevice); err != nil || p != "COM3" {
		t.Fatalf("Resolve(auto) = %q, %v", p, err)
	}
}
