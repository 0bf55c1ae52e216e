package serial

import (
	"errors"
	"fmt"

	bugst "go.bug.st/serial"
)

// AutoDevice selects the first serial port the OS reports.
const AutoDevice = "auto"

// ErrNoPorts is returned when no serial port is present.
var ErrNoPorts = errors.New("no serial ports found")

// listPorts is a hook for tests.
var listPorts = bugst.GetPortsList

// FirstPort returns the first available serial port name.
func FirstPort() (string, error) {
	ports, err := listPorts()
	if err != nil {
		return "", fmt.Errorf("list serial ports: %w", err)
	}
	for _, p := range ports {
		if p != "" {
			return p, nil
		}
	}
	return "", ErrNoPorts
}

// Resolve maps AutoDevice to the first available port and leaves any other
// name untouched.
func Resolve(name string) (string, error) {
	if name != AutoDevice {
		return name, nil
	}
	return FirstPort()
}
