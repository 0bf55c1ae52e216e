//go:build !unix

package server

import "syscall"

// Placeholder so non-unix builds compile; the OS default is used.
func reuseAddrControl(network, address string, c syscall.RawConn) error { return nil }
