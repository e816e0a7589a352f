//go:build windows

package transport

import (
	"net"
	"syscall"
)

// enableBroadcast sets SO_BROADCAST via the raw Windows socket handle,
// mirroring xtaci-kcptun's platform split between generic/rawcopy_unix.go
// and generic/rawcopy_windows.go for socket-level concerns the net
// package doesn't expose portably.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}
