//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

// enableBroadcast sets SO_BROADCAST on the socket underlying conn, which
// the net package does not expose directly. Grounded on
// Lzww0608-safe-udp and xtaci-kcptun, both of which drop to
// golang.org/x/sys for UDP socket-option control beyond plain net.UDPConn.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}
