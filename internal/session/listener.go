package session

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listen binds the TCP listener spec.md §4.5 requires: all interfaces, an
// ephemeral port chosen by the kernel. SO_REUSEADDR is set on the
// listening socket so an agent that restarts quickly does not fail to
// rebind while the previous socket lingers in TIME_WAIT.
func listen() (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(context.Background(), "tcp", "[::]:0")
}
