//go:build linux

package websocket

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// tuneSocket disables Nagle's algorithm and sizes the kernel socket buffers
// to match Config.ReadBufferSize, the way momentics-hioload-ws's
// transport_linux.go tunes accepted sockets before handing them to its
// reactor. Best-effort: a tuning failure is not worth failing the accept
// over, so errors are ignored.
func tuneSocket(conn net.Conn, cfg Config) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return
	}

	_ = rawConn.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
		_ = unix.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, cfg.ReadBufferSize)
		_ = unix.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_SNDBUF, cfg.ReadBufferSize)
	})
}
