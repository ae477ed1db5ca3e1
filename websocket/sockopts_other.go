//go:build !linux

package websocket

import "net"

// tuneSocket is a no-op off Linux, matching momentics-hioload-ws's
// affinity_stub.go/numa_stub.go fallback convention for platform-specific
// tuning the rest of the package does not depend on for correctness.
func tuneSocket(conn net.Conn, cfg Config) {}
