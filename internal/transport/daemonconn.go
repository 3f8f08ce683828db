package transport

import (
	"fmt"
	"net"
)

// DaemonConnection is the client side of the daemon's packet bridge: a
// Connection whose link is the daemon's unix socket instead of a physical
// port. The daemon answers sharing-protocol packets itself and forwards
// everything else to the brain it owns.
type DaemonConnection struct {
	*streamConn
}

// DialDaemon opens a packet bridge session on the daemon socket.
// The first byte a bridge client sends is the device-bound header, which is
// how the daemon tells bridge sessions apart from JSON command sessions.
func DialDaemon(socketPath string) (*DaemonConnection, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial daemon at %s: %w", socketPath, err)
	}
	return &DaemonConnection{streamConn: newStreamConn(KindDaemon, conn)}, nil
}
