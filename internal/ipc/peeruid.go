package ipc

import (
	"fmt"
	"net"
	"os"
)

// peerUIDMatchesCurrentUser reports whether the process on the other end of
// conn runs as the daemon's user.
func peerUIDMatchesCurrentUser(conn net.Conn) (bool, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return false, fmt.Errorf("connection is not unix")
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return false, err
	}

	var uid uint32
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		uid, sockErr = socketPeerUID(int(fd))
	}); err != nil {
		return false, err
	}
	if sockErr != nil {
		return false, sockErr
	}
	return uid == uint32(os.Getuid()), nil
}
