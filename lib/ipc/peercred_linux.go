// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// PeerPID returns the pid of the process on the far end of a unix
// socket connection, as reported by the kernel via SO_PEERCRED. This
// is the only client identity the daemon honors: a request body can
// claim any pid it likes, the socket cannot.
func PeerPID(connection *net.UnixConn) (int, error) {
	raw, err := connection.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("raw connection: %w", err)
	}
	var credentials *unix.Ucred
	var sockoptErr error
	err = raw.Control(func(fd uintptr) {
		credentials, sockoptErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return 0, fmt.Errorf("control: %w", err)
	}
	if sockoptErr != nil {
		return 0, fmt.Errorf("SO_PEERCRED: %w", sockoptErr)
	}
	return int(credentials.Pid), nil
}
