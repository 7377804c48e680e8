// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

// Connecting to ourselves over a unix socket must yield our own pid
// from SO_PEERCRED on the accepted side.
func TestPeerPID(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "test.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	accepted := make(chan *net.UnixConn, 1)
	errs := make(chan error, 1)
	go func() {
		connection, err := listener.Accept()
		if err != nil {
			errs <- err
			return
		}
		accepted <- connection.(*net.UnixConn)
	}()

	client, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	select {
	case err := <-errs:
		t.Fatalf("accept: %v", err)
	case connection := <-accepted:
		defer connection.Close()
		pid, err := PeerPID(connection)
		if err != nil {
			t.Fatalf("PeerPID: %v", err)
		}
		if pid != os.Getpid() {
			t.Errorf("PeerPID = %d, want %d", pid, os.Getpid())
		}
	}
}
