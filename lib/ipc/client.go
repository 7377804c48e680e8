// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"
	"net"
	"time"

	"github.com/gametune-project/gametune/lib/codec"
	"github.com/gametune-project/gametune/lib/profile"
)

// DialTimeout bounds the connect plus one request/response exchange.
// Session setup touches sysfs and /proc but never blocks on the
// target process, so anything slower than this is a wedged daemon.
const DialTimeout = 30 * time.Second

// Client issues requests to a gametuned socket. Each call opens a
// fresh connection; sessions are identified by handle, not by
// connection, so there is nothing to keep alive between calls.
type Client struct {
	// SocketPath defaults to DefaultSocketPath when empty.
	SocketPath string

	// Timeout defaults to DialTimeout when zero.
	Timeout time.Duration
}

// Call sends one request and reads one response. A response carrying
// OK=false is returned as-is with a nil error; the error return covers
// transport and protocol failures only, so callers can distinguish
// "the daemon said no" from "the daemon is unreachable".
func (c *Client) Call(request Request) (Response, error) {
	path := c.SocketPath
	if path == "" {
		path = DefaultSocketPath
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DialTimeout
	}
	request.Version = ProtocolVersion

	connection, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return Response{}, fmt.Errorf("dialing %s: %w", path, err)
	}
	defer connection.Close()
	if err := connection.SetDeadline(time.Now().Add(timeout)); err != nil {
		return Response{}, fmt.Errorf("setting deadline: %w", err)
	}

	if err := codec.NewEncoder(connection).Encode(request); err != nil {
		return Response{}, fmt.Errorf("sending request: %w", err)
	}
	var response Response
	if err := codec.NewDecoder(connection).Decode(&response); err != nil {
		return Response{}, fmt.Errorf("reading response: %w", err)
	}
	return response, nil
}

// StartSession asks the daemon to apply effective to the process
// targetPID for the lifetime of that process.
func (c *Client) StartSession(targetPID int, effective profile.Effective) (Response, error) {
	return c.Call(Request{
		Action:    ActionStartSession,
		Target:    effective.Target,
		TargetPID: targetPID,
		Profile:   &effective,
	})
}

// EndSession asks the daemon to revert the session with the given
// handle. Unknown handles succeed; the daemon may have already swept
// the session, and the end state is the same either way.
func (c *Client) EndSession(handle string) (Response, error) {
	return c.Call(Request{Action: ActionEndSession, Handle: handle})
}

// Ping checks daemon liveness.
func (c *Client) Ping() (Response, error) {
	return c.Call(Request{Action: ActionPing})
}

// Status returns the daemon's active-session table.
func (c *Client) Status() (Response, error) {
	return c.Call(Request{Action: ActionStatus})
}
