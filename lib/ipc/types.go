// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "github.com/gametune-project/gametune/lib/profile"

// ProtocolVersion is the current request framing version. A daemon
// receiving a different version rejects the request with CodeProtocol
// rather than guessing at field meanings.
const ProtocolVersion = 1

// DefaultSocketPath is where gametuned listens unless overridden.
const DefaultSocketPath = "/run/gametune/gametuned.sock"

// Actions a client may request.
const (
	ActionStartSession = "start-session"
	ActionEndSession   = "end-session"
	ActionPing         = "ping"
	ActionStatus       = "status"
)

// Machine-readable error codes carried alongside the human-readable
// Error string in failed responses.
const (
	CodeProtocol       = "protocol"
	CodeConfig         = "config"
	CodeBusy           = "busy"
	CodeDeviceNotFound = "device-not-found"
	CodeExecutor       = "executor"
	CodeRevert         = "revert"
)

// Request is one client message. Fields beyond Version and Action are
// action-specific; unused ones stay zero.
type Request struct {
	Version int    `cbor:"version"`
	Action  string `cbor:"action"`

	// Target is the normalized target identifier (start-session).
	Target string `cbor:"target,omitempty"`

	// TargetPID is the already-running process the session tunes
	// (start-session). It is distinct from the client's own pid, which
	// the daemon reads from the socket. Zero requests a session with
	// no process tuning, bound to the client's lifetime.
	TargetPID int `cbor:"target_pid,omitempty"`

	// Profile carries the resolved settings for the target
	// (start-session). Resolution happens client-side so the daemon
	// never parses user config files as root.
	Profile *profile.Effective `cbor:"profile,omitempty"`

	// Handle identifies an existing session (end-session).
	Handle string `cbor:"handle,omitempty"`
}

// SessionSummary is one active session in a status response.
type SessionSummary struct {
	Handle    string `cbor:"handle"`
	Target    string `cbor:"target"`
	ClientPID int    `cbor:"client_pid"`
	TargetPID int    `cbor:"target_pid"`
	State     string `cbor:"state"`
}

// Response is the daemon's reply to one Request.
type Response struct {
	OK bool `cbor:"ok"`

	// Error and Code are set when OK is false.
	Error string `cbor:"error,omitempty"`
	Code  string `cbor:"code,omitempty"`

	// Handle and State are set for successful start-session replies;
	// State is also set on end-session.
	Handle string `cbor:"handle,omitempty"`
	State  string `cbor:"state,omitempty"`

	// Failures lists restore errors from an end-session that left the
	// session Failed. The reply still carries OK=true in the partial
	// case where some records restored; callers inspect Failures.
	Failures []string `cbor:"failures,omitempty"`

	// Sessions is the active-session table for status replies.
	Sessions []SessionSummary `cbor:"sessions,omitempty"`

	// Message carries informational text (ping replies include the
	// daemon version).
	Message string `cbor:"message,omitempty"`
}
