// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/gametune-project/gametune/lib/codec"
	"github.com/gametune-project/gametune/lib/ipc"
	"github.com/gametune-project/gametune/lib/profile"
	"github.com/gametune-project/gametune/lib/session"
	"github.com/gametune-project/gametune/lib/tuning"
)

// connectionDeadline bounds one request/response exchange. Matches the
// client's ipc.DialTimeout so neither side gives up first under normal
// load.
const connectionDeadline = 30 * time.Second

type server struct {
	manager *session.Manager
	log     *slog.Logger
}

// serve accepts connections until the listener is closed. Each
// connection carries exactly one request. Transient accept failures
// (fd exhaustion, aborted handshakes) are logged and ridden out; only
// a closed listener ends the loop.
func (s *server) serve(ctx context.Context, listener *net.UnixListener) {
	for {
		connection, err := listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("accept failed", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		go s.handleConnection(connection)
	}
}

func (s *server) handleConnection(connection *net.UnixConn) {
	defer connection.Close()
	if err := connection.SetDeadline(time.Now().Add(connectionDeadline)); err != nil {
		s.log.Error("setting connection deadline", "error", err)
		return
	}

	clientPID, err := ipc.PeerPID(connection)
	if err != nil {
		s.log.Error("reading peer credentials", "error", err)
		return
	}

	var request ipc.Request
	if err := codec.NewDecoder(connection).Decode(&request); err != nil {
		s.log.Warn("undecodable request", "client_pid", clientPID, "error", err)
		return
	}

	// The response goes out even if the client has hung up by the
	// time dispatch finishes; an applied session stays applied and
	// the sweeper owns it from here. Only the encode error is worth
	// logging.
	response := s.dispatch(request, clientPID)
	if err := codec.NewEncoder(connection).Encode(response); err != nil {
		s.log.Warn("response write failed", "client_pid", clientPID, "error", err)
	}
}

func (s *server) dispatch(request ipc.Request, clientPID int) ipc.Response {
	if request.Version != ipc.ProtocolVersion {
		return failure(ipc.CodeProtocol, "unsupported protocol version")
	}

	switch request.Action {
	case ipc.ActionStartSession:
		return s.startSession(request, clientPID)
	case ipc.ActionEndSession:
		return s.endSession(request)
	case ipc.ActionPing:
		return ipc.Response{OK: true, Message: "gametuned " + daemonVersion}
	case ipc.ActionStatus:
		return s.status()
	default:
		return failure(ipc.CodeProtocol, "unknown action "+request.Action)
	}
}

func (s *server) startSession(request ipc.Request, clientPID int) ipc.Response {
	if request.Profile == nil {
		return failure(ipc.CodeProtocol, "start-session requires a profile")
	}
	started, err := s.manager.StartSession(clientPID, request.TargetPID, *request.Profile)
	if err != nil {
		return failure(startErrorCode(err), err.Error())
	}
	return ipc.Response{OK: true, Handle: started.Handle, State: string(started.State)}
}

func (s *server) endSession(request ipc.Request) ipc.Response {
	ended, found, err := s.manager.EndSession(request.Handle)
	if !found {
		// Already swept or never existed; either way there is nothing
		// left applied, which is what the client asked for.
		return ipc.Response{OK: true, State: string(session.StateReverted)}
	}
	response := ipc.Response{
		OK:       true,
		Handle:   ended.Handle,
		State:    string(ended.State),
		Failures: ended.Failures,
	}
	if err != nil {
		// Partial revert: the session is Failed and Failures carries
		// the details, but the request itself was honored.
		response.Code = ipc.CodeRevert
	}
	return response
}

func (s *server) status() ipc.Response {
	sessions := s.manager.Sessions()
	summaries := make([]ipc.SessionSummary, 0, len(sessions))
	for _, item := range sessions {
		summaries = append(summaries, ipc.SessionSummary{
			Handle:    item.Handle,
			Target:    item.Target,
			ClientPID: item.ClientPID,
			TargetPID: item.TargetPID,
			State:     string(item.State),
		})
	}
	return ipc.Response{OK: true, Sessions: summaries}
}

func failure(code, message string) ipc.Response {
	return ipc.Response{OK: false, Code: code, Error: message}
}

// startErrorCode maps a StartSession error to its wire code.
func startErrorCode(err error) string {
	var notFound *tuning.DeviceNotFoundError
	var configError *profile.ConfigError
	switch {
	case errors.Is(err, session.ErrClientBusy):
		return ipc.CodeBusy
	case errors.As(err, &notFound):
		return ipc.CodeDeviceNotFound
	case errors.As(err, &configError):
		return ipc.CodeConfig
	default:
		return ipc.CodeExecutor
	}
}
