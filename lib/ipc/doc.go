// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the wire protocol between gametune-launch and
// gametuned: CBOR request/response pairs over a unix domain socket,
// one pair per action. CBOR items are self-delimiting, so no extra
// framing is needed on the stream.
//
// The daemon never trusts a pid claimed inside a request for identity
// purposes; the requesting client's pid comes from SO_PEERCRED on the
// socket, which the kernel fills in and the client cannot forge. The
// TargetPID field names the process to tune, which is a different
// process from the client (the launcher requests on behalf of its
// child).
package ipc
