// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns the lifecycle of tuning sessions: it plans and
// applies mutations through the tuning executors, reference-counts
// machine-wide resources across concurrent sessions, reverts exactly
// what was applied when a session ends, and sweeps sessions whose
// target process has exited without a farewell from the client.
//
// All state lives behind one Manager mutex. Sessions never block on
// their target process; liveness is an existence probe, which is what
// lets the manager re-adopt journaled sessions after a daemon restart
// and keep sweeping them as if nothing happened.
package session
