// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds small process-level helpers shared by the
// daemon and the launcher: pid liveness probing (the primitive behind
// the daemon's orphan sweep) and the standard binary entrypoint error
// handler.
package process
