// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

// Package tuning applies and reverts individual hardware and process
// adjustments.
//
// Every change flows through the same three-step shape: an Executor
// plans Mutations (pure, no side effects), applies each one while
// capturing the prior value into a Record, and later restores Records
// back to their priors. Records hold everything restoration needs as
// plain strings, so they survive a round-trip through the session
// journal and a daemon restart.
//
// Executors are independent; they do not know about sessions,
// reference counting, or each other. Ordering and rollback are the
// session manager's job.
package tuning
