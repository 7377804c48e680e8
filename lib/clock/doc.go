// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the daemon's periodic work so tests
// can drive the orphan sweep deterministically. Production code injects
// Real(); tests inject Fake() and call Advance.
package clock
