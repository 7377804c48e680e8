// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"

	"github.com/gametune-project/gametune/lib/tuning"
)

// State is a session's position in its lifecycle. Transitions only
// move forward; a session never re-enters an earlier state.
type State string

const (
	// StateRequested: accepted, nothing applied yet.
	StateRequested State = "requested"

	// StateTuned: every mutation applied, target not yet confirmed.
	StateTuned State = "tuned"

	// StateActive: target confirmed running with tunings in place.
	StateActive State = "active"

	// StateReverting: restoration in progress.
	StateReverting State = "reverting"

	// StateReverted: every record restored. Terminal.
	StateReverted State = "reverted"

	// StateFailed: restoration completed with errors; Failures lists
	// them and the unrestored records stay journaled. Terminal, but
	// the session remains visible in status output so the operator
	// knows the machine may not be back to its prior state.
	StateFailed State = "failed"
)

// terminal reports whether a session has finished its lifecycle.
func (s State) terminal() bool {
	return s == StateReverted || s == StateFailed
}

// Session is one tuning session. The struct is JSON-serializable in
// full; the journal persists it verbatim so a restarted daemon can
// resume reverting it.
type Session struct {
	Handle    string    `json:"handle"`
	Target    string    `json:"target"`
	ClientPID int       `json:"client_pid"`
	TargetPID int       `json:"target_pid"`
	State     State     `json:"state"`
	Started   time.Time `json:"started"`

	// Records are the applied mutations in apply order. Restoration
	// walks them in reverse.
	Records []tuning.Record `json:"records"`

	// Failures collects restore error messages when State is
	// StateFailed.
	Failures []string `json:"failures,omitempty"`
}
