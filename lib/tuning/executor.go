// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package tuning

import (
	"fmt"

	"github.com/gametune-project/gametune/lib/profile"
)

// Kind names one category of adjustment. It selects the apply/restore
// mechanism when a Record comes back from the journal.
type Kind string

const (
	KindCPUEPP     Kind = "cpu-epp"
	KindGPUPower   Kind = "gpu-power"
	KindNice       Kind = "nice"
	KindIOPriority Kind = "io-priority"
	KindMitigation Kind = "mitigation"
)

// Mutation is one intended change, produced by Plan before anything
// touches the system.
type Mutation struct {
	Kind Kind `json:"kind"`

	// Path is the sysfs or procfs file to write, for file-backed
	// kinds. Process-scoped kinds leave it empty.
	Path string `json:"path,omitempty"`

	// TargetPID is the process to adjust, for process-scoped kinds.
	TargetPID int `json:"target_pid,omitempty"`

	// Desired is the value to install, in the written form (sysfs
	// text, or the decimal rendering of a syscall argument).
	Desired string `json:"desired"`

	// SharedKey identifies the machine-wide resource this mutation
	// touches, when it touches one. Sessions sharing a key share one
	// refcount: only the first apply and the last restore reach the
	// system. Empty for per-process mutations, which never conflict.
	SharedKey string `json:"shared_key,omitempty"`

	// Fallback is the restore value to use if the prior cannot be
	// read at apply time. Empty means an unreadable prior fails the
	// apply instead.
	Fallback string `json:"fallback,omitempty"`
}

// Record is an applied Mutation plus the state needed to undo it.
type Record struct {
	Mutation

	// Prior is the value observed immediately before the write, or
	// the Fallback when the prior was unreadable.
	Prior string `json:"prior"`

	// Skipped marks a mutation that was tolerated as a no-op because
	// the system rejected it in a best-effort category. Restoring a
	// skipped record does nothing.
	Skipped bool `json:"skipped,omitempty"`

	// Reverted marks a record whose prior has been reinstated. Kept
	// in the record (rather than dropping it) so a partially failed
	// revert knows exactly which records still need attention.
	Reverted bool `json:"reverted,omitempty"`
}

// Executor plans, applies, and restores one category of adjustment.
type Executor interface {
	// Kinds lists the mutation kinds this executor produces and can
	// restore. Used to route journaled records back to their owner
	// after a daemon restart.
	Kinds() []Kind

	// Plan inspects the system and returns the mutations this
	// executor would perform for the given settings. It performs no
	// writes. An empty slice means the executor has nothing to do,
	// which is not an error.
	Plan(effective profile.Effective, targetPID int) ([]Mutation, error)

	// Apply captures prior state and installs the mutation.
	Apply(mutation Mutation) (Record, error)

	// Restore reinstates the prior state captured in the record.
	Restore(record Record) error
}

// DeviceNotFoundError reports that a profile's device selector matched
// no present hardware. It is distinguished from other executor errors
// because the fix is in the profile, not the machine.
type DeviceNotFoundError struct {
	Selector string
}

func (e *DeviceNotFoundError) Error() string {
	if e.Selector == "" {
		return "no tunable GPU present"
	}
	return fmt.Sprintf("no GPU matches selector %q", e.Selector)
}
