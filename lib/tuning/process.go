// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package tuning

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/gametune-project/gametune/lib/profile"

	"golang.org/x/sys/unix"
)

// ProcessExecutor adjusts the target process's scheduling (nice and
// I/O priority) and relaxes any requested machine-level mitigations.
// The syscall hooks are injectable so the planning and bookkeeping
// logic is testable without a privileged victim process.
type ProcessExecutor struct {
	// SysctlRoot is /proc/sys outside of tests.
	SysctlRoot string

	Log *slog.Logger

	// Syscall hooks, defaulted to the real implementations when nil.
	GetNice   func(pid int) (int, error)
	SetNice   func(pid, nice int) error
	GetIOPrio func(pid int) (int, error)
	SetIOPrio func(pid, value int) error
}

// mitigations maps recognized mitigation flag names to the sysctl
// they relax and the relaxed value.
var mitigations = map[string]struct {
	path    string
	relaxed string
}{
	// split_lock_mitigate=0 stops the kernel from throttling the
	// whole process on a split lock, which some game engines trip
	// constantly.
	"split_lock": {path: "kernel/split_lock_mitigate", relaxed: "0"},
}

func (e *ProcessExecutor) Kinds() []Kind {
	return []Kind{KindNice, KindIOPriority, KindMitigation}
}

func (e *ProcessExecutor) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e *ProcessExecutor) Plan(effective profile.Effective, targetPID int) ([]Mutation, error) {
	if !effective.Process.Enabled {
		return nil, nil
	}
	if targetPID <= 0 {
		// A session without a target process still gets its CPU and
		// GPU tunings; there is just no pid to reprioritize.
		e.logger().Warn("no target pid, skipping process tuning")
		return nil, nil
	}

	mutations := []Mutation{
		{
			Kind:      KindNice,
			TargetPID: targetPID,
			Desired:   strconv.Itoa(effective.Process.Nice),
		},
		{
			Kind:      KindIOPriority,
			TargetPID: targetPID,
			Desired:   strconv.Itoa(ioprioValue(effective.Process.IOPriority)),
		},
	}
	for _, flag := range effective.Process.MitigationFlags {
		mitigation, ok := mitigations[flag]
		if !ok {
			e.logger().Warn("unknown mitigation flag, skipping", "flag", flag)
			continue
		}
		mutations = append(mutations, Mutation{
			Kind:      KindMitigation,
			Path:      filepath.Join(e.SysctlRoot, mitigation.path),
			Desired:   mitigation.relaxed,
			SharedKey: "mitigation:" + flag,
		})
	}
	return mutations, nil
}

func (e *ProcessExecutor) Apply(mutation Mutation) (Record, error) {
	switch mutation.Kind {
	case KindNice:
		return e.applyNice(mutation)
	case KindIOPriority:
		return e.applyIOPrio(mutation)
	case KindMitigation:
		prior, err := readValue(mutation.Path)
		if err != nil {
			return Record{}, fmt.Errorf("reading mitigation state: %w", err)
		}
		if err := writeValue(mutation.Path, mutation.Desired); err != nil {
			return Record{}, err
		}
		return Record{Mutation: mutation, Prior: prior}, nil
	default:
		return Record{}, fmt.Errorf("unknown mutation kind %q", mutation.Kind)
	}
}

func (e *ProcessExecutor) applyNice(mutation Mutation) (Record, error) {
	desired, err := strconv.Atoi(mutation.Desired)
	if err != nil {
		return Record{}, fmt.Errorf("parsing nice value %q: %w", mutation.Desired, err)
	}
	prior, err := e.getNice(mutation.TargetPID)
	if err != nil {
		return Record{}, fmt.Errorf("reading nice of pid %d: %w", mutation.TargetPID, err)
	}
	if err := e.setNice(mutation.TargetPID, desired); err != nil {
		return Record{}, fmt.Errorf("setting nice of pid %d: %w", mutation.TargetPID, err)
	}
	return Record{Mutation: mutation, Prior: strconv.Itoa(prior)}, nil
}

func (e *ProcessExecutor) applyIOPrio(mutation Mutation) (Record, error) {
	desired, err := strconv.Atoi(mutation.Desired)
	if err != nil {
		return Record{}, fmt.Errorf("parsing ioprio value %q: %w", mutation.Desired, err)
	}
	prior, err := e.getIOPrio(mutation.TargetPID)
	if err != nil {
		return Record{}, fmt.Errorf("reading ioprio of pid %d: %w", mutation.TargetPID, err)
	}
	if err := e.setIOPrio(mutation.TargetPID, desired); err != nil {
		// I/O priority is best effort: some kernels and containers
		// reject ioprio_set outright, and losing it should not sink
		// the whole session.
		if errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EPERM) {
			e.logger().Warn("ioprio_set rejected, continuing without I/O priority",
				"pid", mutation.TargetPID, "error", err)
			return Record{Mutation: mutation, Prior: strconv.Itoa(prior), Skipped: true}, nil
		}
		return Record{}, fmt.Errorf("setting ioprio of pid %d: %w", mutation.TargetPID, err)
	}
	return Record{Mutation: mutation, Prior: strconv.Itoa(prior)}, nil
}

func (e *ProcessExecutor) Restore(record Record) error {
	if record.Skipped {
		return nil
	}
	switch record.Kind {
	case KindNice:
		prior, err := strconv.Atoi(record.Prior)
		if err != nil {
			return fmt.Errorf("parsing recorded nice %q: %w", record.Prior, err)
		}
		return e.setNice(record.TargetPID, prior)
	case KindIOPriority:
		prior, err := strconv.Atoi(record.Prior)
		if err != nil {
			return fmt.Errorf("parsing recorded ioprio %q: %w", record.Prior, err)
		}
		return e.setIOPrio(record.TargetPID, prior)
	case KindMitigation:
		return writeValue(record.Path, record.Prior)
	default:
		return fmt.Errorf("unknown record kind %q", record.Kind)
	}
}

func (e *ProcessExecutor) getNice(pid int) (int, error) {
	if e.GetNice != nil {
		return e.GetNice(pid)
	}
	return getNice(pid)
}

func (e *ProcessExecutor) setNice(pid, nice int) error {
	if e.SetNice != nil {
		return e.SetNice(pid, nice)
	}
	return unix.Setpriority(unix.PRIO_PROCESS, pid, nice)
}

func (e *ProcessExecutor) getIOPrio(pid int) (int, error) {
	if e.GetIOPrio != nil {
		return e.GetIOPrio(pid)
	}
	return ioprioGet(pid)
}

func (e *ProcessExecutor) setIOPrio(pid, value int) error {
	if e.SetIOPrio != nil {
		return e.SetIOPrio(pid, value)
	}
	return ioprioSet(pid, value)
}
