// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package tuning

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gametune-project/gametune/lib/profile"
)

// CPUExecutor installs the energy-performance-preference hint on
// every cpufreq policy. Policies are planned individually so a
// partial apply can be rolled back policy by policy, and each policy
// carries its own shared key: two concurrent sessions wanting the
// hint refcount per policy, and only the first write and last restore
// touch the hardware.
type CPUExecutor struct {
	// Root is the cpu sysfs tree, /sys/devices/system/cpu outside of
	// tests.
	Root string

	Log *slog.Logger
}

const (
	eppFile          = "energy_performance_preference"
	eppAvailableFile = "energy_performance_available_preferences"
)

func (e *CPUExecutor) Kinds() []Kind {
	return []Kind{KindCPUEPP}
}

func (e *CPUExecutor) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e *CPUExecutor) Plan(effective profile.Effective, targetPID int) ([]Mutation, error) {
	if !effective.CPU.Enabled {
		return nil, nil
	}

	policyGlob := filepath.Join(e.Root, "cpufreq", "policy[0-9]*")
	policies, err := filepath.Glob(policyGlob)
	if err != nil {
		return nil, fmt.Errorf("enumerating cpufreq policies: %w", err)
	}
	if len(policies) == 0 {
		return nil, fmt.Errorf("no cpufreq policies under %s", filepath.Join(e.Root, "cpufreq"))
	}
	slices.Sort(policies)

	var mutations []Mutation
	for _, policy := range policies {
		eppPath := filepath.Join(policy, eppFile)
		if _, err := os.Stat(eppPath); err != nil {
			return nil, fmt.Errorf("policy %s does not support EPP: %w", filepath.Base(policy), err)
		}
		available, err := readValue(filepath.Join(policy, eppAvailableFile))
		if err == nil && !slices.Contains(strings.Fields(available), effective.CPU.EPPActive) {
			return nil, fmt.Errorf("policy %s does not offer EPP hint %q (available: %s)",
				filepath.Base(policy), effective.CPU.EPPActive, available)
		}
		mutations = append(mutations, Mutation{
			Kind:      KindCPUEPP,
			Path:      eppPath,
			Desired:   effective.CPU.EPPActive,
			SharedKey: "cpu-epp:" + filepath.Base(policy),
			Fallback:  effective.CPU.EPPIdle,
		})
	}
	return mutations, nil
}

func (e *CPUExecutor) Apply(mutation Mutation) (Record, error) {
	prior, err := readValue(mutation.Path)
	if err != nil {
		// Some drivers refuse reads in certain governor modes. The
		// profile's idle hint stands in as the restore target.
		e.logger().Warn("EPP prior unreadable, restore will use fallback",
			"path", mutation.Path, "fallback", mutation.Fallback, "error", err)
		prior = mutation.Fallback
	}
	if err := writeValue(mutation.Path, mutation.Desired); err != nil {
		return Record{}, err
	}
	return Record{Mutation: mutation, Prior: prior}, nil
}

func (e *CPUExecutor) Restore(record Record) error {
	return writeValue(record.Path, record.Prior)
}
