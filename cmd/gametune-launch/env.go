// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"strings"

	"github.com/gametune-project/gametune/lib/profile"
)

// buildEnv assembles the child's environment: the launcher's own
// environment, then the "global" group, then the group named after
// the target, then any groups requested on the command line, in that
// order. Later sources override earlier ones key by key.
func buildEnv(base []string, effective profile.Effective, extraGroups []string, log *slog.Logger) []string {
	merged := make(map[string]string, len(base))
	var order []string
	set := func(key, value string) {
		if _, seen := merged[key]; !seen {
			order = append(order, key)
		}
		merged[key] = value
	}

	for _, entry := range base {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		set(key, value)
	}

	groups := []string{"global", effective.Target}
	groups = append(groups, extraGroups...)
	applied := make(map[string]bool)
	for _, name := range groups {
		if applied[name] {
			continue
		}
		applied[name] = true
		group, ok := effective.EnvGroups[name]
		if !ok {
			// The target-named group is implicit and usually absent;
			// a group the user asked for by flag is worth a warning.
			if isExtra(name, extraGroups) {
				log.Warn("environment group not in profile", "group", name)
			}
			continue
		}
		for key, value := range group {
			set(key, value)
		}
	}

	environment := make([]string, 0, len(order))
	for _, key := range order {
		environment = append(environment, key+"="+merged[key])
	}
	return environment
}

func isExtra(name string, extraGroups []string) bool {
	for _, extra := range extraGroups {
		if extra == name {
			return true
		}
	}
	return false
}
