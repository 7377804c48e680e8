// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

// Package profile loads the user's tuning profile document and
// resolves the effective settings for a named target.
//
// The document is YAML with four well-known sections (cpu, gpu,
// process, hooks), per-target override sections named "target.<id>",
// and arbitrary additional sections that are treated as environment
// groups — name→value maps the launcher injects into the child's
// environment when the group is selected. Resolution is
// all-or-nothing: a structurally invalid document yields a ConfigError
// naming the offending section and field, never a partial profile.
//
// Merging is field-level, not section-level: a target section that
// sets only gpu.force_max_power inherits gpu.power_limit_mw from the
// base gpu section, and unset base fields fall through to built-in
// defaults.
package profile
