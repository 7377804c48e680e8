// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// relativePath is the profile location inside the XDG config tree.
const relativePath = "gametune/profile.yaml"

// DefaultPath returns the profile document path: the first existing
// profile.yaml across the XDG config search order, or the canonical
// location under $XDG_CONFIG_HOME when none exists yet. The second
// case lets callers report "no profile at <path>" with the path a
// user should create.
func DefaultPath() string {
	if path, err := xdg.SearchConfigFile(relativePath); err == nil {
		return path
	}
	return filepath.Join(xdg.ConfigHome, relativePath)
}
