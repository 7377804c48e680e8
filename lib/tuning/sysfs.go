// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package tuning

import (
	"fmt"
	"os"
	"strings"
)

// readValue reads a single-value sysfs or procfs file, trimmed of the
// trailing newline the kernel appends.
func readValue(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// writeValue writes a single value to a sysfs or procfs file. Sysfs
// attributes want a bare value; the kernel tolerates but does not
// require a trailing newline.
func writeValue(path, value string) error {
	if err := os.WriteFile(path, []byte(value), 0); err != nil {
		return fmt.Errorf("writing %q to %s: %w", value, path, err)
	}
	return nil
}
