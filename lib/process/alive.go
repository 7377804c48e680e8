// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Alive reports whether a process with the given pid currently exists.
// It sends signal 0, which performs the kernel's existence and
// permission checks without delivering anything. EPERM means the
// process exists but belongs to another user — still alive for our
// purposes. This is an existence probe, not a signal subscription, so
// it keeps working across daemon restarts that would lose SIGCHLD or
// pidfd state.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}
