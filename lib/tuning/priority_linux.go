// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package tuning

import "golang.org/x/sys/unix"

// ioprio_get/ioprio_set constants from linux/ioprio.h. x/sys/unix
// exposes the syscall numbers but not the value encoding.
const (
	ioprioWhoProcess = 1
	ioprioClassBE    = 2
	ioprioClassShift = 13
)

// ioprioValue encodes a best-effort class I/O priority at the given
// level (0 highest through 7 lowest).
func ioprioValue(level int) int {
	return ioprioClassBE<<ioprioClassShift | level
}

// getNice returns a process's nice value. The raw getpriority syscall
// returns 20-nice so the result fits in an unsigned return; undo that
// here so callers only ever see nice values.
func getNice(pid int) (int, error) {
	prio, err := unix.Getpriority(unix.PRIO_PROCESS, pid)
	if err != nil {
		return 0, err
	}
	return 20 - prio, nil
}

func ioprioGet(pid int) (int, error) {
	value, _, errno := unix.Syscall(unix.SYS_IOPRIO_GET, ioprioWhoProcess, uintptr(pid), 0)
	if errno != 0 {
		return 0, errno
	}
	return int(value), nil
}

func ioprioSet(pid, value int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOPRIO_SET, ioprioWhoProcess, uintptr(pid), uintptr(value))
	if errno != 0 {
		return errno
	}
	return nil
}
