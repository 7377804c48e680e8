// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

// Package hwinfo probes the hardware surfaces gametune can tune: the
// cpufreq EPP interface and DRM GPUs with hwmon power caps. It is
// read-only and needs no privileges, so the launcher uses it directly
// for device listings without a round trip through the daemon.
package hwinfo
