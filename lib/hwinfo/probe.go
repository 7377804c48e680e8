// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// CPUInfo describes the cpufreq EPP surface.
type CPUInfo struct {
	// Driver is the scaling driver of the first policy (they do not
	// differ in practice).
	Driver string

	// Policies is the number of cpufreq policies, each tuned
	// individually during a session.
	Policies int

	// EPPSupported is true when the driver exposes the
	// energy_performance_preference attribute.
	EPPSupported bool

	// AvailableHints are the EPP values the driver accepts.
	AvailableHints []string
}

// GPUInfo describes one DRM card.
type GPUInfo struct {
	Card   string // card0, card1, ...
	Name   string // model name, when the driver exposes one
	Vendor string
	Driver string
	Slot   string // PCI address

	// Tunable is true when the card exposes a power cap; only
	// tunable cards can satisfy a gpu section in a profile.
	Tunable bool

	// PowerCapMicrowatts and PowerCapMaxMicrowatts are the current
	// and maximum sustained power caps, zero when not tunable.
	PowerCapMicrowatts    int64
	PowerCapMaxMicrowatts int64
}

// Inventory is everything gametune could tune on this machine.
type Inventory struct {
	CPU  CPUInfo
	GPUs []GPUInfo
}

// Probe reads the inventory from the given sysfs roots,
// /sys/devices/system/cpu and /sys/class/drm outside of tests.
func Probe(cpuRoot, drmRoot string) Inventory {
	return Inventory{
		CPU:  probeCPU(cpuRoot),
		GPUs: probeGPUs(drmRoot),
	}
}

func probeCPU(root string) CPUInfo {
	policies, _ := filepath.Glob(filepath.Join(root, "cpufreq", "policy[0-9]*"))
	slices.Sort(policies)
	info := CPUInfo{Policies: len(policies)}
	if len(policies) == 0 {
		return info
	}

	first := policies[0]
	info.Driver = readString(filepath.Join(first, "scaling_driver"))
	if _, err := os.Stat(filepath.Join(first, "energy_performance_preference")); err == nil {
		info.EPPSupported = true
	}
	if hints := readString(filepath.Join(first, "energy_performance_available_preferences")); hints != "" {
		info.AvailableHints = strings.Fields(hints)
	}
	return info
}

func probeGPUs(root string) []GPUInfo {
	entries, _ := filepath.Glob(filepath.Join(root, "card*"))
	slices.Sort(entries)

	var gpus []GPUInfo
	for _, card := range entries {
		if !isCardDevice(filepath.Base(card)) {
			continue
		}
		device := filepath.Join(card, "device")
		info := GPUInfo{
			Card:   filepath.Base(card),
			Name:   readString(filepath.Join(device, "product_name")),
			Driver: driverName(device),
		}
		info.Vendor, info.Slot = parseUevent(device)

		hwmons, _ := filepath.Glob(filepath.Join(device, "hwmon", "hwmon*"))
		slices.Sort(hwmons)
		for _, hwmon := range hwmons {
			current := readInt64(filepath.Join(hwmon, "power1_cap"))
			if current == 0 {
				continue
			}
			info.Tunable = true
			info.PowerCapMicrowatts = current
			info.PowerCapMaxMicrowatts = readInt64(filepath.Join(hwmon, "power1_cap_max"))
			break
		}
		gpus = append(gpus, info)
	}
	return gpus
}

// isCardDevice matches card device names (card0) but not connectors
// (card0-DP-1) or render nodes.
func isCardDevice(name string) bool {
	suffix, ok := strings.CutPrefix(name, "card")
	if !ok || suffix == "" {
		return false
	}
	for _, character := range suffix {
		if character < '0' || character > '9' {
			return false
		}
	}
	return true
}

// driverName resolves the kernel driver from the device's "driver"
// symlink.
func driverName(devicePath string) string {
	link, err := os.Readlink(filepath.Join(devicePath, "driver"))
	if err != nil {
		return ""
	}
	return filepath.Base(link)
}

// parseUevent extracts the vendor name and PCI slot from the device's
// uevent file, which carries lines like PCI_ID=10DE:2786 and
// PCI_SLOT_NAME=0000:01:00.0.
func parseUevent(devicePath string) (vendor, slot string) {
	data, err := os.ReadFile(filepath.Join(devicePath, "uevent"))
	if err != nil {
		return "", ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "PCI_ID":
			if id, _, ok := strings.Cut(value, ":"); ok {
				vendor = vendorName(strings.ToLower(id))
			}
		case "PCI_SLOT_NAME":
			slot = value
		}
	}
	return vendor, slot
}

func vendorName(vendorID string) string {
	switch vendorID {
	case "1002":
		return "AMD"
	case "10de":
		return "NVIDIA"
	case "8086":
		return "Intel"
	case "":
		return ""
	default:
		return "0x" + vendorID
	}
}

func readString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func readInt64(path string) int64 {
	value, err := strconv.ParseInt(readString(path), 10, 64)
	if err != nil {
		return 0
	}
	return value
}
