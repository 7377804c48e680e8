// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package tuning

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/gametune-project/gametune/lib/profile"
)

// GPUExecutor adjusts a GPU's sustained power cap through the hwmon
// power1_cap attribute. The cap is a machine-wide resource, so the
// mutation carries a shared key derived from the device's PCI address:
// sessions sharing a GPU refcount the cap, and the prior captured by
// the first session is what eventually goes back.
type GPUExecutor struct {
	// Root is the drm sysfs tree, /sys/class/drm outside of tests.
	Root string

	Log *slog.Logger
}

func (e *GPUExecutor) Kinds() []Kind {
	return []Kind{KindGPUPower}
}

// cardPattern matches primary device nodes, not connectors like
// card0-DP-1.
var cardPattern = regexp.MustCompile(`^card[0-9]+$`)

type gpuDevice struct {
	card   string // card directory path
	name   string // model name, empty if the driver does not expose one
	uuid   string
	slot   string // PCI address, used as the shared key
	capDir string // hwmon directory holding power1_cap
}

func (e *GPUExecutor) Plan(effective profile.Effective, targetPID int) ([]Mutation, error) {
	if !effective.GPU.Enabled {
		return nil, nil
	}

	device, err := e.find(effective.GPU.Device)
	if err != nil {
		return nil, err
	}

	var desiredMicrowatts int64
	switch {
	case effective.GPU.PowerLimitMilliwatts != nil:
		desiredMicrowatts = int64(*effective.GPU.PowerLimitMilliwatts) * 1000
	case effective.GPU.ForceMaxPower:
		text, err := readValue(filepath.Join(device.capDir, "power1_cap_max"))
		if err != nil {
			return nil, fmt.Errorf("reading maximum power cap: %w", err)
		}
		desiredMicrowatts, err = strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing maximum power cap %q: %w", text, err)
		}
	default:
		// Enabled but no limit requested: nothing to change.
		return nil, nil
	}

	sharedKey := "gpu:" + device.slot
	if device.slot == "" {
		sharedKey = "gpu:" + filepath.Base(device.card)
	}
	return []Mutation{{
		Kind:      KindGPUPower,
		Path:      filepath.Join(device.capDir, "power1_cap"),
		Desired:   strconv.FormatInt(desiredMicrowatts, 10),
		SharedKey: sharedKey,
	}}, nil
}

func (e *GPUExecutor) Apply(mutation Mutation) (Record, error) {
	// Unlike EPP there is no sane fallback for a power cap, so an
	// unreadable prior fails the apply rather than risking a restore
	// to a made-up wattage.
	prior, err := readValue(mutation.Path)
	if err != nil {
		return Record{}, fmt.Errorf("reading prior power cap: %w", err)
	}
	if err := writeValue(mutation.Path, mutation.Desired); err != nil {
		return Record{}, err
	}
	return Record{Mutation: mutation, Prior: prior}, nil
}

func (e *GPUExecutor) Restore(record Record) error {
	return writeValue(record.Path, record.Prior)
}

// find locates the GPU matching selector: a case-insensitive
// substring of the model name, or the exact device UUID. An empty
// selector takes the first card with a power cap.
func (e *GPUExecutor) find(selector string) (gpuDevice, error) {
	entries, err := filepath.Glob(filepath.Join(e.Root, "card*"))
	if err != nil {
		return gpuDevice{}, fmt.Errorf("enumerating drm cards: %w", err)
	}
	slices.Sort(entries)

	for _, card := range entries {
		if !cardPattern.MatchString(filepath.Base(card)) {
			continue
		}
		device, ok := e.describe(card)
		if !ok {
			continue
		}
		if matchesSelector(device, selector) {
			return device, nil
		}
	}
	return gpuDevice{}, &DeviceNotFoundError{Selector: selector}
}

func matchesSelector(device gpuDevice, selector string) bool {
	if selector == "" {
		return true
	}
	if device.uuid != "" && device.uuid == selector {
		return true
	}
	return device.name != "" &&
		strings.Contains(strings.ToLower(device.name), strings.ToLower(selector))
}

// describe reads a card's identity and locates its power cap. Cards
// without a writable cap (integrated GPUs, virtual outputs) report
// ok=false and are skipped.
func (e *GPUExecutor) describe(card string) (gpuDevice, bool) {
	deviceDir := filepath.Join(card, "device")

	hwmons, _ := filepath.Glob(filepath.Join(deviceDir, "hwmon", "hwmon*"))
	slices.Sort(hwmons)
	capDir := ""
	for _, hwmon := range hwmons {
		if _, err := readValue(filepath.Join(hwmon, "power1_cap")); err == nil {
			capDir = hwmon
			break
		}
	}
	if capDir == "" {
		return gpuDevice{}, false
	}

	device := gpuDevice{card: card, capDir: capDir}
	device.name, _ = readValue(filepath.Join(deviceDir, "product_name"))
	device.uuid, _ = readValue(filepath.Join(deviceDir, "uuid"))
	if uevent, err := readValue(filepath.Join(deviceDir, "uevent")); err == nil {
		for _, line := range strings.Split(uevent, "\n") {
			if slot, ok := strings.CutPrefix(line, "PCI_SLOT_NAME="); ok {
				device.slot = slot
			}
		}
	}
	return device, true
}
