// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"fmt"
	"strconv"
	"strings"
)

// EPP hint values accepted by the amd_pstate and intel_pstate cpufreq
// drivers. Anything else in a profile is a ConfigError rather than a
// silent passthrough, so a typo never reaches sysfs.
var validEPPHints = map[string]bool{
	"performance":         true,
	"balance_performance": true,
	"default":             true,
	"balance_power":       true,
	"power":               true,
}

// CPUSettings biases the CPU energy-performance-preference hint while
// a session is active.
type CPUSettings struct {
	Enabled bool `yaml:"enabled" cbor:"enabled"`

	// EPPActive is the hint installed while the session runs.
	EPPActive string `yaml:"epp_active" cbor:"epp_active"`

	// EPPIdle is the fallback restore value used only when the prior
	// hint could not be read at apply time. The normal restore path
	// writes back the captured prior, which may well differ from this.
	EPPIdle string `yaml:"epp_idle" cbor:"epp_idle"`
}

// GPUSettings raises or pins the GPU power cap while a session is
// active.
type GPUSettings struct {
	Enabled bool `yaml:"enabled" cbor:"enabled"`

	// Device selects the GPU by model-name substring or exact UUID.
	// Empty selects the first GPU with a writable power cap.
	Device string `yaml:"device" cbor:"device,omitempty"`

	// ForceMaxPower installs the device's maximum supported power cap.
	ForceMaxPower bool `yaml:"force_max_power" cbor:"force_max_power"`

	// PowerLimitMilliwatts installs an explicit cap. When both this
	// and ForceMaxPower are set, the explicit limit wins.
	PowerLimitMilliwatts *int `yaml:"power_limit_mw" cbor:"power_limit_mw,omitempty"`
}

// ProcessSettings adjusts the target process's scheduling once the
// daemon has confirmed it is running.
type ProcessSettings struct {
	Enabled bool `yaml:"enabled" cbor:"enabled"`

	// IOPriority is the best-effort I/O priority level, 0 (highest)
	// through 7 (lowest).
	IOPriority int `yaml:"io_priority" cbor:"io_priority"`

	// Nice is the CPU nice value, -20 through 19.
	Nice int `yaml:"nice" cbor:"nice"`

	// MitigationFlags names machine-level mitigations to relax for the
	// session. Recognized: "split_lock". Unrecognized flags are
	// skipped with a warning.
	MitigationFlags []string `yaml:"mitigation_flags" cbor:"mitigation_flags,omitempty"`
}

// Hooks are shell commands the launcher runs around the target, with
// the launcher's unprivileged identity — never the daemon's.
type Hooks struct {
	OnStart string `yaml:"on_start" cbor:"on_start,omitempty"`
	OnEnd   string `yaml:"on_end" cbor:"on_end,omitempty"`
}

// Effective is the fully resolved profile for one target: base
// sections merged with the target's overrides, plus all environment
// groups passed through verbatim. This is what the launcher sends to
// the daemon in a start-session request.
type Effective struct {
	Target  string          `cbor:"target"`
	CPU     CPUSettings     `cbor:"cpu"`
	GPU     GPUSettings     `cbor:"gpu"`
	Process ProcessSettings `cbor:"process"`
	Hooks   Hooks           `cbor:"hooks"`

	// EnvGroups maps group name to environment variables. Groups are
	// inert until the launcher selects them; they never cross the IPC
	// boundary into the daemon's own environment.
	EnvGroups map[string]map[string]string `cbor:"env_groups,omitempty"`
}

// defaults returns the built-in base profile. Tuning is opt-in: every
// section starts disabled and a profile document enables what it
// wants.
func defaults() Effective {
	return Effective{
		CPU: CPUSettings{
			EPPActive: "performance",
			EPPIdle:   "balance_performance",
		},
		Process: ProcessSettings{
			IOPriority: 4,
		},
	}
}

// ConfigError reports a structurally invalid profile document. Section
// and Field name the offending location so the user can fix the file
// without reading daemon source.
type ConfigError struct {
	Section string
	Field   string
	Msg     string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("profile: section %q, field %q: %s", e.Section, e.Field, e.Msg)
	}
	if e.Section != "" {
		return fmt.Sprintf("profile: section %q: %s", e.Section, e.Msg)
	}
	return "profile: " + e.Msg
}

// Normalize converts an executable name or path into the canonical
// target identifier used for profile lookup: the final path element
// (either separator style, since Proton targets arrive with Windows
// paths), lower-cased, with the file extension removed. The result is
// an exact key — lookup never falls back to fuzzy matching.
func Normalize(name string) string {
	base := name
	if index := strings.LastIndexAny(base, `/\`); index >= 0 {
		base = base[index+1:]
	}
	if dot := strings.LastIndex(base, "."); dot > 0 {
		base = base[:dot]
	}
	return strings.ToLower(base)
}

// envValueString renders a YAML scalar from an environment group as
// the string handed to the child process. Booleans become "1"/"0"
// because that is what game launch options conventionally expect.
func envValueString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case bool:
		if v {
			return "1", true
		}
		return "0", true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), true
	default:
		return "", false
	}
}
