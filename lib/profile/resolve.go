// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// cpuOverride mirrors CPUSettings with pointer fields so a target
// section can distinguish "unset, inherit from base" from an explicit
// zero value. The other override types follow the same pattern.
type cpuOverride struct {
	Enabled   *bool   `yaml:"enabled"`
	EPPActive *string `yaml:"epp_active"`
	EPPIdle   *string `yaml:"epp_idle"`
}

type gpuOverride struct {
	Enabled              *bool   `yaml:"enabled"`
	Device               *string `yaml:"device"`
	ForceMaxPower        *bool   `yaml:"force_max_power"`
	PowerLimitMilliwatts *int    `yaml:"power_limit_mw"`
}

type processOverride struct {
	Enabled    *bool `yaml:"enabled"`
	IOPriority *int  `yaml:"io_priority"`
	Nice       *int  `yaml:"nice"`

	// MitigationFlags replaces the base list wholesale when present;
	// per-flag merging would make "this target relaxes nothing" hard
	// to express.
	MitigationFlags *[]string `yaml:"mitigation_flags"`
}

type hooksOverride struct {
	OnStart *string `yaml:"on_start"`
	OnEnd   *string `yaml:"on_end"`
}

// targetOverride is one "target.<id>" section: any subset of the base
// sections, each any subset of its fields.
type targetOverride struct {
	CPU     cpuOverride     `yaml:"cpu"`
	GPU     gpuOverride     `yaml:"gpu"`
	Process processOverride `yaml:"process"`
	Hooks   hooksOverride   `yaml:"hooks"`
}

// Document is a parsed profile file. It is immutable after Parse;
// Resolve derives per-target effective settings from it.
type Document struct {
	base      Effective
	targets   map[string]targetOverride
	envGroups map[string]map[string]string
}

// Load reads and parses the profile document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	return Parse(data)
}

// Parse parses a profile document. Unknown top-level sections become
// environment groups; anything structurally wrong anywhere in the
// document fails the whole parse with a ConfigError.
func Parse(data []byte) (*Document, error) {
	document := &Document{
		base:      defaults(),
		targets:   make(map[string]targetOverride),
		envGroups: make(map[string]map[string]string),
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &ConfigError{Msg: err.Error()}
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		// Empty document: pure defaults.
		return document, nil
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, &ConfigError{Msg: "top level must be a mapping"}
	}

	seen := make(map[string]bool)
	for index := 0; index+1 < len(top.Content); index += 2 {
		keyNode, valueNode := top.Content[index], top.Content[index+1]
		section := keyNode.Value
		if seen[section] {
			return nil, &ConfigError{Section: section, Msg: "section appears twice"}
		}
		seen[section] = true

		var err error
		switch {
		case section == "cpu":
			err = decodeSection(section, valueNode, &document.base.CPU)
		case section == "gpu":
			err = decodeSection(section, valueNode, &document.base.GPU)
		case section == "process":
			err = decodeSection(section, valueNode, &document.base.Process)
		case section == "hooks":
			err = decodeSection(section, valueNode, &document.base.Hooks)
		case strings.HasPrefix(section, "target."):
			id := strings.TrimPrefix(section, "target.")
			if id == "" {
				return nil, &ConfigError{Section: section, Msg: "empty target identifier"}
			}
			var override targetOverride
			if err = decodeSection(section, valueNode, &override); err == nil {
				document.targets[id] = override
			}
		default:
			var group map[string]string
			group, err = decodeEnvGroup(section, valueNode)
			if err == nil {
				document.envGroups[section] = group
			}
		}
		if err != nil {
			return nil, err
		}
	}

	if err := validate("", document.base); err != nil {
		return nil, err
	}
	return document, nil
}

// Resolve merges the base sections with the overrides for target (an
// already-normalized identifier, matched exactly) and returns the
// effective settings. A target with no override section resolves to
// the base profile; that is not an error.
func (d *Document) Resolve(target string) (Effective, error) {
	effective := d.base
	effective.Target = target
	effective.EnvGroups = d.envGroups

	override, ok := d.targets[target]
	if ok {
		mergeCPU(&effective.CPU, override.CPU)
		mergeGPU(&effective.GPU, override.GPU)
		mergeProcess(&effective.Process, override.Process)
		mergeHooks(&effective.Hooks, override.Hooks)
	}

	if err := validate(target, effective); err != nil {
		return Effective{}, err
	}
	return effective, nil
}

func mergeCPU(base *CPUSettings, override cpuOverride) {
	if override.Enabled != nil {
		base.Enabled = *override.Enabled
	}
	if override.EPPActive != nil {
		base.EPPActive = *override.EPPActive
	}
	if override.EPPIdle != nil {
		base.EPPIdle = *override.EPPIdle
	}
}

func mergeGPU(base *GPUSettings, override gpuOverride) {
	if override.Enabled != nil {
		base.Enabled = *override.Enabled
	}
	if override.Device != nil {
		base.Device = *override.Device
	}
	if override.ForceMaxPower != nil {
		base.ForceMaxPower = *override.ForceMaxPower
	}
	if override.PowerLimitMilliwatts != nil {
		base.PowerLimitMilliwatts = override.PowerLimitMilliwatts
	}
}

func mergeProcess(base *ProcessSettings, override processOverride) {
	if override.Enabled != nil {
		base.Enabled = *override.Enabled
	}
	if override.IOPriority != nil {
		base.IOPriority = *override.IOPriority
	}
	if override.Nice != nil {
		base.Nice = *override.Nice
	}
	if override.MitigationFlags != nil {
		base.MitigationFlags = *override.MitigationFlags
	}
}

func mergeHooks(base *Hooks, override hooksOverride) {
	if override.OnStart != nil {
		base.OnStart = *override.OnStart
	}
	if override.OnEnd != nil {
		base.OnEnd = *override.OnEnd
	}
}

// validate checks the merged settings for values that would be
// rejected (or worse, misinterpreted) by the kernel interfaces they
// feed. target qualifies the error when the bad value came in through
// an override.
func validate(target string, effective Effective) error {
	section := func(name string) string {
		if target == "" {
			return name
		}
		return "target." + target + "/" + name
	}

	if !validEPPHints[effective.CPU.EPPActive] {
		return &ConfigError{Section: section("cpu"), Field: "epp_active",
			Msg: fmt.Sprintf("unknown EPP hint %q", effective.CPU.EPPActive)}
	}
	if !validEPPHints[effective.CPU.EPPIdle] {
		return &ConfigError{Section: section("cpu"), Field: "epp_idle",
			Msg: fmt.Sprintf("unknown EPP hint %q", effective.CPU.EPPIdle)}
	}
	if limit := effective.GPU.PowerLimitMilliwatts; limit != nil && *limit <= 0 {
		return &ConfigError{Section: section("gpu"), Field: "power_limit_mw",
			Msg: fmt.Sprintf("must be positive, got %d", *limit)}
	}
	if priority := effective.Process.IOPriority; priority < 0 || priority > 7 {
		return &ConfigError{Section: section("process"), Field: "io_priority",
			Msg: fmt.Sprintf("must be in 0..7, got %d", priority)}
	}
	if nice := effective.Process.Nice; nice < -20 || nice > 19 {
		return &ConfigError{Section: section("process"), Field: "nice",
			Msg: fmt.Sprintf("must be in -20..19, got %d", nice)}
	}
	return nil
}

func decodeSection(section string, node *yaml.Node, destination any) error {
	if node.Kind != yaml.MappingNode {
		return &ConfigError{Section: section, Msg: "must be a mapping"}
	}
	if err := node.Decode(destination); err != nil {
		return &ConfigError{Section: section, Msg: err.Error()}
	}
	return nil
}

func decodeEnvGroup(section string, node *yaml.Node) (map[string]string, error) {
	if node.Kind != yaml.MappingNode {
		return nil, &ConfigError{Section: section, Msg: "environment group must be a mapping"}
	}
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return nil, &ConfigError{Section: section, Msg: err.Error()}
	}
	group := make(map[string]string, len(raw))
	for name, value := range raw {
		text, ok := envValueString(value)
		if !ok {
			return nil, &ConfigError{Section: section, Field: name,
				Msg: fmt.Sprintf("value of type %T cannot be an environment variable", value)}
		}
		group[name] = text
	}
	return group, nil
}
