// Copyright 2026 The Burrow Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Preset is a named, reusable sandbox configuration: which features to
// activate, which extra paths to bind, and which environment to compose.
// Presets support single inheritance via Inherit.
type Preset struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Inherit     string            `yaml:"inherit,omitempty"`
	Features    []string          `yaml:"features,omitempty"`
	Locale      string            `yaml:"locale,omitempty"`
	Binds       []string          `yaml:"binds,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	KeepEnv     []string          `yaml:"keep_env,omitempty"`
	UnshareNet  bool              `yaml:"unshare_net,omitempty"`
	Command     []string          `yaml:"command,omitempty"`
}

// ParseBindSpec parses an ad-hoc bind in the form "src[:dest[:mode]]"
// where mode is one of r, w, or d. Dest defaults to src; mode defaults
// to read-only.
func ParseBindSpec(spec string) (BindSpec, error) {
	parts := strings.Split(spec, ":")
	if len(parts) > 3 || parts[0] == "" {
		return BindSpec{}, fmt.Errorf("invalid bind spec %q: must be src[:dest[:mode]]", spec)
	}

	bind := BindSpec{Source: parts[0]}
	if len(parts) >= 2 && parts[1] != "" {
		bind.Dest = parts[1]
	}
	if len(parts) == 3 {
		switch parts[2] {
		case "r":
			bind.Mode = ReadOnly
		case "w":
			bind.Mode = ReadWrite
		case "d":
			bind.Mode = Device
		default:
			return BindSpec{}, fmt.Errorf("invalid bind mode %q in %q: must be r, w, or d", parts[2], spec)
		}
	}
	return bind, nil
}

// Clone creates a deep copy of the preset.
func (p *Preset) Clone() *Preset {
	clone := &Preset{
		Name:        p.Name,
		Description: p.Description,
		Inherit:     p.Inherit,
		Locale:      p.Locale,
		UnshareNet:  p.UnshareNet,
	}
	if p.Features != nil {
		clone.Features = append([]string(nil), p.Features...)
	}
	if p.Binds != nil {
		clone.Binds = append([]string(nil), p.Binds...)
	}
	if p.KeepEnv != nil {
		clone.KeepEnv = append([]string(nil), p.KeepEnv...)
	}
	if p.Command != nil {
		clone.Command = append([]string(nil), p.Command...)
	}
	if p.Env != nil {
		clone.Env = make(map[string]string, len(p.Env))
		for k, v := range p.Env {
			clone.Env[k] = v
		}
	}
	return clone
}

// MergePresets merges child settings into parent. Feature lists union in
// order (parent first), binds append (later binds may shadow earlier
// ones), env maps merge with child winning.
func MergePresets(parent, child *Preset) *Preset {
	result := parent.Clone()
	result.Name = child.Name
	result.Inherit = ""

	if child.Description != "" {
		result.Description = child.Description
	}
	if child.Locale != "" {
		result.Locale = child.Locale
	}
	if child.UnshareNet {
		result.UnshareNet = true
	}

	seen := make(map[string]bool, len(result.Features))
	for _, f := range result.Features {
		seen[f] = true
	}
	for _, f := range child.Features {
		if !seen[f] {
			result.Features = append(result.Features, f)
			seen[f] = true
		}
	}

	result.Binds = append(result.Binds, child.Binds...)
	result.KeepEnv = append(result.KeepEnv, child.KeepEnv...)

	if len(child.Env) > 0 {
		if result.Env == nil {
			result.Env = make(map[string]string)
		}
		for k, v := range child.Env {
			result.Env[k] = v
		}
	}

	if len(child.Command) > 0 {
		result.Command = append([]string(nil), child.Command...)
	}

	return result
}

// Validate checks that a preset is well-formed.
func (p *Preset) Validate() error {
	var errs []string
	if p.Name == "" {
		errs = append(errs, "name is required")
	}
	for i, spec := range p.Binds {
		if _, err := ParseBindSpec(spec); err != nil {
			errs = append(errs, fmt.Sprintf("binds[%d]: %v", i, err))
		}
	}
	for i, f := range p.Features {
		if f == "locale" {
			errs = append(errs, fmt.Sprintf("features[%d]: set the locale field instead of listing the locale feature", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("preset %q validation failed:\n  %s", p.Name, strings.Join(errs, "\n  "))
	}
	return nil
}

// Apply activates the preset's features and records its binds and
// environment on the sandbox, in that order.
func (p *Preset) Apply(s *Sandbox) error {
	for _, name := range p.Features {
		if err := s.Activate(name, FeatureOptions{}); err != nil {
			return fmt.Errorf("preset %q: %w", p.Name, err)
		}
	}
	if p.Locale != "" {
		if err := s.Activate("locale", FeatureOptions{Locale: p.Locale}); err != nil {
			return fmt.Errorf("preset %q: %w", p.Name, err)
		}
	}
	for _, spec := range p.Binds {
		bind, err := ParseBindSpec(spec)
		if err != nil {
			return fmt.Errorf("preset %q: %w", p.Name, err)
		}
		if err := s.Bind(bind.Source, bind.options()); err != nil {
			return fmt.Errorf("preset %q: %w", p.Name, err)
		}
	}
	if len(p.Env) > 0 {
		s.Env().Set(p.Env)
	}
	if len(p.KeepEnv) > 0 {
		s.Env().Keep(p.KeepEnv...)
	}
	return nil
}

// PresetsConfig is the top-level structure of a presets YAML file.
type PresetsConfig struct {
	Presets map[string]*Preset `yaml:"presets"`
}

// ParsePresetsConfig parses presets from YAML bytes and fills in each
// preset's Name from its map key.
func ParsePresetsConfig(data []byte) (*PresetsConfig, error) {
	var config PresetsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	for name, preset := range config.Presets {
		if preset == nil {
			config.Presets[name] = &Preset{Name: name}
			continue
		}
		preset.Name = name
	}
	return &config, nil
}

// LoadPresetsConfig loads presets from a YAML file.
func LoadPresetsConfig(path string) (*PresetsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets file: %w", err)
	}
	return ParsePresetsConfig(data)
}

// defaultPresetsYAML is the built-in preset set.
const defaultPresetsYAML = `
presets:
  minimal:
    description: Base system only, no optional capabilities.

  desktop:
    description: Graphical session with display, audio, and message bus.
    features: [desktop, dbus]

  gaming:
    description: Desktop plus performance overlay.
    inherit: desktop
    features: [hud]
    keep_env: [STEAM_RUNTIME]
`

// PresetLoader loads and resolves presets with inheritance. Later-loaded
// sources override earlier ones by name.
type PresetLoader struct {
	configs  []*PresetsConfig
	resolved map[string]*Preset
	logger   *slog.Logger
}

// NewPresetLoader creates an empty loader.
func NewPresetLoader() *PresetLoader {
	return &PresetLoader{
		configs:  make([]*PresetsConfig, 0),
		resolved: make(map[string]*Preset),
	}
}

// SetLogger enables verbose logging during preset loading.
func (l *PresetLoader) SetLogger(logger *slog.Logger) {
	l.logger = logger
}

func (l *PresetLoader) log(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Info(msg, args...)
	}
}

// LoadDefaults loads the built-in presets.
func (l *PresetLoader) LoadDefaults() error {
	config, err := ParsePresetsConfig([]byte(defaultPresetsYAML))
	if err != nil {
		return fmt.Errorf("parse default presets: %w", err)
	}
	l.configs = append(l.configs, config)
	l.log("loaded default presets", "count", len(config.Presets))
	return nil
}

// LoadFile loads presets from a YAML file.
func (l *PresetLoader) LoadFile(path string) error {
	config, err := LoadPresetsConfig(path)
	if err != nil {
		return err
	}
	l.configs = append(l.configs, config)
	l.log("loaded presets from file", "path", path, "count", len(config.Presets))
	return nil
}

// LoadDirectory loads all YAML files from a directory. A missing
// directory is not an error.
func (l *PresetLoader) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read presets directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := l.LoadFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Names returns the sorted names of all known presets.
func (l *PresetLoader) Names() []string {
	seen := make(map[string]bool)
	for _, config := range l.configs {
		for name := range config.Presets {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve resolves a preset by name, applying inheritance.
func (l *PresetLoader) Resolve(name string) (*Preset, error) {
	return l.resolve(name, make(map[string]bool))
}

func (l *PresetLoader) resolve(name string, visiting map[string]bool) (*Preset, error) {
	if preset, ok := l.resolved[name]; ok {
		return preset, nil
	}
	if visiting[name] {
		return nil, fmt.Errorf("preset inheritance cycle at %q", name)
	}
	visiting[name] = true

	var base *Preset
	for _, config := range l.configs {
		if preset, ok := config.Presets[name]; ok {
			base = preset
		}
	}
	if base == nil {
		return nil, fmt.Errorf("preset not found: %s", name)
	}

	resolved := base.Clone()
	if base.Inherit != "" {
		parent, err := l.resolve(base.Inherit, visiting)
		if err != nil {
			return nil, fmt.Errorf("resolve parent of %q: %w", name, err)
		}
		resolved = MergePresets(parent, base)
	}

	if err := resolved.Validate(); err != nil {
		return nil, err
	}

	l.resolved[name] = resolved
	l.log("resolved preset", "name", name, "features", resolved.Features)
	return resolved, nil
}
