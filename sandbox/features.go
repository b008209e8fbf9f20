// Copyright 2026 The Burrow Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Configuration faults for feature activation.
var (
	ErrUnknownFeature = errors.New("unknown feature")
	ErrFeatureCycle   = errors.New("feature dependency cycle")
)

// FeatureOptions carries per-feature parameters. Zero values select the
// defaults. The first activation of a feature fixes its parameters;
// options passed to later activations of the same feature are ignored, so
// callers that need non-default parameters must activate before anything
// that pulls the feature in as a dependency.
type FeatureOptions struct {
	// NoShaderCache disables binding the host shader caches when the gpu
	// feature is activated.
	NoShaderCache bool

	// NoHUD binds the overlay configuration without turning the overlay
	// on (hud feature).
	NoHUD bool

	// Locale is the locale name for the locale feature. Required there,
	// ignored elsewhere.
	Locale string
}

// Feature is a named bundle of bind and environment instructions
// representing one optional sandbox capability.
type Feature struct {
	// Name identifies the feature to Activate.
	Name string

	// Depends lists features activated first, in declaration order.
	Depends []string

	// Precondition, when set, is checked before anything is emitted.
	// A failing precondition aborts activation with zero instructions
	// appended, including those of dependencies.
	Precondition func(*Sandbox) error

	// Activate emits the feature's instructions.
	Activate func(*Sandbox, FeatureOptions) error
}

// FeatureGraph activates features at most once each, resolving declared
// dependencies depth-first. Activation is terminal: there is no way to
// deactivate a feature short of rebuilding the sandbox spec.
type FeatureGraph struct {
	sandbox  *Sandbox
	features map[string]*Feature
	active   map[string]bool
	visiting map[string]bool
}

// NewFeatureGraph creates a graph with the built-in feature set registered.
func NewFeatureGraph(s *Sandbox) *FeatureGraph {
	g := &FeatureGraph{
		sandbox:  s,
		features: make(map[string]*Feature),
		active:   make(map[string]bool),
		visiting: make(map[string]bool),
	}
	for _, f := range builtinFeatures() {
		g.features[f.Name] = f
	}
	return g
}

// Register adds a custom feature. Registering a name twice is a
// configuration fault.
func (g *FeatureGraph) Register(f *Feature) error {
	if f.Name == "" {
		return fmt.Errorf("feature name is required")
	}
	if _, ok := g.features[f.Name]; ok {
		return fmt.Errorf("feature %q already registered", f.Name)
	}
	g.features[f.Name] = f
	return nil
}

// Names returns the registered feature names.
func (g *FeatureGraph) Names() []string {
	names := make([]string, 0, len(g.features))
	for name := range g.features {
		names = append(names, name)
	}
	return names
}

// Active reports whether a feature has been activated.
func (g *FeatureGraph) Active(name string) bool { return g.active[name] }

// Activate enables a feature, activating its dependencies first. A second
// activation is a no-op regardless of opts.
func (g *FeatureGraph) Activate(name string, opts FeatureOptions) error {
	f, ok := g.features[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFeature, name)
	}
	if g.active[name] {
		g.sandbox.logger.Debug("feature already enabled, skipping", "feature", name)
		return nil
	}
	if g.visiting[name] {
		return fmt.Errorf("%w: %q", ErrFeatureCycle, name)
	}
	if f.Precondition != nil {
		if err := f.Precondition(g.sandbox); err != nil {
			return fmt.Errorf("feature %q: %w", name, err)
		}
	}

	g.visiting[name] = true
	for _, dep := range f.Depends {
		if err := g.Activate(dep, FeatureOptions{}); err != nil {
			delete(g.visiting, name)
			return err
		}
	}
	delete(g.visiting, name)

	g.active[name] = true
	g.sandbox.logger.Info("enabled feature", "feature", name)
	if f.Activate == nil {
		return nil
	}
	return f.Activate(g.sandbox, opts)
}

// builtinFeatures returns the standard capability bundles.
func builtinFeatures() []*Feature {
	return []*Feature{
		{
			Name:     "dbus",
			Activate: featureDbus,
		},
		{
			Name:     "gpu",
			Activate: featureGPU,
		},
		{
			Name:     "x11",
			Depends:  []string{"gpu"},
			Activate: featureX11,
		},
		{
			Name:     "wayland",
			Depends:  []string{"gpu"},
			Activate: featureWayland,
		},
		{
			Name:     "audio",
			Activate: featureAudio,
		},
		{
			Name:         "nvidia",
			Depends:      []string{"gpu"},
			Precondition: nvidiaPresent,
			Activate:     featureNvidia,
		},
		{
			Name:    "desktop",
			Depends: []string{"wayland", "x11", "audio"},
		},
		{
			Name:     "hud",
			Depends:  []string{"gpu", "wayland", "x11"},
			Activate: featureHUD,
		},
		{
			Name:     "locale",
			Activate: featureLocale,
		},
	}
}

// globSpecs expands glob patterns into bind specs, preserving pattern
// order. Patterns that match nothing contribute nothing.
func globSpecs(patterns ...string) []BindSpec {
	var specs []BindSpec
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, match := range matches {
			specs = append(specs, BindSpec{Source: match})
		}
	}
	return specs
}

func featureDbus(s *Sandbox, _ FeatureOptions) error {
	if err := s.builder.BindAll([]BindSpec{
		{Source: "/run/dbus"},
		{Source: filepath.Join(s.runtimeDir, "bus")},
	}, BindOptions{Mode: ReadWrite}); err != nil {
		return err
	}
	s.env.Keep("DBUS_SESSION_BUS_ADDRESS")
	return nil
}

func featureGPU(s *Sandbox, opts FeatureOptions) error {
	specs := append([]BindSpec{{Source: "/dev/dri"}}, globSpecs("/dev/nvidia*")...)
	if err := s.builder.BindAll(specs, BindOptions{Mode: Device}); err != nil {
		return err
	}
	s.env.Keep("__GL_THREADED_OPTIMIZATION")

	if opts.NoShaderCache {
		return nil
	}
	return s.builder.BindAll([]BindSpec{
		{Source: filepath.Join(s.hostCacheHome, "mesa_shader_cache")},
		{Source: filepath.Join(s.hostCacheHome, "radv_builtin_shaders64")},
		{Source: filepath.Join(s.hostCacheHome, "nv")},
		{Source: filepath.Join(s.hostCacheHome, "nvidia")},
	}, BindOptions{Mode: ReadWrite})
}

func featureX11(s *Sandbox, _ FeatureOptions) error {
	specs := []BindSpec{
		{Source: "/tmp/.X11-unix"},
		{Source: "/tmp/.ICE-unix"},
		{Source: filepath.Join(s.resolver.HostHome(), ".Xauthority")},
	}
	specs = append(specs, globSpecs(filepath.Join(s.runtimeDir, "ICE*"))...)
	if err := s.builder.BindAll(specs, BindOptions{Mode: ReadWrite}); err != nil {
		return err
	}
	s.env.Keep("DISPLAY", "XAUTHORITY")
	return nil
}

func featureWayland(s *Sandbox, _ FeatureOptions) error {
	specs := globSpecs(filepath.Join(s.runtimeDir, "wayland*"))
	if err := s.builder.BindAll(specs, BindOptions{Mode: ReadWrite}); err != nil {
		return err
	}
	s.env.Set(map[string]string{
		"QT_QPA_PLATFORM":             "wayland:xcb",
		"MOZ_ENABLE_WAYLAND":          "1",
		"GDK_BACKEND":                 "wayland",
		"_JAVA_AWT_WM_NONREPARENTING": "1",
	})
	s.env.Keep("WAYLAND_DISPLAY")
	return nil
}

func featureAudio(s *Sandbox, _ FeatureOptions) error {
	specs := globSpecs(
		filepath.Join(s.runtimeDir, "pulse*"),
		filepath.Join(s.runtimeDir, "pipewire*"),
	)
	specs = append(specs, BindSpec{Source: "/dev/snd", Mode: Device})
	return s.builder.BindAll(specs, BindOptions{Mode: ReadWrite})
}

// nvidiaDevice is the control node that must exist for vendor-preferential
// routing to make sense.
const nvidiaDevice = "/dev/nvidiactl"

func nvidiaPresent(s *Sandbox) error {
	if !s.probe(nvidiaDevice) {
		return fmt.Errorf("nvidia gpu not present on host (missing %s)", nvidiaDevice)
	}
	return nil
}

func featureNvidia(s *Sandbox, _ FeatureOptions) error {
	s.logger.Info("preferring nvidia gpu")
	s.env.Set(map[string]string{
		"__NV_PRIME_RENDER_OFFLOAD": "1",
		"__GLX_VENDOR_LIBRARY_NAME": "nvidia",
		"__VK_LAYER_NV_optimus":     "NVIDIA_only",
		"VK_DRIVER_FILES":           "/usr/share/vulkan/icd.d/nvidia_icd.json",
	})
	return nil
}

func featureHUD(s *Sandbox, opts FeatureOptions) error {
	if err := s.builder.Bind(
		filepath.Join(s.resolver.HostHome(), ".config/MangoHud"),
		BindOptions{},
	); err != nil {
		return err
	}
	if !opts.NoHUD {
		s.env.Set(map[string]string{"MANGOHUD": "1"})
	}
	return nil
}

func featureLocale(s *Sandbox, opts FeatureOptions) error {
	if opts.Locale == "" {
		return fmt.Errorf("locale feature requires a locale name")
	}
	s.logger.Info("overriding locale", "locale", opts.Locale)
	s.env.Set(map[string]string{"LANG": opts.Locale})
	content := fmt.Sprintf("LANG=%s\nLC_TIME=%s\n", opts.Locale, opts.Locale)
	return s.builder.BindData([]byte(content), "/etc/locale.conf", FileOptions{})
}
