// Copyright 2026 The Burrow Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
)

// testSandbox builds a sandbox with a fixed identity and no dependence on
// the host environment beyond glob-expanded feature binds.
func testSandbox(t *testing.T, cfg Config) *Sandbox {
	t.Helper()
	if cfg.User == "" {
		cfg.User = "sandboxuser"
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "testbox"
	}
	if cfg.HostHome == "" {
		cfg.HostHome = "/home/alice"
	}
	if cfg.HostCwd == "" {
		cfg.HostCwd = "/home/alice/work"
	}
	if cfg.LookupEnv == nil {
		cfg.LookupEnv = lookupFrom(map[string]string{"SHELL": "/usr/bin/zsh"})
	}
	if cfg.Probe == nil {
		cfg.Probe = func(string) bool { return true }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Builder().Close() })
	return s
}

// markerFeature appends a recognizable setenv when activated.
func markerFeature(name string, depends ...string) *Feature {
	return &Feature{
		Name:    name,
		Depends: depends,
		Activate: func(s *Sandbox, _ FeatureOptions) error {
			s.Builder().Append("--setenv", "FEATURE_"+strings.ToUpper(name), "1")
			return nil
		},
	}
}

func TestActivateIdempotent(t *testing.T) {
	s := testSandbox(t, Config{})
	if err := s.Features().Register(markerFeature("marker")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.Activate("marker", FeatureOptions{}); err != nil {
		t.Fatalf("first activation: %v", err)
	}
	first := len(s.Args())
	if err := s.Activate("marker", FeatureOptions{}); err != nil {
		t.Fatalf("second activation: %v", err)
	}
	if len(s.Args()) != first {
		t.Errorf("second activation appended %d instructions, want 0",
			len(s.Args())-first)
	}
	if !s.Features().Active("marker") {
		t.Error("marker not reported active")
	}
}

func TestActivateDependencyOrder(t *testing.T) {
	s := testSandbox(t, Config{})
	g := s.Features()
	for _, f := range []*Feature{
		markerFeature("base"),
		markerFeature("mid", "base"),
		markerFeature("top", "mid", "base"),
	} {
		if err := g.Register(f); err != nil {
			t.Fatalf("Register %s: %v", f.Name, err)
		}
	}

	before := len(s.Args())
	if err := s.Activate("top", FeatureOptions{}); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	want := []string{
		"--setenv", "FEATURE_BASE", "1",
		"--setenv", "FEATURE_MID", "1",
		"--setenv", "FEATURE_TOP", "1",
	}
	if got := s.Args()[before:]; !reflect.DeepEqual(got, want) {
		t.Errorf("appended = %v, want %v", got, want)
	}
}

func TestActivateUnknown(t *testing.T) {
	s := testSandbox(t, Config{})
	err := s.Activate("teleport", FeatureOptions{})
	if !errors.Is(err, ErrUnknownFeature) {
		t.Errorf("err = %v, want ErrUnknownFeature", err)
	}
}

func TestActivateCycle(t *testing.T) {
	s := testSandbox(t, Config{})
	g := s.Features()
	if err := g.Register(&Feature{Name: "ping", Depends: []string{"pong"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := g.Register(&Feature{Name: "pong", Depends: []string{"ping"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	err := s.Activate("ping", FeatureOptions{})
	if !errors.Is(err, ErrFeatureCycle) {
		t.Errorf("err = %v, want ErrFeatureCycle", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	s := testSandbox(t, Config{})
	if err := s.Features().Register(&Feature{Name: "gpu"}); err == nil {
		t.Error("registering a builtin name succeeded, want error")
	}
}

func TestNvidiaDeviceAbsent(t *testing.T) {
	s := testSandbox(t, Config{
		Probe: func(string) bool { return false },
	})

	before := len(s.Args())
	err := s.Activate("nvidia", FeatureOptions{})
	if err == nil {
		t.Fatal("activation succeeded without the control device")
	}
	if got := len(s.Args()) - before; got != 0 {
		t.Errorf("failed activation appended %d instructions, want 0", got)
	}
	if s.Features().Active("nvidia") {
		t.Error("nvidia reported active after failed precondition")
	}
	if s.Features().Active("gpu") {
		t.Error("gpu activated despite failed nvidia precondition")
	}
}

func TestNvidiaDevicePresent(t *testing.T) {
	s := testSandbox(t, Config{})

	if err := s.Activate("nvidia", FeatureOptions{}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !s.Features().Active("gpu") {
		t.Error("gpu dependency not activated")
	}

	joined := strings.Join(s.Args(), " ")
	for _, want := range []string{
		"--setenv __GLX_VENDOR_LIBRARY_NAME nvidia",
		"--setenv __NV_PRIME_RENDER_OFFLOAD 1",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q", want)
		}
	}
}

func TestDesktopAggregate(t *testing.T) {
	s := testSandbox(t, Config{})

	if err := s.Activate("desktop", FeatureOptions{}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	for _, name := range []string{"desktop", "wayland", "x11", "audio", "gpu"} {
		if !s.Features().Active(name) {
			t.Errorf("feature %q not active", name)
		}
	}
}

func TestLocaleFirstParametersWin(t *testing.T) {
	s := testSandbox(t, Config{})

	if err := s.Activate("locale", FeatureOptions{Locale: "en_US.UTF-8"}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := s.Activate("locale", FeatureOptions{Locale: "de_DE.UTF-8"}); err != nil {
		t.Fatalf("second Activate: %v", err)
	}

	joined := strings.Join(s.Args(), " ")
	if !strings.Contains(joined, "--setenv LANG en_US.UTF-8") {
		t.Error("first locale not applied")
	}
	if strings.Contains(joined, "de_DE.UTF-8") {
		t.Error("second locale applied despite prior activation")
	}
}

func TestLocaleRequiresName(t *testing.T) {
	s := testSandbox(t, Config{})
	if err := s.Activate("locale", FeatureOptions{}); err == nil {
		t.Error("activation without a locale name succeeded")
	}
}

func TestGPUShaderCacheOptOut(t *testing.T) {
	s := testSandbox(t, Config{
		LookupEnv: lookupFrom(map[string]string{"XDG_CACHE_HOME": "/home/alice/.cache"}),
	})

	if err := s.Activate("gpu", FeatureOptions{NoShaderCache: true}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	joined := strings.Join(s.Args(), " ")
	if strings.Contains(joined, "mesa_shader_cache") {
		t.Error("shader cache bound despite opt-out")
	}
}

func TestNames(t *testing.T) {
	s := testSandbox(t, Config{})
	names := s.Features().Names()
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	for _, want := range []string{"dbus", "gpu", "x11", "wayland", "audio", "nvidia", "desktop", "hud", "locale"} {
		if !set[want] {
			t.Errorf("builtin %q missing from Names", want)
		}
	}
}
