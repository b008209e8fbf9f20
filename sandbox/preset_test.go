// Copyright 2026 The Burrow Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseBindSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    BindSpec
		wantErr bool
	}{
		{
			name: "source only",
			spec: "/opt/data",
			want: BindSpec{Source: "/opt/data"},
		},
		{
			name: "source and dest",
			spec: "/opt/data:/srv/data",
			want: BindSpec{Source: "/opt/data", Dest: "/srv/data"},
		},
		{
			name: "writable",
			spec: "/opt/data:/srv/data:w",
			want: BindSpec{Source: "/opt/data", Dest: "/srv/data", Mode: ReadWrite},
		},
		{
			name: "device",
			spec: "/dev/ttyUSB0::d",
			want: BindSpec{Source: "/dev/ttyUSB0", Mode: Device},
		},
		{
			name: "explicit read-only",
			spec: "/opt/data::r",
			want: BindSpec{Source: "/opt/data", Mode: ReadOnly},
		},
		{
			name:    "empty source",
			spec:    ":/srv/data",
			wantErr: true,
		},
		{
			name:    "bad mode",
			spec:    "/opt/data::x",
			wantErr: true,
		},
		{
			name:    "too many parts",
			spec:    "/a:/b:r:extra",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBindSpec(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseBindSpec(%q) succeeded, want error", tt.spec)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBindSpec(%q): %v", tt.spec, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseBindSpec(%q) = %+v, want %+v", tt.spec, got, tt.want)
			}
		})
	}
}

func TestMergePresets(t *testing.T) {
	parent := &Preset{
		Name:     "base",
		Features: []string{"gpu", "audio"},
		Binds:    []string{"/opt/base"},
		Env:      map[string]string{"A": "parent", "B": "parent"},
		KeepEnv:  []string{"TERM"},
		Command:  []string{"sh"},
	}
	child := &Preset{
		Name:       "app",
		Inherit:    "base",
		Features:   []string{"audio", "dbus"},
		Binds:      []string{"/opt/app"},
		Env:        map[string]string{"B": "child", "C": "child"},
		KeepEnv:    []string{"LANG"},
		UnshareNet: true,
		Command:    []string{"app", "--flag"},
	}

	got := MergePresets(parent, child)

	if got.Name != "app" || got.Inherit != "" {
		t.Errorf("identity = %q inherit %q, want app with inherit cleared", got.Name, got.Inherit)
	}
	if want := []string{"gpu", "audio", "dbus"}; !reflect.DeepEqual(got.Features, want) {
		t.Errorf("features = %v, want %v", got.Features, want)
	}
	if want := []string{"/opt/base", "/opt/app"}; !reflect.DeepEqual(got.Binds, want) {
		t.Errorf("binds = %v, want %v", got.Binds, want)
	}
	if want := map[string]string{"A": "parent", "B": "child", "C": "child"}; !reflect.DeepEqual(got.Env, want) {
		t.Errorf("env = %v, want %v", got.Env, want)
	}
	if want := []string{"TERM", "LANG"}; !reflect.DeepEqual(got.KeepEnv, want) {
		t.Errorf("keep_env = %v, want %v", got.KeepEnv, want)
	}
	if !got.UnshareNet {
		t.Error("unshare_net not inherited from child")
	}
	if want := []string{"app", "--flag"}; !reflect.DeepEqual(got.Command, want) {
		t.Errorf("command = %v, want %v", got.Command, want)
	}
}

func TestPresetValidate(t *testing.T) {
	p := &Preset{
		Name:     "bad",
		Features: []string{"gpu", "locale"},
		Binds:    []string{"/ok", "::x"},
	}
	err := p.Validate()
	if err == nil {
		t.Fatal("validation passed, want failure")
	}
	msg := err.Error()
	if !strings.Contains(msg, "locale field") {
		t.Errorf("error does not flag the locale feature: %v", err)
	}
	if !strings.Contains(msg, "binds[1]") {
		t.Errorf("error does not flag the bad bind: %v", err)
	}

	if err := (&Preset{}).Validate(); err == nil {
		t.Error("nameless preset validated")
	}
}

func TestParsePresetsConfig(t *testing.T) {
	config, err := ParsePresetsConfig([]byte(`
presets:
  work:
    description: Development shell.
    features: [dbus]
    binds: ["/opt/tools:/opt/tools:w"]
    env:
      GOFLAGS: -mod=readonly
  bare:
`))
	if err != nil {
		t.Fatalf("ParsePresetsConfig: %v", err)
	}

	work := config.Presets["work"]
	if work == nil || work.Name != "work" {
		t.Fatalf("work preset = %+v, want name filled from map key", work)
	}
	if !reflect.DeepEqual(work.Features, []string{"dbus"}) {
		t.Errorf("features = %v", work.Features)
	}
	if work.Env["GOFLAGS"] != "-mod=readonly" {
		t.Errorf("env = %v", work.Env)
	}

	bare := config.Presets["bare"]
	if bare == nil || bare.Name != "bare" {
		t.Errorf("null-bodied preset = %+v, want empty preset named bare", bare)
	}
}

func TestPresetLoaderInheritance(t *testing.T) {
	loader := NewPresetLoader()
	if err := loader.LoadDefaults(); err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}

	gaming, err := loader.Resolve("gaming")
	if err != nil {
		t.Fatalf("Resolve gaming: %v", err)
	}
	if want := []string{"desktop", "dbus", "hud"}; !reflect.DeepEqual(gaming.Features, want) {
		t.Errorf("features = %v, want %v", gaming.Features, want)
	}
	if !reflect.DeepEqual(gaming.KeepEnv, []string{"STEAM_RUNTIME"}) {
		t.Errorf("keep_env = %v", gaming.KeepEnv)
	}
	if gaming.Inherit != "" {
		t.Error("inherit not cleared after resolution")
	}
}

func TestPresetLoaderOverride(t *testing.T) {
	loader := NewPresetLoader()
	if err := loader.LoadDefaults(); err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "local.yaml")
	content := []byte(`
presets:
  minimal:
    description: Overridden.
    features: [dbus]
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write presets file: %v", err)
	}
	if err := loader.LoadDirectory(dir); err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}

	minimal, err := loader.Resolve("minimal")
	if err != nil {
		t.Fatalf("Resolve minimal: %v", err)
	}
	if !reflect.DeepEqual(minimal.Features, []string{"dbus"}) {
		t.Errorf("later-loaded preset did not override: features = %v", minimal.Features)
	}
}

func TestPresetLoaderMissingDirectory(t *testing.T) {
	loader := NewPresetLoader()
	if err := loader.LoadDirectory("/nonexistent/presets"); err != nil {
		t.Errorf("missing directory should not be an error: %v", err)
	}
}

func TestPresetLoaderCycle(t *testing.T) {
	config, err := ParsePresetsConfig([]byte(`
presets:
  a:
    inherit: b
  b:
    inherit: a
`))
	if err != nil {
		t.Fatalf("ParsePresetsConfig: %v", err)
	}
	loader := NewPresetLoader()
	loader.configs = append(loader.configs, config)

	if _, err := loader.Resolve("a"); err == nil {
		t.Error("cyclic inheritance resolved, want error")
	}
}

func TestPresetLoaderUnknown(t *testing.T) {
	loader := NewPresetLoader()
	if err := loader.LoadDefaults(); err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	if _, err := loader.Resolve("missing"); err == nil {
		t.Error("unknown preset resolved, want error")
	}
}

func TestPresetApply(t *testing.T) {
	s := testSandbox(t, Config{
		LookupEnv: lookupFrom(map[string]string{"SHELL": "/usr/bin/zsh", "TERM": "xterm"}),
	})
	p := &Preset{
		Name:     "work",
		Features: []string{"dbus"},
		Locale:   "en_US.UTF-8",
		Binds:    []string{"/opt/tools::w"},
		Env:      map[string]string{"GOFLAGS": "-mod=readonly"},
		KeepEnv:  []string{"TERM"},
	}

	before := len(s.Args())
	if err := p.Apply(s); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	joined := strings.Join(s.Args()[before:], " ")
	for _, want := range []string{
		"--bind-try /run/dbus /run/dbus",
		"--setenv LANG en_US.UTF-8",
		"--bind-try /opt/tools /opt/tools",
		"--setenv GOFLAGS -mod=readonly",
		"--setenv TERM xterm",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("applied preset missing %q", want)
		}
	}
	if !s.Features().Active("dbus") || !s.Features().Active("locale") {
		t.Error("preset features not active")
	}
}
