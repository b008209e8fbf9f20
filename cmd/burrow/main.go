// Copyright 2026 The Burrow Authors
// SPDX-License-Identifier: Apache-2.0

// burrow runs a command in a bubblewrap sandbox.
//
// Usage:
//
//	burrow [flags] [--] <command> [args...]
//
// The sandbox gets a private home directory, a synthesized identity, and
// a cleared environment by default. Optional capabilities (display,
// audio, gpu, message bus) are enabled per invocation via flags or a
// named preset.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/burrow-sandbox/burrow/lib/cli"
	"github.com/burrow-sandbox/burrow/lib/version"
	"github.com/burrow-sandbox/burrow/sandbox"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if code, ok := sandbox.IsExitError(err); ok {
			os.Exit(code)
		}
		fmt.Fprintf(os.Stderr, "burrow: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	user         string
	hostname     string
	keepUser     bool
	keepHostname bool
	home         string
	preset       string
	presetsFile  string

	dbus    bool
	x11     bool
	wayland bool
	gpu     bool
	nvidia  bool
	audio   bool
	desktop bool
	hud     bool

	noShaderCache bool
	locale        string
	cwd           bool
	binds         []string
	rootfs        string
	unshareNet    bool
	keepChild     bool
	keepEnv       bool

	listPresets bool
	check       bool
	dryRun      bool
	loglevel    string
	showVersion bool
}

func flagSet(opts *options) *pflag.FlagSet {
	flags := pflag.NewFlagSet("burrow", pflag.ContinueOnError)

	flags.StringVarP(&opts.user, "user", "u", "", "change username to <user>")
	flags.StringVarP(&opts.hostname, "hostname", "t", "", "change hostname to <hostname>")
	flags.BoolVarP(&opts.keepUser, "keep-user", "U", false, "use the host username")
	flags.BoolVarP(&opts.keepHostname, "keep-hostname", "H", false, "use the host hostname")
	flags.StringVarP(&opts.home, "home", "p", "", "use a host directory as the sandbox home")
	flags.StringVarP(&opts.preset, "preset", "P", "", "apply a named preset")
	flags.StringVar(&opts.presetsFile, "presets-file", "", "load additional presets from a YAML file")

	flags.BoolVarP(&opts.dbus, "dbus", "d", false, "enable dbus")
	flags.BoolVarP(&opts.x11, "x11", "x", false, "enable X11")
	flags.BoolVarP(&opts.wayland, "wayland", "w", false, "enable Wayland")
	flags.BoolVarP(&opts.gpu, "gpu", "g", false, "enable GPU access (dri)")
	flags.BoolVarP(&opts.nvidia, "nvidia", "n", false, "prefer NVIDIA graphics")
	flags.BoolVarP(&opts.audio, "audio", "a", false, "enable sound")
	flags.BoolVarP(&opts.desktop, "desktop", "D", false, "enable x11, wayland, gpu, and sound")
	flags.BoolVarP(&opts.hud, "hud", "m", false, "enable the performance overlay")

	flags.BoolVar(&opts.noShaderCache, "no-shader-cache", false, "do not bind host shader caches")
	flags.StringVarP(&opts.locale, "locale", "l", "", "sandbox locale")
	flags.BoolVarP(&opts.cwd, "cwd", "c", false, "bind the current working directory")
	flags.StringArrayVarP(&opts.binds, "bind", "v", nil, "bind mount src[:dest[:mode]] (mode: r, w, d)")
	flags.StringVarP(&opts.rootfs, "rootfs", "r", "", "use <rootfs> as / instead of the host's /")
	flags.BoolVarP(&opts.unshareNet, "unshare-net", "o", false, "create a new network namespace")
	flags.BoolVarP(&opts.keepChild, "keep", "k", false, "do not kill the sandbox when bwrap exits")
	flags.BoolVar(&opts.keepEnv, "keep-env", false, "inherit the host environment instead of clearing it")

	flags.BoolVar(&opts.listPresets, "list-presets", false, "list available presets")
	flags.BoolVar(&opts.check, "check", false, "run pre-flight checks instead of launching")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "print the bwrap command without running it")
	flags.StringVar(&opts.loglevel, "loglevel", "error", "logging level (debug, info, warning, error)")
	flags.BoolVar(&opts.showVersion, "version", false, "show version")

	return flags
}

func run(args []string) error {
	var opts options
	flags := flagSet(&opts)
	if err := flags.Parse(args); err != nil {
		return err
	}

	if opts.showVersion {
		fmt.Printf("burrow %s\n", version.Info())
		return nil
	}

	logger := cli.NewLogger(cli.ParseLevel(opts.loglevel))

	loader, err := loadPresets(opts, logger)
	if err != nil {
		return err
	}

	if opts.listPresets {
		for _, name := range loader.Names() {
			fmt.Println(name)
		}
		return nil
	}

	var preset *sandbox.Preset
	if opts.preset != "" {
		preset, err = loader.Resolve(opts.preset)
		if err != nil {
			return err
		}
	}

	command := flags.Args()
	if len(command) == 0 && preset != nil {
		command = preset.Command
	}

	cfg := sandbox.Config{
		User:         opts.user,
		Hostname:     opts.hostname,
		KeepUser:     opts.keepUser,
		KeepHostname: opts.keepHostname,
		Home:         opts.home,
		KeepEnv:      opts.keepEnv,
		KeepChild:    opts.keepChild,
		Rootfs:       opts.rootfs,
		Logger:       logger,
	}

	if opts.check {
		validator := sandbox.NewValidator()
		validator.ValidateAll(cfg, command)
		validator.PrintResults(os.Stdout)
		if validator.HasErrors() {
			return fmt.Errorf("pre-flight checks failed")
		}
		return nil
	}

	if len(command) == 0 {
		return fmt.Errorf("a command is required")
	}

	s, err := sandbox.New(cfg)
	if err != nil {
		return err
	}

	unshareNet := opts.unshareNet
	if preset != nil {
		unshareNet = unshareNet || preset.UnshareNet
	}
	s.Unshare(unshareNet)

	if preset != nil {
		if err := preset.Apply(s); err != nil {
			return err
		}
	}

	if err := activateFeatures(s, opts); err != nil {
		return err
	}

	if opts.cwd {
		if err := s.Bind(s.Resolver().HostCwd(), sandbox.BindOptions{Mode: sandbox.ReadWrite}); err != nil {
			return err
		}
		s.Chdir("")
	}

	hostHome := s.Resolver().HostHome()
	if err := s.BindAll([]sandbox.BindSpec{
		{Source: filepath.Join(hostHome, "downloads")},
		{Source: filepath.Join(hostHome, "tmp")},
	}, sandbox.BindOptions{Mode: sandbox.ReadWrite}); err != nil {
		return err
	}

	for _, spec := range opts.binds {
		bind, err := sandbox.ParseBindSpec(spec)
		if err != nil {
			return err
		}
		if err := s.Bind(bind.Source, sandbox.BindOptions{Dest: bind.Dest, Mode: bind.Mode}); err != nil {
			return err
		}
	}

	if opts.dryRun {
		argv, err := s.DryRun(command)
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(argv, " "))
		return nil
	}

	return s.Exec(command)
}

// activateFeatures enables the capabilities requested by flags.
func activateFeatures(s *sandbox.Sandbox, opts options) error {
	featureOpts := sandbox.FeatureOptions{NoShaderCache: opts.noShaderCache}

	requests := []struct {
		enabled bool
		name    string
	}{
		{opts.dbus, "dbus"},
		{opts.gpu, "gpu"},
		{opts.x11, "x11"},
		{opts.wayland, "wayland"},
		{opts.audio, "audio"},
		{opts.nvidia, "nvidia"},
		{opts.desktop, "desktop"},
		{opts.hud, "hud"},
	}
	for _, req := range requests {
		if !req.enabled {
			continue
		}
		if err := s.Activate(req.name, featureOpts); err != nil {
			return err
		}
	}

	if opts.locale != "" {
		return s.Activate("locale", sandbox.FeatureOptions{Locale: opts.locale})
	}
	return nil
}

// loadPresets builds the preset loader: built-in defaults, then the
// BURROW_PRESETS directory, then an explicit file, later sources winning.
func loadPresets(opts options, logger *slog.Logger) (*sandbox.PresetLoader, error) {
	loader := sandbox.NewPresetLoader()
	loader.SetLogger(logger)
	if err := loader.LoadDefaults(); err != nil {
		return nil, err
	}
	if dir := os.Getenv("BURROW_PRESETS"); dir != "" {
		if err := loader.LoadDirectory(dir); err != nil {
			return nil, err
		}
	}
	if opts.presetsFile != "" {
		if err := loader.LoadFile(opts.presetsFile); err != nil {
			return nil, err
		}
	}
	return loader, nil
}
