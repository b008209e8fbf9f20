// Copyright 2026 The Burrow Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Capabilities describes what sandbox features the host can back.
type Capabilities struct {
	// BwrapAvailable is true if bubblewrap is installed.
	BwrapAvailable bool

	// BwrapPath is the path to bwrap if available.
	BwrapPath string

	// BwrapVersion is the bwrap version string.
	BwrapVersion string

	// UserNamespacesEnabled is true if unprivileged user namespaces work.
	UserNamespacesEnabled bool

	// HasDRI is true if a /dev/dri render node exists (gpu feature).
	HasDRI bool

	// HasNvidia is true if the nvidia control device exists (nvidia
	// feature precondition).
	HasNvidia bool

	// HasWaylandSocket is true if a wayland socket exists in the runtime
	// directory.
	HasWaylandSocket bool

	// HasX11Socket is true if an X11 socket directory exists.
	HasX11Socket bool

	// HasPulseSocket is true if a pulse or pipewire socket exists in the
	// runtime directory.
	HasPulseSocket bool
}

// DetectCapabilities probes the host for feature backing.
// runtimeDir is the XDG runtime directory to probe for session sockets.
func DetectCapabilities(runtimeDir string) *Capabilities {
	caps := &Capabilities{}

	if path, err := BwrapPath(); err == nil {
		caps.BwrapAvailable = true
		caps.BwrapPath = path
		if out, err := exec.Command(path, "--version").Output(); err == nil {
			caps.BwrapVersion = strings.TrimSpace(string(out))
		}
	}

	caps.UserNamespacesEnabled = checkUserNamespaces()

	caps.HasDRI = exists("/dev/dri")
	caps.HasNvidia = exists(nvidiaDevice)
	caps.HasX11Socket = exists("/tmp/.X11-unix")
	caps.HasWaylandSocket = globMatches(filepath.Join(runtimeDir, "wayland*"))
	caps.HasPulseSocket = globMatches(filepath.Join(runtimeDir, "pulse*")) ||
		globMatches(filepath.Join(runtimeDir, "pipewire*"))

	return caps
}

// CanRunSandbox returns true if basic sandbox execution is possible.
func (c *Capabilities) CanRunSandbox() bool {
	return c.BwrapAvailable && c.UserNamespacesEnabled
}

// SkipReason returns a human-readable reason why sandboxing isn't
// available, or empty string if it is.
func (c *Capabilities) SkipReason() string {
	if !c.BwrapAvailable {
		return "bubblewrap not installed"
	}
	if !c.UserNamespacesEnabled {
		return "unprivileged user namespaces not enabled (set kernel.unprivileged_userns_clone=1)"
	}
	return ""
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func globMatches(pattern string) bool {
	matches, err := filepath.Glob(pattern)
	return err == nil && len(matches) > 0
}

// checkUserNamespaces tests if unprivileged user namespaces work.
func checkUserNamespaces() bool {
	// First check the sysctl. The file not existing usually means userns
	// is allowed.
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err == nil && strings.TrimSpace(string(data)) == "0" {
		return false
	}

	bwrapPath, err := BwrapPath()
	if err != nil {
		return false
	}

	// Run true in a new user namespace.
	cmd := exec.Command(bwrapPath,
		"--unshare-user",
		"--ro-bind", "/", "/",
		"--",
		"true",
	)
	return cmd.Run() == nil
}
