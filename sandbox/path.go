// Copyright 2026 The Burrow Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"path/filepath"
	"strings"
)

// Resolver translates host filesystem paths into their sandbox-namespace
// equivalents. Paths under the host home directory map to the corresponding
// path under the sandbox home; everything else passes through unchanged,
// on the assumption that paths like /usr are meaningful in both namespaces.
type Resolver struct {
	hostHome    string
	sandboxHome string
	hostCwd     string
}

// NewResolver creates a resolver for the given home directory mapping.
// hostCwd is the default anchor for relative source paths, captured once
// at sandbox construction time.
func NewResolver(hostHome, sandboxHome, hostCwd string) *Resolver {
	return &Resolver{
		hostHome:    filepath.Clean(hostHome),
		sandboxHome: filepath.Clean(sandboxHome),
		hostCwd:     filepath.Clean(hostCwd),
	}
}

// HostHome returns the host home directory.
func (r *Resolver) HostHome() string { return r.hostHome }

// SandboxHome returns the sandbox home directory.
func (r *Resolver) SandboxHome() string { return r.sandboxHome }

// HostCwd returns the host working directory captured at construction.
func (r *Resolver) HostCwd() string { return r.hostCwd }

// Resolve makes path absolute against anchor (or the host working directory
// when anchor is empty) and, when translate is true, rewrites it into the
// sandbox namespace. An empty path resolves to an empty path so that
// optional values can flow through call chains.
func (r *Resolver) Resolve(path string, translate bool, anchor string) string {
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) {
		if anchor == "" {
			anchor = r.hostCwd
		}
		path = filepath.Join(anchor, path)
	} else {
		path = filepath.Clean(path)
	}
	if !translate {
		return path
	}
	return r.Translate(path)
}

// Translate rewrites an absolute host path into the sandbox namespace.
// The host home directory itself maps exactly to the sandbox home.
func (r *Resolver) Translate(path string) string {
	if path == r.hostHome {
		return r.sandboxHome
	}
	prefix := r.hostHome + string(filepath.Separator)
	if strings.HasPrefix(path, prefix) {
		return filepath.Join(r.sandboxHome, path[len(prefix):])
	}
	return path
}
