// Copyright 2026 The Burrow Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"sort"
)

// EnvironFunc looks up a variable in the host environment snapshot. It is
// injected so tests can substitute a fixed environment for os.LookupEnv.
type EnvironFunc func(key string) (string, bool)

// Env composes the environment variable instructions for the sandbox.
// Instructions are appended in call order and bwrap applies them
// sequentially, so full isolation requires Clear before any Set or Keep.
type Env struct {
	builder *Builder
	lookup  EnvironFunc
}

// NewEnv creates an environment composer appending to builder. When lookup
// is nil the real process environment is consulted.
func NewEnv(builder *Builder, lookup EnvironFunc) *Env {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Env{builder: builder, lookup: lookup}
}

// Clear discards all inherited environment variables.
func (e *Env) Clear() {
	e.builder.Append("--clearenv")
}

// Set emits one set-instruction per pair, in sorted key order for
// deterministic output. An empty value is silently skipped so optional
// values can flow through unconditionally. LC_ALL is always skipped: a
// forwarded LC_ALL overrides every other locale category inside the
// sandbox and breaks the locale feature's configuration.
func (e *Env) Set(vars map[string]string) {
	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := vars[key]
		if value == "" || key == "LC_ALL" {
			continue
		}
		e.builder.Append("--setenv", key, value)
	}
}

// Unset emits one unset-instruction per name.
func (e *Env) Unset(names ...string) {
	for _, name := range names {
		e.builder.Append("--unsetenv", name)
	}
}

// Keep copies variables from the host environment snapshot verbatim.
// Absent variables are silently skipped; this is the only way host
// environment crosses into the sandbox without a blanket inherit.
func (e *Env) Keep(names ...string) {
	for _, name := range names {
		value, ok := e.lookup(name)
		if !ok {
			continue
		}
		e.builder.Append("--setenv", name, value)
	}
}
