// Copyright 2026 The Burrow Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// ValidationResult holds the result of a pre-flight check.
type ValidationResult struct {
	Name    string
	Passed  bool
	Message string
	Warning bool // True if this is a warning, not an error.
}

// Validator performs pre-flight validation before a sandbox launch. All
// checks here are advisory for the instruction list itself: binds carry
// try-semantics, so a missing host source is a warning, never a fault.
type Validator struct {
	results []ValidationResult
	errors  int
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		results: make([]ValidationResult, 0),
	}
}

// Results returns all validation results.
func (v *Validator) Results() []ValidationResult {
	return v.results
}

// HasErrors returns true if any validation failed.
func (v *Validator) HasErrors() bool {
	return v.errors > 0
}

func (v *Validator) pass(name, message string) {
	v.results = append(v.results, ValidationResult{
		Name:    name,
		Passed:  true,
		Message: message,
	})
}

func (v *Validator) warn(name, message string) {
	v.results = append(v.results, ValidationResult{
		Name:    name,
		Passed:  true,
		Message: message,
		Warning: true,
	})
}

func (v *Validator) fail(name, message string) {
	v.results = append(v.results, ValidationResult{
		Name:    name,
		Passed:  false,
		Message: message,
	})
	v.errors++
}

// ValidateAll runs all pre-flight checks for a configuration.
func (v *Validator) ValidateAll(cfg Config, command []string) {
	v.ValidateBwrap()
	v.ValidateUserNamespaces()
	v.ValidateHomeOverride(cfg.Home)
	v.ValidateEtcBinds(cfg.EtcBinds)
	v.ValidateCommand(command)
}

// ValidateBwrap checks that bubblewrap is installed.
func (v *Validator) ValidateBwrap() {
	path, err := BwrapPath()
	if err != nil {
		v.fail("bwrap", "bubblewrap not found (install the bubblewrap package)")
		return
	}
	v.pass("bwrap", fmt.Sprintf("found at %s", path))
}

// ValidateUserNamespaces checks that unprivileged user namespaces work.
func (v *Validator) ValidateUserNamespaces() {
	if checkUserNamespaces() {
		v.pass("userns", "unprivileged user namespaces enabled")
		return
	}
	v.fail("userns", "unprivileged user namespaces not available")
}

// ValidateHomeOverride checks that a home-directory override exists. The
// home bind is the one non-try bind emitted, so a missing directory
// fails the launch.
func (v *Validator) ValidateHomeOverride(home string) {
	if home == "" {
		return
	}
	info, err := os.Stat(home)
	if err != nil {
		v.fail("home", fmt.Sprintf("home override %s does not exist", home))
		return
	}
	if !info.IsDir() {
		v.fail("home", fmt.Sprintf("home override %s is not a directory", home))
		return
	}
	v.pass("home", fmt.Sprintf("home override %s", home))
}

// ValidateEtcBinds warns about missing /etc subpaths. These are try-binds:
// bwrap skips them silently, which is usually intended but worth noting.
func (v *Validator) ValidateEtcBinds(etcBinds []string) {
	for _, path := range etcBinds {
		if _, err := os.Stat(path); err != nil {
			v.warn("etc", fmt.Sprintf("%s missing on host, bind will be skipped", path))
			continue
		}
		v.pass("etc", path)
	}
}

// ValidateCommand checks that a command was given.
func (v *Validator) ValidateCommand(command []string) {
	if len(command) == 0 {
		v.fail("command", "a command is required")
		return
	}
	v.pass("command", strings.Join(command, " "))
}

// PrintResults writes a human-readable report.
func (v *Validator) PrintResults(w io.Writer) {
	for _, r := range v.results {
		status := "ok"
		if r.Warning {
			status = "warn"
		} else if !r.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%-4s  %-8s %s\n", status, r.Name, r.Message)
	}
}
