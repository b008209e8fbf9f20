// Copyright 2026 The Burrow Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// BwrapPath returns the path to the bwrap executable.
func BwrapPath() (string, error) {
	paths := []string{
		"/usr/bin/bwrap",
		"/usr/local/bin/bwrap",
		"/bin/bwrap",
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	if path, err := exec.LookPath("bwrap"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("bwrap not found in standard locations")
}

// TranslateCommand rewrites absolute host-home paths in a command vector
// into their sandbox equivalents, so callers can pass host paths on the
// command line and have them resolve inside the sandbox.
func (s *Sandbox) TranslateCommand(command []string) []string {
	translated := make([]string, len(command))
	for i, arg := range command {
		if filepath.IsAbs(arg) {
			translated[i] = s.resolver.Translate(arg)
		} else {
			translated[i] = arg
		}
	}
	return translated
}

// DryRun returns the full launcher argv without executing anything.
func (s *Sandbox) DryRun(command []string) ([]string, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("command is required")
	}
	bwrap, err := BwrapPath()
	if err != nil {
		return nil, err
	}
	argv := append([]string{bwrap}, s.Args()...)
	argv = append(argv, "--")
	argv = append(argv, s.TranslateCommand(command)...)
	return argv, nil
}

// minimalEnv is the environment of the bwrap process itself. The sandbox
// environment is composed entirely through the instruction list; giving
// bwrap the full parent environment would leak it into
// /proc/<pid>/environ, readable from inside the sandbox.
func minimalEnv() []string {
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"TERM=" + os.Getenv("TERM"),
	}
}

// Command creates an exec.Cmd running the command inside the sandbox.
// Content pipes are handed to bwrap via ExtraFiles, matching the
// descriptor numbers recorded in the instruction list.
func (s *Sandbox) Command(ctx context.Context, command []string) (*exec.Cmd, error) {
	argv, err := s.DryRun(command)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.ExtraFiles = s.builder.Files()
	cmd.Env = minimalEnv()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd, nil
}

// Run executes the command inside the sandbox with inherited stdio,
// mapping a non-zero exit into ExitError.
func (s *Sandbox) Run(ctx context.Context, command []string) error {
	cmd, err := s.Command(ctx, command)
	if err != nil {
		return err
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	s.logger.Info("running sandboxed command",
		"user", s.user,
		"hostname", s.hostname,
		"command", command,
	)

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return &ExitError{Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("sandbox command failed: %w", err)
	}
	return nil
}

// Exec replaces the current process with bwrap, the way a thin CLI
// front-end hands off. Content pipes are renumbered onto the descriptors
// recorded in the instruction list and marked inheritable first.
func (s *Sandbox) Exec(command []string) error {
	argv, err := s.DryRun(command)
	if err != nil {
		return err
	}
	if err := s.inheritFiles(); err != nil {
		return err
	}
	return unix.Exec(argv[0], argv, minimalEnv())
}

// inheritFiles moves every content pipe onto its recorded descriptor
// number with close-on-exec cleared. Pipes are first duplicated above the
// target range so renumbering cannot clobber a pipe that has not moved
// yet.
func (s *Sandbox) inheritFiles() error {
	files := s.builder.Files()
	if len(files) == 0 {
		return nil
	}

	ceiling := extraFDBase + len(files)
	moved := make([]int, len(files))
	for i, f := range files {
		fd, err := unix.FcntlInt(f.Fd(), unix.F_DUPFD, ceiling)
		if err != nil {
			return fmt.Errorf("duplicate content pipe: %w", err)
		}
		moved[i] = fd
	}
	for i, fd := range moved {
		// Dup3 with zero flags leaves close-on-exec unset on the target.
		if err := unix.Dup3(fd, extraFDBase+i, 0); err != nil {
			return fmt.Errorf("renumber content pipe: %w", err)
		}
		unix.Close(fd)
	}
	return nil
}

// ExitError represents a non-zero exit from the sandboxed command.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

// IsExitError checks if an error is an ExitError and returns the code.
func IsExitError(err error) (int, bool) {
	if exitErr, ok := err.(*ExitError); ok {
		return exitErr.Code, true
	}
	return 0, false
}
