// Copyright 2026 The Burrow Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"os"
)

// BindMode selects which bwrap bind directive a mount uses.
type BindMode string

// Bind modes.
const (
	ReadOnly  BindMode = "ro"
	ReadWrite BindMode = "rw"
	Device    BindMode = "dev"
)

// flag returns the bwrap directive for the mode. All binds use the -try
// variants: a missing host source is skipped by bwrap at launch time and
// never fails spec assembly.
func (m BindMode) flag() (string, error) {
	switch m {
	case ReadOnly:
		return "--ro-bind-try", nil
	case ReadWrite:
		return "--bind-try", nil
	case Device:
		return "--dev-bind-try", nil
	default:
		return "", fmt.Errorf("invalid bind mode %q (must be ro, rw, or dev)", string(m))
	}
}

// ErrMissingSource reports a bind call without a source path. This is a
// contract violation by the caller, not a missing host file.
var ErrMissingSource = errors.New("bind requires a source path")

// BindOptions holds the optional parts of a bind. The zero value means
// "use defaults": destination equal to the source, read-only mode, host
// working directory as the source anchor, and destination translation on.
type BindOptions struct {
	// Dest is the sandbox path. Defaults to the (translated) source.
	Dest string

	// Mode is the bind mode. Defaults to ReadOnly.
	Mode BindMode

	// Literal suppresses host-to-sandbox translation of the destination,
	// for paths intentionally outside the home mapping.
	Literal bool

	// SourceAnchor resolves a relative source. Defaults to the host
	// working directory captured at construction.
	SourceAnchor string

	// DestAnchor resolves a relative destination.
	DestAnchor string
}

// mergeBindOptions overlays override onto shared, field by field. Zero
// fields in override keep the shared value.
func mergeBindOptions(shared, override BindOptions) BindOptions {
	merged := shared
	if override.Dest != "" {
		merged.Dest = override.Dest
	}
	if override.Mode != "" {
		merged.Mode = override.Mode
	}
	if override.Literal {
		merged.Literal = true
	}
	if override.SourceAnchor != "" {
		merged.SourceAnchor = override.SourceAnchor
	}
	if override.DestAnchor != "" {
		merged.DestAnchor = override.DestAnchor
	}
	return merged
}

// BindSpec is one entry for BindAll: a source plus per-entry overrides of
// the shared options.
type BindSpec struct {
	Source       string
	Dest         string
	Mode         BindMode
	Literal      bool
	SourceAnchor string
	DestAnchor   string
}

func (s BindSpec) options() BindOptions {
	return BindOptions{
		Dest:         s.Dest,
		Mode:         s.Mode,
		Literal:      s.Literal,
		SourceAnchor: s.SourceAnchor,
		DestAnchor:   s.DestAnchor,
	}
}

// Link is one symlink instruction: Path is created inside the sandbox
// pointing at Target.
type Link struct {
	Target string
	Path   string
}

// FileOptions holds the optional parts of a WriteFile or BindData call.
type FileOptions struct {
	// Perms is an octal permission string (e.g. "0644") emitted as a
	// --perms directive immediately before the file instruction.
	Perms string

	// Anchor resolves a relative destination.
	Anchor string

	// Literal suppresses destination translation.
	Literal bool

	// Mode is the bind mode for BindData. Defaults to ReadOnly.
	// Ignored by WriteFile.
	Mode BindMode
}

// extraFDBase is the first file descriptor number content pipes occupy in
// the launcher process. It matches the exec.Cmd ExtraFiles contract: the
// n-th extra file becomes descriptor 3+n in the child.
const extraFDBase = 3

// Builder accumulates the ordered bwrap instruction list. Every endpoint
// passes through the resolver before being recorded; the list itself is
// append-only and order is significant, since bwrap applies directives
// sequentially and later directives can narrow or widen earlier ones.
type Builder struct {
	resolver *Resolver
	args     []string
	files    []*os.File
}

// NewBuilder creates a builder recording paths through resolver.
func NewBuilder(resolver *Resolver) *Builder {
	return &Builder{resolver: resolver}
}

// Args returns the accumulated instruction list.
func (b *Builder) Args() []string { return b.args }

// Files returns the content pipes referenced by --file and --*-bind-data
// instructions, in descriptor order starting at 3.
func (b *Builder) Files() []*os.File { return b.files }

// Append records raw instruction tokens without translation.
func (b *Builder) Append(args ...string) {
	b.args = append(b.args, args...)
}

// Close releases all content pipes. Call when the instruction list is
// abandoned without being handed to bwrap.
func (b *Builder) Close() {
	for _, f := range b.files {
		f.Close()
	}
	b.files = nil
}

// Bind records one bind mount. The source stays host-side (resolved
// without translation); the destination defaults to the source and is
// translated into the sandbox namespace unless opts.Literal is set.
func (b *Builder) Bind(source string, opts BindOptions) error {
	if source == "" {
		return ErrMissingSource
	}
	if opts.Mode == "" {
		opts.Mode = ReadOnly
	}
	flag, err := opts.Mode.flag()
	if err != nil {
		return err
	}

	dest := opts.Dest
	if dest == "" {
		dest = source
	}
	src := b.resolver.Resolve(source, false, opts.SourceAnchor)
	dst := b.resolver.Resolve(dest, !opts.Literal, opts.DestAnchor)

	b.args = append(b.args, flag, src, dst)
	return nil
}

// BindAll records one bind per spec, in order, merging each entry's
// overrides over the shared options. Entries are not deduplicated: a later
// entry for the same destination shadows an earlier one at bwrap's
// discretion, which callers rely on to narrow wildcard grants.
func (b *Builder) BindAll(specs []BindSpec, shared BindOptions) error {
	for _, spec := range specs {
		if err := b.Bind(spec.Source, mergeBindOptions(shared, spec.options())); err != nil {
			return err
		}
	}
	return nil
}

// Symlink records one symlink instruction per link. Neither side is
// translated: callers pass sandbox-namespace paths.
func (b *Builder) Symlink(links ...Link) {
	for _, l := range links {
		b.args = append(b.args, "--symlink", l.Target, l.Path)
	}
}

// Dir records a directory-create instruction per path, translated.
func (b *Builder) Dir(paths ...string) {
	for _, p := range paths {
		b.args = append(b.args, "--dir", b.resolver.Resolve(p, true, ""))
	}
}

// Tmpfs records a tmpfs mount per path, translated.
func (b *Builder) Tmpfs(paths ...string) {
	for _, p := range paths {
		b.args = append(b.args, "--tmpfs", b.resolver.Resolve(p, true, ""))
	}
}

// WriteFile records a file-materialize instruction: content becomes a
// regular file at dest inside the sandbox. The content travels over a
// pipe whose read end bwrap inherits; content larger than the kernel pipe
// buffer cannot be transported this way.
func (b *Builder) WriteFile(content []byte, dest string, opts FileOptions) error {
	fd, resolved, err := b.contentFD(content, dest, opts)
	if err != nil {
		return err
	}
	b.args = append(b.args, "--file", fmt.Sprint(fd), resolved)
	return nil
}

// BindData records a bind of in-memory content at dest, read-only by
// default. Device mode is not meaningful for data binds.
func (b *Builder) BindData(content []byte, dest string, opts FileOptions) error {
	mode := opts.Mode
	if mode == "" {
		mode = ReadOnly
	}
	var flag string
	switch mode {
	case ReadOnly:
		flag = "--ro-bind-data"
	case ReadWrite:
		flag = "--bind-data"
	default:
		return fmt.Errorf("invalid data bind mode %q (must be ro or rw)", string(mode))
	}

	fd, resolved, err := b.contentFD(content, dest, opts)
	if err != nil {
		return err
	}
	b.args = append(b.args, flag, fmt.Sprint(fd), resolved)
	return nil
}

// Seccomp records a compiled seccomp program, delivered to bwrap as
// opaque bytes over the fd transport. Compiling the program is the
// caller's concern.
func (b *Builder) Seccomp(program []byte) error {
	fd, err := b.pipeFD(program)
	if err != nil {
		return err
	}
	b.args = append(b.args, "--seccomp", fmt.Sprint(fd))
	return nil
}

// contentFD resolves dest and registers a content pipe for it. The
// destination and the content are captured together so a failure leaves
// no half-recorded instruction and no leaked descriptor.
func (b *Builder) contentFD(content []byte, dest string, opts FileOptions) (int, string, error) {
	if dest == "" {
		return 0, "", fmt.Errorf("file instruction requires a destination path")
	}
	resolved := b.resolver.Resolve(dest, !opts.Literal, opts.Anchor)

	fd, err := b.pipeFD(content)
	if err != nil {
		return 0, "", err
	}
	if opts.Perms != "" {
		b.args = append(b.args, "--perms", opts.Perms)
	}
	return fd, resolved, nil
}

// pipeFD writes content into a fresh pipe, closes the write end, and
// registers the read end for hand-off to bwrap. Returns the descriptor
// number the pipe will occupy in the launched process.
func (b *Builder) pipeFD(content []byte) (int, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("create content pipe: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		r.Close()
		w.Close()
		return 0, fmt.Errorf("write content pipe: %w", err)
	}
	w.Close()

	b.files = append(b.files, r)
	return extraFDBase + len(b.files) - 1, nil
}
