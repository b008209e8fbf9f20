// Copyright 2026 The Burrow Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// ErrRootfsUnsupported reports a request for an alternate root filesystem,
// which this spec assembler does not support. It is raised before any
// instruction is emitted.
var ErrRootfsUnsupported = errors.New("alternate rootfs is not supported")

// defaultPath is the PATH synthesized inside the sandbox. Relative entries
// are anchored at the sandbox home directory.
var defaultPath = []string{
	".local/bin",
	"go/bin",
	"/usr/local/bin",
	"/usr/local/sbin",
	"/usr/bin",
	"/usr/sbin",
	"/bin",
	"/sbin",
}

// Config holds construction options for a Sandbox. The zero value is
// usable: defaults follow DefaultConfig.
type Config struct {
	// User is the sandbox user name. Defaults to "user".
	User string

	// Hostname is the sandbox hostname. Defaults to "sandbox-<pid>".
	Hostname string

	// KeepUser uses the host user name instead of User.
	KeepUser bool

	// KeepHostname uses the host hostname instead of Hostname, and skips
	// UTS unsharing.
	KeepHostname bool

	// Home is a host directory bound as the sandbox home. When empty the
	// home starts out as bwrap-created empty directories.
	Home string

	// EtcBinds are host /etc subpaths to expose. When empty the whole
	// host /etc is bound read-only.
	EtcBinds []string

	// KeepEnv inherits the host environment instead of clearing it.
	KeepEnv bool

	// Path lists PATH entries for the sandbox. Defaults to defaultPath.
	Path []string

	// KeepChild leaves the sandboxed process running after bwrap's parent
	// exits, instead of emitting --die-with-parent.
	KeepChild bool

	// Rootfs requests an alternate root filesystem. Unsupported: New
	// fails with ErrRootfsUnsupported when set.
	Rootfs string

	// Seccomp is a compiled seccomp program handed to bwrap as opaque
	// bytes over the fd transport. Compiling the program is not this
	// package's concern.
	Seccomp []byte

	// LookupEnv is the host environment snapshot provider. Defaults to
	// os.LookupEnv.
	LookupEnv EnvironFunc

	// Probe reports whether a host path exists. Defaults to a stat check.
	// Injected so feature preconditions can be tested off-host.
	Probe func(path string) bool

	// HostHome overrides the detected host home directory.
	HostHome string

	// HostCwd overrides the detected host working directory.
	HostCwd string

	// Logger receives diagnostic output. Defaults to slog.Default.
	Logger *slog.Logger
}

// DefaultConfig returns the default construction options.
func DefaultConfig() Config {
	return Config{
		User:     "user",
		Hostname: fmt.Sprintf("sandbox-%d", os.Getpid()),
		Path:     defaultPath,
	}
}

// withDefaults overlays cfg onto the defaults, field by field.
func withDefaults(cfg Config) Config {
	merged := DefaultConfig()
	if cfg.User != "" {
		merged.User = cfg.User
	}
	if cfg.Hostname != "" {
		merged.Hostname = cfg.Hostname
	}
	if len(cfg.Path) > 0 {
		merged.Path = cfg.Path
	}
	merged.KeepUser = cfg.KeepUser
	merged.KeepHostname = cfg.KeepHostname
	merged.Home = cfg.Home
	merged.EtcBinds = cfg.EtcBinds
	merged.KeepEnv = cfg.KeepEnv
	merged.KeepChild = cfg.KeepChild
	merged.Rootfs = cfg.Rootfs
	merged.Seccomp = cfg.Seccomp
	merged.LookupEnv = cfg.LookupEnv
	merged.Probe = cfg.Probe
	merged.HostHome = cfg.HostHome
	merged.HostCwd = cfg.HostCwd
	merged.Logger = cfg.Logger
	return merged
}

// Sandbox assembles the bwrap instruction list for one confined process.
// Construction performs the base system setup; feature activations and
// ad-hoc binds append further instructions; Args hands the finished list
// to the launcher.
type Sandbox struct {
	user     string
	hostname string
	home     string // sandbox home
	cwd      string // host cwd translated into the sandbox namespace

	runtimeDir    string // /run/user/<uid>, same path in both namespaces
	hostCacheHome string // host-side XDG cache, source of shader caches

	xdgConfigHome string
	xdgCacheHome  string
	xdgDataHome   string
	xdgStateHome  string

	resolver *Resolver
	builder  *Builder
	env      *Env
	features *FeatureGraph

	probe     func(string) bool
	keepChild bool
	logger    *slog.Logger
}

// New creates a sandbox spec and performs base system setup: root
// filesystem exposure, home and XDG directories, environment seeding, and
// system identity files. Configuration faults surface before any
// instruction is recorded.
func New(cfg Config) (*Sandbox, error) {
	cfg = withDefaults(cfg)

	if cfg.Rootfs != "" {
		return nil, fmt.Errorf("%w (requested %q)", ErrRootfsUnsupported, cfg.Rootfs)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lookup := cfg.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	probe := cfg.Probe
	if probe == nil {
		probe = func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		}
	}

	username := cfg.User
	if cfg.KeepUser {
		current, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("determine host user: %w", err)
		}
		username = current.Username
	}

	hostname := cfg.Hostname
	if cfg.KeepHostname {
		name, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("determine host hostname: %w", err)
		}
		hostname = name
	}

	hostHome := cfg.HostHome
	if hostHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("determine host home: %w", err)
		}
		hostHome = home
	}

	hostCwd := cfg.HostCwd
	if hostCwd == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine host working directory: %w", err)
		}
		hostCwd = cwd
	}

	home := filepath.Join("/home", username)
	resolver := NewResolver(hostHome, home, hostCwd)
	builder := NewBuilder(resolver)

	hostCache, ok := lookup("XDG_CACHE_HOME")
	if !ok || hostCache == "" {
		hostCache = filepath.Join(hostHome, ".cache")
	}

	s := &Sandbox{
		user:          username,
		hostname:      hostname,
		home:          home,
		cwd:           resolver.Translate(hostCwd),
		runtimeDir:    fmt.Sprintf("/run/user/%d", os.Getuid()),
		hostCacheHome: hostCache,
		xdgConfigHome: filepath.Join(home, ".config"),
		xdgCacheHome:  filepath.Join(home, ".cache"),
		xdgDataHome:   filepath.Join(home, ".local/share"),
		xdgStateHome:  filepath.Join(home, ".local/state"),
		resolver:      resolver,
		builder:       builder,
		env:           NewEnv(builder, lookup),
		probe:         probe,
		keepChild:     cfg.KeepChild,
		logger:        logger,
	}
	s.features = NewFeatureGraph(s)

	s.logger.Info("sandbox home", "home", s.home)
	s.logger.Info("sandbox cwd", "cwd", s.cwd)

	if err := s.initContainer(cfg); err != nil {
		builder.Close()
		return nil, err
	}
	if err := s.initHome(cfg); err != nil {
		builder.Close()
		return nil, err
	}
	s.initEnvironment(cfg)
	if err := s.initSystemID(cfg); err != nil {
		builder.Close()
		return nil, err
	}

	return s, nil
}

// initContainer exposes the base host filesystem inside the sandbox.
func (s *Sandbox) initContainer(cfg Config) error {
	s.builder.Append(
		"--tmpfs", "/tmp",
		"--proc", "/proc",
		"--dev", "/dev",
		"--dir", "/etc",
		"--dir", "/var",
		"--dir", "/run",
		"--unsetenv", "TMUX",
	)

	if len(cfg.Seccomp) > 0 {
		if err := s.builder.Seccomp(cfg.Seccomp); err != nil {
			return err
		}
	}

	s.logger.Info("using host rootfs")
	binds := []BindSpec{
		{Source: "/usr"},
		{Source: "/opt"},
		{Source: "/sys/block"},
		{Source: "/sys/bus"},
		{Source: "/sys/class"},
		{Source: "/sys/dev"},
		{Source: "/sys/devices"},
		{Source: "/sys/module"},
		{Source: "/var/empty"},
		{Source: "/var/cache/man"},
		{Source: "/var/lib/alsa"},
		{Source: "/run/systemd/resolve"},
	}
	etcBinds := cfg.EtcBinds
	if len(etcBinds) == 0 {
		etcBinds = []string{"/etc"}
	}
	for _, etc := range etcBinds {
		binds = append(binds, BindSpec{Source: etc})
	}
	if err := s.builder.BindAll(binds, BindOptions{Mode: ReadOnly}); err != nil {
		return err
	}
	if err := s.builder.Bind("/dev/fuse", BindOptions{Mode: Device}); err != nil {
		return err
	}

	s.builder.Symlink(
		Link{Target: "/usr/lib", Path: "/lib"},
		Link{Target: "/usr/lib", Path: "/lib64"},
		Link{Target: "/usr/bin", Path: "/bin"},
		Link{Target: "/usr/bin", Path: "/sbin"},
		Link{Target: "/run", Path: "/var/run"},
	)

	if !s.keepChild {
		s.logger.Info("sandbox will be killed when bwrap terminates")
		s.builder.Append("--die-with-parent")
	}
	return nil
}

// initHome sets up the home directory and XDG hierarchy.
func (s *Sandbox) initHome(cfg Config) error {
	if cfg.Home != "" {
		home, err := filepath.Abs(cfg.Home)
		if err != nil {
			return fmt.Errorf("resolve home override: %w", err)
		}
		s.logger.Info("using host directory as sandbox home", "dir", home)
		// Not a try-bind: a missing home override should fail the launch
		// rather than silently produce an empty home.
		s.builder.Append("--bind", home, s.home)
	}

	s.builder.Dir(
		s.home,
		s.runtimeDir,
		s.xdgCacheHome,
		s.xdgConfigHome,
		s.xdgDataHome,
		s.xdgStateHome,
		filepath.Join(s.home, ".local/bin"),
	)

	return s.builder.BindAll([]BindSpec{
		{Source: filepath.Join(s.resolver.HostHome(), ".config/user-dirs.dirs")},
		{Source: filepath.Join(s.resolver.HostHome(), ".config/user-dirs.locale")},
	}, BindOptions{})
}

// initEnvironment seeds the environment instruction set.
func (s *Sandbox) initEnvironment(cfg Config) {
	if !cfg.KeepEnv {
		s.logger.Info("environment variables cleared")
		s.env.Clear()
	}

	entries := make([]string, 0, len(cfg.Path))
	for _, p := range cfg.Path {
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.home, p)
		}
		entries = append(entries, p)
	}
	path := strings.Join(entries, ":")

	s.env.Set(map[string]string{
		"HOME":            s.home,
		"SANDBOX":         "1",
		"PATH":            path,
		"LOGNAME":         s.user,
		"USER":            s.user,
		"HOSTNAME":        s.hostname,
		"XDG_RUNTIME_DIR": s.runtimeDir,
		"XDG_CONFIG_HOME": s.xdgConfigHome,
		"XDG_CACHE_HOME":  s.xdgCacheHome,
		"XDG_DATA_HOME":   s.xdgDataHome,
		"XDG_STATE_HOME":  s.xdgStateHome,
		"GTK_A11Y":        "none",
	})
	s.logger.Debug("sandbox PATH", "path", path)

	s.env.Keep(
		"COLORTERM",
		"EDITOR",
		"LANG",
		"LC_ALL",
		"LC_TIME",
		"NO_AT_BRIDGE",
		"PAGER",
		"SHELL",
		"TERM",
		"WINEDEBUG",
		"WINEFSYNC",
		"XDG_BACKEND",
		"XDG_SEAT",
		"XDG_SESSION_CLASS",
		"XDG_SESSION_ID",
		"XDG_SESSION_TYPE",
	)
}

// initSystemID synthesizes the sandbox identity: hostname and the /etc
// files that name the sandbox user.
func (s *Sandbox) initSystemID(cfg Config) error {
	if !cfg.KeepHostname {
		s.logger.Info("hostname changed", "hostname", s.hostname)
		s.builder.Append("--unshare-uts", "--hostname", s.hostname)
	}

	s.logger.Info("user name changed", "user", s.user)
	uid, gid := os.Getuid(), os.Getgid()

	shell, ok := s.env.lookup("SHELL")
	if !ok || shell == "" {
		shell = "/usr/bin/bash"
	}

	passwd := etcPasswd(s.user, uid, gid, s.home, shell)
	group := etcGroup(s.user, gid)
	subID := fmt.Sprintf("%s:100000:65536\n", s.user)

	files := []struct {
		content string
		dest    string
	}{
		{etcNsswitch, "/etc/nsswitch.conf"},
		{passwd, "/etc/passwd"},
		{passwd, "/etc/passwd-"},
		{group, "/etc/group"},
		{group, "/etc/group-"},
		{etcHosts(s.hostname), "/etc/hosts"},
		{s.hostname + "\n", "/etc/hostname"},
		{subID, "/etc/subuid"},
		{subID, "/etc/subuid-"},
		{subID, "/etc/subgid"},
		{subID, "/etc/subgid-"},
		{"", "/etc/fstab"},
	}
	for _, f := range files {
		if err := s.builder.BindData([]byte(f.content), f.dest, FileOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// Unshare isolates all namespaces, optionally keeping the host network.
func (s *Sandbox) Unshare(net bool) {
	s.builder.Append("--unshare-all")
	if !net {
		s.builder.Append("--share-net")
	}
}

// Chdir sets the working directory inside the sandbox. An empty dest
// selects the translated host working directory.
func (s *Sandbox) Chdir(dest string) {
	if dest == "" {
		dest = s.cwd
	}
	s.builder.Append("--chdir", dest)
}

// Activate enables a named feature with optional parameters.
func (s *Sandbox) Activate(name string, opts FeatureOptions) error {
	return s.features.Activate(name, opts)
}

// Bind records one bind mount. See Builder.Bind.
func (s *Sandbox) Bind(source string, opts BindOptions) error {
	return s.builder.Bind(source, opts)
}

// BindAll records bind mounts in order. See Builder.BindAll.
func (s *Sandbox) BindAll(specs []BindSpec, shared BindOptions) error {
	return s.builder.BindAll(specs, shared)
}

// WriteFile materializes content at a sandbox path. See Builder.WriteFile.
func (s *Sandbox) WriteFile(content []byte, dest string, opts FileOptions) error {
	return s.builder.WriteFile(content, dest, opts)
}

// Env returns the environment composer.
func (s *Sandbox) Env() *Env { return s.env }

// Features returns the feature graph.
func (s *Sandbox) Features() *FeatureGraph { return s.features }

// Resolver returns the path resolver.
func (s *Sandbox) Resolver() *Resolver { return s.resolver }

// Builder returns the instruction builder.
func (s *Sandbox) Builder() *Builder { return s.builder }

// Args returns the assembled instruction list.
func (s *Sandbox) Args() []string { return s.builder.Args() }

// Files returns the content pipes bwrap must inherit, in descriptor order.
func (s *Sandbox) Files() []*os.File { return s.builder.Files() }

// User returns the sandbox user name.
func (s *Sandbox) User() string { return s.user }

// Hostname returns the sandbox hostname.
func (s *Sandbox) Hostname() string { return s.hostname }

// Home returns the sandbox home directory.
func (s *Sandbox) Home() string { return s.home }

// Cwd returns the host working directory translated into the sandbox.
func (s *Sandbox) Cwd() string { return s.cwd }

// RuntimeDir returns the XDG runtime directory, identical in both
// namespaces.
func (s *Sandbox) RuntimeDir() string { return s.runtimeDir }
