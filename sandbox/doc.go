// Copyright 2026 The Burrow Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox composes the argument list for launching a process
// inside a bubblewrap (bwrap) sandbox.
//
// The central type is [Sandbox], which owns an ordered bwrap instruction
// list and assembles it in three phases: construction performs base
// system setup (root filesystem exposure, home and XDG directories,
// environment seeding, synthesized /etc identity files), feature
// activations append optional capability bundles, and [Sandbox.Args]
// hands the finished list to bwrap together with the command vector.
// This package only decides what to ask bwrap to do; namespace
// isolation, seccomp filtering, and process supervision are bwrap's job.
//
// Path handling is the load-bearing part. [Resolver] translates host
// paths into the sandbox namespace: paths under the host home directory
// map to the corresponding path under the sandbox home, everything else
// passes through unchanged. [Builder] wraps the resolver and records
// bind, symlink, directory, tmpfs, and file-materialize instructions;
// bind sources stay host-side while destinations are translated, and all
// binds carry try-semantics so a missing host path is skipped at launch
// rather than failing spec assembly. In-memory content (the synthesized
// /etc files, locale.conf, seccomp programs) travels over pipes whose
// read ends bwrap inherits at fixed descriptor numbers.
//
// Optional capabilities are modeled as a [FeatureGraph] of named bundles
// (message bus, graphics, X11, Wayland, audio, nvidia routing, desktop,
// overlay HUD, locale). Activating a feature activates its declared
// dependencies first, each feature at most once; a vendor feature whose
// device is absent fails before emitting anything. [Env] composes the
// environment instructions: cleared by default, then synthesized values
// and a selective pass-through of the host environment.
//
// [Preset] layers a YAML-driven configuration surface on top: named
// bundles of features, binds, and environment with single inheritance,
// loaded by [PresetLoader]. [Validator] and [Capabilities] provide
// pre-flight host checks for front-ends.
package sandbox
