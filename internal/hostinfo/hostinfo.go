// SPDX-License-Identifier: MPL-2.0

// Package hostinfo discovers the running kernel and locates a matching
// header tree for out-of-tree module builds.
package hostinfo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/modforge/modforge/internal/issue"
)

const (
	// DefaultModulesRoot is where version-specific header trees live; the
	// tree for the running kernel is <root>/<release>/build.
	DefaultModulesRoot = "/lib/modules"

	// DefaultFallbackHeaderDir is the single well-known production header
	// path tried when the version-specific tree is absent.
	DefaultFallbackHeaderDir = "/usr/src/kernels/production"

	// buildEntryPoint must exist at the header tree root; a tree without
	// it cannot drive an out-of-tree module build.
	buildEntryPoint = "Makefile"
)

// HostEnvironment describes the running kernel and its header tree.
// Created once at startup; immutable afterward.
type HostEnvironment struct {
	// KernelRelease is the running kernel's release string (uname -r).
	KernelRelease string

	// HeaderDir is the absolute, symlink-resolved path to the header tree.
	// Containerized tools bind mount this path, so it must not depend on
	// host-relative symlinks.
	HeaderDir string
}

// Inspector resolves the HostEnvironment. The zero value is not usable;
// construct with NewInspector.
type Inspector struct {
	modulesRoot string
	fallbackDir string
	release     func() (string, error)
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithModulesRoot overrides the version-specific header root (for tests).
func WithModulesRoot(root string) Option {
	return func(i *Inspector) { i.modulesRoot = root }
}

// WithFallbackHeaderDir overrides the production fallback path (for tests).
func WithFallbackHeaderDir(dir string) Option {
	return func(i *Inspector) { i.fallbackDir = dir }
}

// WithReleaseFunc overrides kernel release discovery (for tests).
func WithReleaseFunc(fn func() (string, error)) Option {
	return func(i *Inspector) { i.release = fn }
}

// NewInspector creates an Inspector with the host defaults.
func NewInspector(opts ...Option) *Inspector {
	i := &Inspector{
		modulesRoot: DefaultModulesRoot,
		fallbackDir: DefaultFallbackHeaderDir,
		release:     kernelRelease,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Resolve discovers the running kernel release and locates a usable header
// tree: the version-specific path first, then the production fallback.
// There are no retries; headers either exist or the pipeline cannot proceed.
func (i *Inspector) Resolve() (*HostEnvironment, error) {
	release, err := i.release()
	if err != nil {
		return nil, issue.NewErrorContext().
			WithClass(issue.ErrConfig).
			WithOperation("read kernel release").
			Wrap(err).
			BuildError()
	}

	versioned := filepath.Join(i.modulesRoot, release, "build")
	headerDir, err := i.resolveHeaderDir(versioned)
	if err != nil {
		headerDir, err = i.resolveHeaderDir(i.fallbackDir)
	}
	if err != nil {
		return nil, issue.NewErrorContext().
			WithClass(issue.ErrConfig).
			WithOperation("locate kernel headers").
			WithResource(versioned).
			WithSuggestion(fmt.Sprintf("Install the kernel headers package for kernel %s", release)).
			WithSuggestion(fmt.Sprintf("Or place a prepared header tree at %s", i.fallbackDir)).
			Wrap(err).
			BuildError()
	}

	return &HostEnvironment{
		KernelRelease: release,
		HeaderDir:     headerDir,
	}, nil
}

// resolveHeaderDir resolves dir to an absolute symlink-free path and
// requires the build entry point to be present.
func (i *Inspector) resolveHeaderDir(dir string) (string, error) {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", err
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", resolved)
	}

	if _, err := os.Stat(filepath.Join(resolved, buildEntryPoint)); err != nil {
		return "", fmt.Errorf("header tree %s has no %s: %w", resolved, buildEntryPoint, err)
	}

	return resolved, nil
}
