// SPDX-License-Identifier: MPL-2.0

// Package kmod wraps the host-side kernel module tooling: loading and
// unloading with insmod/rmmod and detecting loaded modules through procfs
// and sysfs.
package kmod

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/modforge/modforge/internal/issue"
)

const (
	// DefaultProcModules is the procfs listing of loaded modules.
	DefaultProcModules = "/proc/modules"

	// DefaultSysModuleRoot is the sysfs directory that gains one entry per
	// loaded module.
	DefaultSysModuleRoot = "/sys/module"
)

// ExecCommandFunc is the function signature for creating exec.Cmd.
type ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

// Manager runs the module tooling on the host. The zero paths and command
// constructor are replaced in tests.
type Manager struct {
	procModules   string
	sysModuleRoot string
	execCommand   ExecCommandFunc
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithProcModules overrides the procfs modules listing path.
func WithProcModules(path string) ManagerOption {
	return func(m *Manager) { m.procModules = path }
}

// WithSysModuleRoot overrides the sysfs module root.
func WithSysModuleRoot(path string) ManagerOption {
	return func(m *Manager) { m.sysModuleRoot = path }
}

// WithExecCommand overrides how commands are created, for tests.
func WithExecCommand(fn ExecCommandFunc) ManagerOption {
	return func(m *Manager) { m.execCommand = fn }
}

// NewManager creates a Manager bound to the real host paths.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		procModules:   DefaultProcModules,
		sysModuleRoot: DefaultSysModuleRoot,
		execCommand:   exec.CommandContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsLoaded reports whether the named module is currently loaded. It trusts
// sysfs first and falls back to parsing the procfs listing, so either view
// alone is enough to detect the module.
func (m *Manager) IsLoaded(name string) (bool, error) {
	if info, err := os.Stat(filepath.Join(m.sysModuleRoot, name)); err == nil && info.IsDir() {
		return true, nil
	}

	f, err := os.Open(m.procModules)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", m.procModules, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && fields[0] == name {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// Load inserts the compiled module object into the running kernel. The
// combined insmod output is returned alongside any error so the caller can
// inspect it for the already-loaded race.
func (m *Manager) Load(ctx context.Context, objectPath string) (string, error) {
	return m.runTool(ctx, "insmod", objectPath)
}

// Unload removes the named module from the running kernel.
func (m *Manager) Unload(ctx context.Context, name string) (string, error) {
	return m.runTool(ctx, "rmmod", name)
}

func (m *Manager) runTool(ctx context.Context, tool string, arg string) (string, error) {
	cmd := m.execCommand(ctx, tool, arg)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	output := buf.String()
	if err != nil {
		return output, issue.NewErrorContext().
			WithClass(issue.ErrInstall).
			WithOperation(tool).
			WithResource(arg).
			Wrap(fmt.Errorf("%s failed: %w: %s", tool, err, strings.TrimSpace(output))).
			BuildError()
	}
	return output, nil
}

// KernelLogTail returns the last n kernel ring buffer lines that mention
// name. Failures are reported as errors but callers treat the log as
// best-effort diagnostics only.
func (m *Manager) KernelLogTail(ctx context.Context, name string, n int) ([]string, error) {
	cmd := m.execCommand(ctx, "dmesg")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("dmesg: %w", err)
	}
	var lines []string
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if strings.Contains(line, name) {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// alreadyLoadedMarkers are the insmod outputs that mean the module raced
// into the kernel between our load attempt and someone else's. The set is
// string matching against tool output and deliberately kept in one place.
var alreadyLoadedMarkers = []string{
	"File exists",
	"Module already in kernel",
	"already loaded",
}

// IsAlreadyLoadedOutput reports whether insmod output indicates the module
// was already loaded when the insert was attempted.
func IsAlreadyLoadedOutput(output string) bool {
	for _, marker := range alreadyLoadedMarkers {
		if strings.Contains(output, marker) {
			return true
		}
	}
	return false
}
