// SPDX-License-Identifier: MPL-2.0

// Package verify installs the compiled module into the running kernel and
// confirms it bound to a network interface.
package verify

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/modforge/modforge/internal/issue"
	"github.com/modforge/modforge/internal/kmod"
	"github.com/modforge/modforge/internal/netif"
)

// kernelLogLines caps how many module-related kernel log lines land in the
// report.
const kernelLogLines = 30

// ModuleManager is the subset of module tooling the verifier drives.
type ModuleManager interface {
	IsLoaded(name string) (bool, error)
	Load(ctx context.Context, objectPath string) (string, error)
	Unload(ctx context.Context, name string) (string, error)
	KernelLogTail(ctx context.Context, name string, n int) ([]string, error)
}

// InterfaceInspector is the subset of network interface state the verifier
// reads.
type InterfaceInspector interface {
	Snapshot() ([]string, error)
	BoundTo(module string) ([]string, error)
	Up(names []string) []string
}

// Report describes what the install changed, for the final summary.
// Every field below Reloaded is diagnostic only and may be empty when its
// collection failed or turned up nothing.
type Report struct {
	// Reloaded is true when an older instance of the module was unloaded
	// before installing the fresh build.
	Reloaded bool

	// NewInterfaces are the interface names that appeared during the load.
	NewInterfaces []string

	// BoundInterfaces are the interfaces whose driver the module provides.
	// Empty when no device has probed against the module yet.
	BoundInterfaces []string

	// UpInterfaces are the interfaces currently in the up state.
	UpInterfaces []string

	// KernelLog is the tail of the kernel ring buffer lines mentioning the
	// module after the load.
	KernelLog []string
}

// Verifier loads a compiled module and checks that the kernel accepted it
// and bound it to hardware.
type Verifier struct {
	modules    ModuleManager
	interfaces InterfaceInspector
	logger     *log.Logger
}

// NewVerifier wires a Verifier from its collaborators.
func NewVerifier(modules ModuleManager, interfaces InterfaceInspector, logger *log.Logger) *Verifier {
	return &Verifier{modules: modules, interfaces: interfaces, logger: logger}
}

// Install loads the module object and verifies the result. An already
// loaded instance is unloaded first so the freshly built object is the one
// being tested. Failures up to and including the load are terminal, except
// the race where the module appears between our attempt and the kernel's
// refusal. Everything after a successful load is diagnostic only: missing
// signals are reported, never raised as errors.
func (v *Verifier) Install(ctx context.Context, objectPath, moduleName string) (*Report, error) {
	if _, err := os.Stat(objectPath); err != nil {
		return nil, issue.NewErrorContext().
			WithClass(issue.ErrInstall).
			WithOperation("locate compiled module").
			WithResource(objectPath).
			WithSuggestion("Check the build output for a make target that produced no object").
			Wrap(err).
			BuildError()
	}

	report := &Report{}

	loaded, err := v.modules.IsLoaded(moduleName)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithClass(issue.ErrInstall).
			WithOperation("inspect loaded modules").
			WithResource(moduleName).
			Wrap(err).
			BuildError()
	}
	if loaded {
		v.logger.Info("module already loaded, replacing it", "module", moduleName)
		if out, err := v.modules.Unload(ctx, moduleName); err != nil {
			return nil, issue.NewErrorContext().
				WithClass(issue.ErrInstall).
				WithOperation("unload previous module").
				WithResource(moduleName).
				WithSuggestion("Check whether the module is in use (lsmod) and bring its interfaces down first").
				Wrap(fmt.Errorf("%w: %s", err, out)).
				BuildError()
		}
		report.Reloaded = true
	}

	before, beforeErr := v.interfaces.Snapshot()
	if beforeErr != nil {
		v.logger.Warn("could not snapshot interfaces before load", "err", beforeErr)
	}

	if out, err := v.modules.Load(ctx, objectPath); err != nil {
		// A concurrent load between the unload above and this insert is
		// not a failure as long as the kernel ends up with the module.
		if kmod.IsAlreadyLoadedOutput(out) {
			nowLoaded, checkErr := v.modules.IsLoaded(moduleName)
			if checkErr == nil && nowLoaded {
				v.logger.Warn("module was loaded concurrently, continuing", "module", moduleName)
			} else {
				return nil, err
			}
		} else {
			return nil, err
		}
	}

	after, afterErr := v.interfaces.Snapshot()
	switch {
	case afterErr != nil:
		v.logger.Warn("could not re-snapshot interfaces", "err", afterErr)
	case beforeErr == nil:
		report.NewInterfaces = netif.Diff(before, after)
	}

	if bound, err := v.interfaces.BoundTo(moduleName); err != nil {
		v.logger.Warn("could not inspect driver bindings", "err", err)
	} else if len(bound) == 0 {
		v.logger.Info("no network interface is bound to the module yet", "module", moduleName)
	} else {
		report.BoundInterfaces = bound
	}

	if afterErr == nil {
		report.UpInterfaces = v.interfaces.Up(after)
	}

	if lines, err := v.modules.KernelLogTail(ctx, moduleName, kernelLogLines); err == nil {
		report.KernelLog = lines
	} else {
		v.logger.Debug("kernel log unavailable", "err", err)
	}

	return report, nil
}
