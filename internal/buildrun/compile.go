// SPDX-License-Identifier: MPL-2.0

// Package buildrun drives the containerized out-of-tree module build: one
// ephemeral sandbox per run, bridging the host kernel headers and the
// driver source into the toolchain image.
package buildrun

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/modforge/modforge/internal/container"
	"github.com/modforge/modforge/internal/hostinfo"
	"github.com/modforge/modforge/internal/issue"
)

// sourceMount is where the driver checkout lands inside the sandbox.
// Build outputs written under it land back on the host through the
// read-write bind mount.
const sourceMount = "/build"

// Compile builds the driver module inside an ephemeral sandbox and returns
// the host path where the compiled module is expected. The sandbox is
// removed automatically after the single build command, success or not.
//
// The header tree is mounted read-only at its own host path so kbuild's
// absolute references into the tree resolve unchanged inside the sandbox.
func Compile(ctx context.Context, engine container.Engine, env *hostinfo.HostEnvironment, srcDir, image, moduleName string, output io.Writer) (string, error) {
	kbuildDir, relDir, err := moduleSourceDir(srcDir)
	if err != nil {
		return "", err
	}

	moduleDir := sourceMount
	if relDir != "" {
		moduleDir = sourceMount + "/" + relDir
	}

	// Header trees installed from a headers package are already prepared;
	// a raw source tree needs a one-time modules_prepare first.
	script := fmt.Sprintf(
		"if [ ! -e %[1]s/include/generated/autoconf.h ]; then make -C %[1]s modules_prepare; fi && make -C %[1]s M=%[2]s modules",
		env.HeaderDir, moduleDir,
	)

	result, err := engine.Run(ctx, container.RunOptions{
		Image:   image,
		Command: []string{"sh", "-c", script},
		WorkDir: sourceMount,
		Remove:  true,
		Volumes: []container.VolumeMount{
			{HostPath: srcDir, ContainerPath: sourceMount},
			{HostPath: env.HeaderDir, ContainerPath: env.HeaderDir, ReadOnly: true},
		},
		Stdout: output,
		Stderr: output,
	})
	if err != nil {
		return "", issue.NewErrorContext().
			WithClass(issue.ErrBuild).
			WithOperation("run build sandbox").
			WithResource(image).
			Wrap(err).
			BuildError()
	}
	if result.Error != nil {
		return "", issue.NewErrorContext().
			WithClass(issue.ErrBuild).
			WithOperation("run build sandbox").
			WithResource(image).
			WithSuggestion("Verify the container runtime is healthy (docker info / podman info)").
			Wrap(result.Error).
			BuildError()
	}
	if result.ExitCode != 0 {
		return "", issue.NewErrorContext().
			WithClass(issue.ErrBuild).
			WithOperation("compile driver module").
			WithResource(kbuildDir).
			WithSuggestion("Inspect the build output above; the driver may not support this kernel version").
			Wrap(fmt.Errorf("toolchain exited with status %d", result.ExitCode)).
			BuildError()
	}

	return filepath.Join(kbuildDir, moduleName+".ko"), nil
}

// moduleSourceDir locates the kbuild makefile inside the checkout: at the
// repository root, or under src/ for repositories that nest it (dkms
// layouts commonly do). Returns the host path and the sandbox-relative
// subdirectory.
func moduleSourceDir(srcDir string) (hostDir, relDir string, err error) {
	if _, statErr := os.Stat(filepath.Join(srcDir, "Makefile")); statErr == nil {
		return srcDir, "", nil
	}
	if _, statErr := os.Stat(filepath.Join(srcDir, "src", "Makefile")); statErr == nil {
		return filepath.Join(srcDir, "src"), "src", nil
	}

	return "", "", issue.NewErrorContext().
		WithClass(issue.ErrBuild).
		WithOperation("locate module build makefile").
		WithResource(srcDir).
		WithSuggestion("Check that the source repository is an out-of-tree kernel module").
		Wrap(fmt.Errorf("no Makefile at %s or %s", srcDir, filepath.Join(srcDir, "src"))).
		BuildError()
}
