// SPDX-License-Identifier: MPL-2.0

// Package toolchain maintains the cached build-sandbox image. The image
// definition is generated by the pipeline itself so every run is
// self-contained; nothing about the image is read from the host.
package toolchain

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/modforge/modforge/internal/container"
	"github.com/modforge/modforge/internal/issue"
)

// containerfile is the fixed, minimal build-sandbox definition: base OS,
// the kbuild package set, and a working directory. Changing the package
// set means bumping the image name or forcing a rebuild.
const containerfile = `FROM debian:bookworm-slim
RUN apt-get update && \
    apt-get install -y --no-install-recommends \
        make gcc bc bison flex kmod cpio \
        libelf-dev libssl-dev && \
    rm -rf /var/lib/apt/lists/*
WORKDIR /build
`

// Ensure makes the named toolchain image available, building it only when
// it is absent or rebuild is set. Returns whether a build was performed.
// Image existence is probed on every run, never assumed from a prior one.
func Ensure(ctx context.Context, engine container.Engine, image string, rebuild bool, output io.Writer) (bool, error) {
	exists, err := engine.ImageExists(ctx, image)
	if err != nil {
		return false, issue.NewErrorContext().
			WithClass(issue.ErrBuild).
			WithOperation("probe toolchain image").
			WithResource(image).
			Wrap(err).
			BuildError()
	}

	if exists && !rebuild {
		return false, nil
	}

	contextDir, err := os.MkdirTemp("", "modforge-image-*")
	if err != nil {
		return false, issue.NewErrorContext().
			WithClass(issue.ErrBuild).
			WithOperation("create image build context").
			Wrap(err).
			BuildError()
	}
	defer os.RemoveAll(contextDir)

	if err := os.WriteFile(filepath.Join(contextDir, "Containerfile"), []byte(containerfile), 0o644); err != nil {
		return false, issue.NewErrorContext().
			WithClass(issue.ErrBuild).
			WithOperation("write toolchain image definition").
			WithResource(contextDir).
			Wrap(err).
			BuildError()
	}

	err = engine.Build(ctx, container.BuildOptions{
		ContextDir:    contextDir,
		Containerfile: "Containerfile",
		Tag:           image,
		Stdout:        output,
		Stderr:        output,
	})
	if err != nil {
		return false, issue.NewErrorContext().
			WithClass(issue.ErrBuild).
			WithOperation("build toolchain image").
			WithResource(image).
			WithSuggestion("Check that the container runtime can reach the image registry").
			WithSuggestion("Inspect the build output above for the failing package installation").
			Wrap(err).
			BuildError()
	}

	return true, nil
}
