// SPDX-License-Identifier: MPL-2.0

// Package container provides an abstraction layer over the docker and
// podman CLIs. The pipeline only needs image probe/build/remove and a
// single ephemeral run with bind mounts, so the surface is deliberately
// narrow and every subprocess is created through an injectable exec
// function so the whole pipeline is testable without a container runtime.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Engine defines the interface for container operations.
type Engine interface {
	// Name returns the engine name (docker or podman).
	Name() string
	// Available checks if the engine is available on the system.
	Available() bool
	// Version returns the engine version.
	Version(ctx context.Context) (string, error)

	// Build builds an image from a Containerfile.
	Build(ctx context.Context, opts BuildOptions) error
	// Run runs a command in an ephemeral container.
	Run(ctx context.Context, opts RunOptions) (*RunResult, error)
	// ImageExists checks if an image exists in the local store.
	ImageExists(ctx context.Context, image string) (bool, error)
	// RemoveImage removes an image from the local store.
	RemoveImage(ctx context.Context, image string, force bool) error
}

// BuildOptions contains options for building an image.
type BuildOptions struct {
	// ContextDir is the build context directory.
	ContextDir string
	// Containerfile is the path to the Containerfile (relative to ContextDir).
	Containerfile string
	// Tag is the image tag.
	Tag string
	// Stdout is where to write build output.
	Stdout io.Writer
	// Stderr is where to write build errors.
	Stderr io.Writer
}

// VolumeMount is a bind mount specification.
type VolumeMount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// RunOptions contains options for running a container.
type RunOptions struct {
	// Image is the image to run.
	Image string
	// Command is the command to run.
	Command []string
	// WorkDir is the working directory inside the container.
	WorkDir string
	// Env contains environment variables.
	Env map[string]string
	// Volumes are bind mounts.
	Volumes []VolumeMount
	// Remove automatically removes the container after exit.
	Remove bool
	// Name is the container name.
	Name string
	// Stdout is where to write standard output.
	Stdout io.Writer
	// Stderr is where to write standard error.
	Stderr io.Writer
}

// RunResult contains the result of running a container.
type RunResult struct {
	// ExitCode is the container process exit code.
	ExitCode int
	// Error contains any infrastructure error (binary missing, etc.).
	// A non-zero exit of the containerized command is reported via
	// ExitCode, not Error.
	Error error
}

// ErrNoEngineAvailable is the sentinel wrapped by EngineNotAvailableError.
var ErrNoEngineAvailable = errors.New("no container engine available")

// EngineNotAvailableError is returned when a container engine is not available.
type EngineNotAvailableError struct {
	Engine string
	Reason string
}

func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// Unwrap returns ErrNoEngineAvailable so callers can use errors.Is.
func (e *EngineNotAvailableError) Unwrap() error { return ErrNoEngineAvailable }

// NewEngine creates a container engine for the given preference: "docker",
// "podman", or "auto". An explicit preference falls back to the other
// engine when the preferred one is missing; "auto" prefers docker.
func NewEngine(preference string) (Engine, error) {
	switch preference {
	case "docker", "auto", "":
		docker := NewDockerEngine()
		if docker.Available() {
			return docker, nil
		}
		podman := NewPodmanEngine()
		if podman.Available() {
			return podman, nil
		}
		return nil, &EngineNotAvailableError{
			Engine: "docker",
			Reason: "docker is not installed or not accessible, and podman fallback is also not available",
		}

	case "podman":
		podman := NewPodmanEngine()
		if podman.Available() {
			return podman, nil
		}
		docker := NewDockerEngine()
		if docker.Available() {
			return docker, nil
		}
		return nil, &EngineNotAvailableError{
			Engine: "podman",
			Reason: "podman is not installed or not accessible, and docker fallback is also not available",
		}

	default:
		return nil, fmt.Errorf("unknown container engine type: %s", preference)
	}
}
