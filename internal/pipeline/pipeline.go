// SPDX-License-Identifier: MPL-2.0

// Package pipeline sequences a full run: host inspection, toolchain image,
// source checkout, containerized build, then install and verification on
// the host. Stages run in order and the first failure ends the run.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/modforge/modforge/internal/buildrun"
	"github.com/modforge/modforge/internal/config"
	"github.com/modforge/modforge/internal/container"
	"github.com/modforge/modforge/internal/hostinfo"
	"github.com/modforge/modforge/internal/issue"
	"github.com/modforge/modforge/internal/kmod"
	"github.com/modforge/modforge/internal/netif"
	"github.com/modforge/modforge/internal/source"
	"github.com/modforge/modforge/internal/toolchain"
	"github.com/modforge/modforge/internal/verify"
)

// Deps are the stage implementations a run uses. Production wiring comes
// from DefaultDeps; tests substitute individual stages.
type Deps struct {
	Geteuid      func() int
	ResolveHost  func() (*hostinfo.HostEnvironment, error)
	NewEngine    func(preference string) (container.Engine, error)
	EnsureImage  func(ctx context.Context, engine container.Engine, image string, rebuild bool, output io.Writer) (bool, error)
	EnsureSource func(ctx context.Context, dir, repoURL, ref string) error
	Compile      func(ctx context.Context, engine container.Engine, env *hostinfo.HostEnvironment, srcDir, image, moduleName string, output io.Writer) (string, error)
	NewVerifier  func(logger *log.Logger) installVerifier
	RemoveAll    func(path string) error

	Logger *log.Logger
	Output io.Writer
}

type installVerifier interface {
	Install(ctx context.Context, objectPath, moduleName string) (*verify.Report, error)
}

// DefaultDeps wires the real stage implementations.
func DefaultDeps(logger *log.Logger, output io.Writer) *Deps {
	return &Deps{
		Geteuid: os.Geteuid,
		ResolveHost: func() (*hostinfo.HostEnvironment, error) {
			return hostinfo.NewInspector().Resolve()
		},
		NewEngine:    container.NewEngine,
		EnsureImage:  toolchain.Ensure,
		EnsureSource: source.Ensure,
		Compile:      buildrun.Compile,
		NewVerifier: func(logger *log.Logger) installVerifier {
			return verify.NewVerifier(kmod.NewManager(), netif.NewInspector(), logger)
		},
		RemoveAll: os.RemoveAll,
		Logger:    logger,
		Output:    output,
	}
}

// guard runs end-of-run cleanup exactly once no matter how many exit paths
// reach it.
type guard struct {
	once sync.Once
	fn   func()
}

func (g *guard) run() {
	g.once.Do(g.fn)
}

// Result is what a successful run produced.
type Result struct {
	KernelRelease string
	ImageBuilt    bool
	Artifact      string
	Report        *verify.Report
}

// Run executes the full pipeline. Cleanup configured through the flags in
// cfg happens on every exit path, success or failure, exactly once.
func Run(ctx context.Context, cfg *config.Config, deps *Deps) (*Result, error) {
	if deps.Geteuid() != 0 {
		return nil, issue.NewErrorContext().
			WithClass(issue.ErrConfig).
			WithOperation("check privileges").
			WithSuggestion("Run as root; loading kernel modules requires it").
			Wrap(fmt.Errorf("running as uid %d, need root", deps.Geteuid())).
			BuildError()
	}

	var engine container.Engine
	cleanup := &guard{fn: func() {
		if cfg.CleanBuild {
			deps.Logger.Info("removing build directory", "dir", cfg.BuildDir)
			if err := deps.RemoveAll(cfg.BuildDir); err != nil {
				deps.Logger.Warn("could not remove build directory", "err", err)
			}
		}
		if cfg.CleanImage && engine != nil {
			deps.Logger.Info("removing toolchain image", "image", cfg.Image)
			if err := engine.RemoveImage(context.Background(), cfg.Image, true); err != nil {
				deps.Logger.Warn("could not remove toolchain image", "err", err)
			}
		}
	}}
	defer cleanup.run()

	env, err := deps.ResolveHost()
	if err != nil {
		return nil, err
	}
	deps.Logger.Info("host inspected", "kernel", env.KernelRelease, "headers", env.HeaderDir)

	engine, err = deps.NewEngine(cfg.Engine)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithClass(issue.ErrConfig).
			WithOperation("select container engine").
			WithSuggestion("Install docker or podman, or set MODFORGE_ENGINE explicitly").
			Wrap(err).
			BuildError()
	}
	deps.Logger.Info("container engine selected", "engine", engine.Name())

	built, err := deps.EnsureImage(ctx, engine, cfg.Image, cfg.RebuildImage, deps.Output)
	if err != nil {
		return nil, err
	}
	if built {
		deps.Logger.Info("toolchain image built", "image", cfg.Image)
	} else {
		deps.Logger.Info("toolchain image reused", "image", cfg.Image)
	}

	srcDir := cfg.SourceDir()
	if err := deps.EnsureSource(ctx, srcDir, cfg.RepoURL, cfg.RepoRef); err != nil {
		return nil, err
	}
	deps.Logger.Info("driver source ready", "dir", srcDir)

	artifact, err := deps.Compile(ctx, engine, env, srcDir, cfg.Image, cfg.ModuleName, deps.Output)
	if err != nil {
		return nil, err
	}
	deps.Logger.Info("module compiled", "artifact", artifact)

	report, err := deps.NewVerifier(deps.Logger).Install(ctx, artifact, cfg.ModuleName)
	if err != nil {
		return nil, err
	}

	if !cfg.CleanBuild {
		deps.Logger.Info("build artifacts kept", "artifact", artifact)
	}

	return &Result{
		KernelRelease: env.KernelRelease,
		ImageBuilt:    built,
		Artifact:      artifact,
		Report:        report,
	}, nil
}
