// SPDX-License-Identifier: MPL-2.0

package toolchain

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/modforge/modforge/internal/container"
	"github.com/modforge/modforge/internal/issue"
)

// fakeEngine is a scripted container.Engine for pipeline tests.
type fakeEngine struct {
	exists     bool
	buildErr   error
	buildCalls int
	builtTags  []string
	lastBuild  container.BuildOptions
}

func (f *fakeEngine) Name() string                                 { return "fake" }
func (f *fakeEngine) Available() bool                              { return true }
func (f *fakeEngine) Version(context.Context) (string, error)      { return "0.0-test", nil }
func (f *fakeEngine) Run(context.Context, container.RunOptions) (*container.RunResult, error) {
	return &container.RunResult{}, nil
}
func (f *fakeEngine) ImageExists(_ context.Context, _ string) (bool, error) {
	return f.exists, nil
}
func (f *fakeEngine) RemoveImage(context.Context, string, bool) error { return nil }

func (f *fakeEngine) Build(_ context.Context, opts container.BuildOptions) error {
	f.buildCalls++
	f.builtTags = append(f.builtTags, opts.Tag)
	f.lastBuild = opts
	return f.buildErr
}

func TestEnsure_SkipsWhenImagePresent(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{exists: true}

	built, err := Ensure(context.Background(), engine, "modforge-toolchain:latest", false, io.Discard)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if built {
		t.Error("built = true, want false for cached image")
	}
	if engine.buildCalls != 0 {
		t.Errorf("Build called %d times, want 0", engine.buildCalls)
	}
}

func TestEnsure_BuildsWhenAbsent(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{exists: false}

	built, err := Ensure(context.Background(), engine, "modforge-toolchain:latest", false, io.Discard)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !built {
		t.Error("built = false, want true for absent image")
	}
	if engine.buildCalls != 1 {
		t.Fatalf("Build called %d times, want 1", engine.buildCalls)
	}
	if engine.lastBuild.Tag != "modforge-toolchain:latest" {
		t.Errorf("built tag = %q", engine.lastBuild.Tag)
	}
	if engine.lastBuild.Containerfile == "" {
		t.Error("build options carry no Containerfile")
	}
}

func TestEnsure_RebuildFlagForcesBuild(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{exists: true}

	built, err := Ensure(context.Background(), engine, "modforge-toolchain:latest", true, io.Discard)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !built {
		t.Error("built = false, want true with rebuild requested")
	}
	if engine.buildCalls != 1 {
		t.Errorf("Build called %d times, want 1", engine.buildCalls)
	}
}

func TestEnsure_BuildFailureIsBuildError(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{exists: false, buildErr: errors.New("apt-get exited 100")}

	_, err := Ensure(context.Background(), engine, "modforge-toolchain:latest", false, io.Discard)
	if err == nil {
		t.Fatal("Ensure() error = nil, want build error")
	}
	if !errors.Is(err, issue.ErrBuild) {
		t.Errorf("error class = %v, want ErrBuild", err)
	}
}
