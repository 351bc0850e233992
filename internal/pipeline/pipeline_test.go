// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/modforge/modforge/internal/config"
	"github.com/modforge/modforge/internal/container"
	"github.com/modforge/modforge/internal/hostinfo"
	"github.com/modforge/modforge/internal/issue"
	"github.com/modforge/modforge/internal/verify"
)

type cleanupEngine struct {
	removeImageCalls int
	removedTags      []string
}

func (e *cleanupEngine) Name() string                            { return "fake" }
func (e *cleanupEngine) Available() bool                         { return true }
func (e *cleanupEngine) Version(context.Context) (string, error) { return "0.0-test", nil }
func (e *cleanupEngine) Build(context.Context, container.BuildOptions) error {
	return nil
}
func (e *cleanupEngine) Run(context.Context, container.RunOptions) (*container.RunResult, error) {
	return &container.RunResult{}, nil
}
func (e *cleanupEngine) ImageExists(context.Context, string) (bool, error) { return true, nil }
func (e *cleanupEngine) RemoveImage(_ context.Context, tag string, _ bool) error {
	e.removeImageCalls++
	e.removedTags = append(e.removedTags, tag)
	return nil
}

type fakeVerifier struct {
	report *verify.Report
	err    error
	calls  int
}

func (f *fakeVerifier) Install(context.Context, string, string) (*verify.Report, error) {
	f.calls++
	return f.report, f.err
}

// testHarness carries the mutable counters the dep stubs record into.
type testHarness struct {
	engine         *cleanupEngine
	verifier       *fakeVerifier
	removeAllCalls int
	removedPaths   []string
	stageCalls     map[string]int
}

func newHarness() *testHarness {
	return &testHarness{
		engine:     &cleanupEngine{},
		verifier:   &fakeVerifier{report: &verify.Report{BoundInterfaces: []string{"eth9"}}},
		stageCalls: map[string]int{},
	}
}

func (h *testHarness) deps() *Deps {
	return &Deps{
		Geteuid: func() int { return 0 },
		ResolveHost: func() (*hostinfo.HostEnvironment, error) {
			h.stageCalls["host"]++
			return &hostinfo.HostEnvironment{KernelRelease: "6.1.0-18-amd64", HeaderDir: "/lib/modules/6.1.0-18-amd64/build"}, nil
		},
		NewEngine: func(string) (container.Engine, error) {
			h.stageCalls["engine"]++
			return h.engine, nil
		},
		EnsureImage: func(context.Context, container.Engine, string, bool, io.Writer) (bool, error) {
			h.stageCalls["image"]++
			return false, nil
		},
		EnsureSource: func(context.Context, string, string, string) error {
			h.stageCalls["source"]++
			return nil
		},
		Compile: func(context.Context, container.Engine, *hostinfo.HostEnvironment, string, string, string, io.Writer) (string, error) {
			h.stageCalls["compile"]++
			return "/var/tmp/modforge/src/r8127.ko", nil
		},
		NewVerifier: func(*log.Logger) installVerifier { return h.verifier },
		RemoveAll: func(path string) error {
			h.removeAllCalls++
			h.removedPaths = append(h.removedPaths, path)
			return nil
		},
		Logger: log.NewWithOptions(io.Discard, log.Options{}),
		Output: io.Discard,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		BuildDir:   "/var/tmp/modforge",
		Image:      "modforge-toolchain:latest",
		RepoURL:    "https://example.com/driver.git",
		ModuleName: "r8127",
		Engine:     config.EngineAuto,
	}
}

func TestRun_Success(t *testing.T) {
	t.Parallel()

	h := newHarness()
	result, err := Run(context.Background(), testConfig(), h.deps())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.KernelRelease != "6.1.0-18-amd64" {
		t.Errorf("KernelRelease = %q", result.KernelRelease)
	}
	if result.Artifact != "/var/tmp/modforge/src/r8127.ko" {
		t.Errorf("Artifact = %q", result.Artifact)
	}
	if h.verifier.calls != 1 {
		t.Errorf("verifier calls = %d, want 1", h.verifier.calls)
	}
	for _, stage := range []string{"host", "engine", "image", "source", "compile"} {
		if h.stageCalls[stage] != 1 {
			t.Errorf("stage %s called %d times, want 1", stage, h.stageCalls[stage])
		}
	}
}

func TestRun_RequiresRoot(t *testing.T) {
	t.Parallel()

	h := newHarness()
	deps := h.deps()
	deps.Geteuid = func() int { return 1000 }

	_, err := Run(context.Background(), testConfig(), deps)
	if !errors.Is(err, issue.ErrConfig) {
		t.Fatalf("error = %v, want ErrConfig", err)
	}
	if len(h.stageCalls) != 0 {
		t.Errorf("stages ran without root: %v", h.stageCalls)
	}
}

func TestRun_StageFailureStopsPipeline(t *testing.T) {
	t.Parallel()

	stageErr := errors.New("boom")

	tests := []struct {
		name   string
		breakF func(*Deps)
		after  []string
	}{
		{
			"host inspection",
			func(d *Deps) {
				d.ResolveHost = func() (*hostinfo.HostEnvironment, error) { return nil, stageErr }
			},
			[]string{"engine", "image", "source", "compile"},
		},
		{
			"image build",
			func(d *Deps) {
				d.EnsureImage = func(context.Context, container.Engine, string, bool, io.Writer) (bool, error) {
					return false, stageErr
				}
			},
			[]string{"source", "compile"},
		},
		{
			"source checkout",
			func(d *Deps) {
				d.EnsureSource = func(context.Context, string, string, string) error { return stageErr }
			},
			[]string{"compile"},
		},
		{
			"compile",
			func(d *Deps) {
				d.Compile = func(context.Context, container.Engine, *hostinfo.HostEnvironment, string, string, string, io.Writer) (string, error) {
					return "", stageErr
				}
			},
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness()
			deps := h.deps()
			tt.breakF(deps)

			_, err := Run(context.Background(), testConfig(), deps)
			if !errors.Is(err, stageErr) {
				t.Fatalf("error = %v, want wrapped stage error", err)
			}
			for _, stage := range tt.after {
				if h.stageCalls[stage] != 0 {
					t.Errorf("stage %s ran after the failure", stage)
				}
			}
			if h.verifier.calls != 0 {
				t.Error("verifier ran after the failure")
			}
		})
	}
}

func TestRun_CleanBuildRunsOnSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness()
	cfg := testConfig()
	cfg.CleanBuild = true

	if _, err := Run(context.Background(), cfg, h.deps()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.removeAllCalls != 1 {
		t.Errorf("RemoveAll calls = %d, want exactly 1", h.removeAllCalls)
	}
	if h.removedPaths[0] != "/var/tmp/modforge" {
		t.Errorf("removed %q, want the build directory", h.removedPaths[0])
	}
}

func TestRun_CleanBuildRunsExactlyOnceOnFailure(t *testing.T) {
	t.Parallel()

	breakers := map[string]func(*Deps){
		"host": func(d *Deps) {
			d.ResolveHost = func() (*hostinfo.HostEnvironment, error) { return nil, errors.New("boom") }
		},
		"image": func(d *Deps) {
			d.EnsureImage = func(context.Context, container.Engine, string, bool, io.Writer) (bool, error) {
				return false, errors.New("boom")
			}
		},
		"source": func(d *Deps) {
			d.EnsureSource = func(context.Context, string, string, string) error { return errors.New("boom") }
		},
		"compile": func(d *Deps) {
			d.Compile = func(context.Context, container.Engine, *hostinfo.HostEnvironment, string, string, string, io.Writer) (string, error) {
				return "", errors.New("boom")
			}
		},
	}
	for name, breakF := range breakers {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h := newHarness()
			deps := h.deps()
			breakF(deps)
			cfg := testConfig()
			cfg.CleanBuild = true

			if _, err := Run(context.Background(), cfg, deps); err == nil {
				t.Fatal("Run() error = nil, want stage failure")
			}
			if h.removeAllCalls != 1 {
				t.Errorf("RemoveAll calls = %d, want exactly 1", h.removeAllCalls)
			}
		})
	}
}

func TestRun_CleanImageRemovesImage(t *testing.T) {
	t.Parallel()

	h := newHarness()
	cfg := testConfig()
	cfg.CleanImage = true

	if _, err := Run(context.Background(), cfg, h.deps()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.engine.removeImageCalls != 1 {
		t.Errorf("RemoveImage calls = %d, want 1", h.engine.removeImageCalls)
	}
	if h.engine.removedTags[0] != "modforge-toolchain:latest" {
		t.Errorf("removed %q", h.engine.removedTags[0])
	}
}

func TestRun_CleanImageSkippedWithoutEngine(t *testing.T) {
	t.Parallel()

	h := newHarness()
	deps := h.deps()
	deps.ResolveHost = func() (*hostinfo.HostEnvironment, error) { return nil, errors.New("boom") }
	cfg := testConfig()
	cfg.CleanImage = true

	if _, err := Run(context.Background(), cfg, deps); err == nil {
		t.Fatal("Run() error = nil, want failure")
	}
	if h.engine.removeImageCalls != 0 {
		t.Errorf("RemoveImage calls = %d, want 0 before an engine exists", h.engine.removeImageCalls)
	}
}

func TestRun_NoCleanupByDefault(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if _, err := Run(context.Background(), testConfig(), h.deps()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.removeAllCalls != 0 {
		t.Errorf("RemoveAll calls = %d, want 0", h.removeAllCalls)
	}
	if h.engine.removeImageCalls != 0 {
		t.Errorf("RemoveImage calls = %d, want 0", h.engine.removeImageCalls)
	}
}

func TestRun_VerifierFailurePropagates(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.verifier.report = nil
	h.verifier.err = issue.NewErrorContext().
		WithClass(issue.ErrInstall).
		WithOperation("verify driver binding").
		Wrap(errors.New("no interface")).
		BuildError()

	_, err := Run(context.Background(), testConfig(), h.deps())
	if !errors.Is(err, issue.ErrInstall) {
		t.Fatalf("error = %v, want ErrInstall", err)
	}
}
