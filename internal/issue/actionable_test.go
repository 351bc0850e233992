// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"strings"
	"testing"
)

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *ActionableError
		expected string
	}{
		{
			name:     "operation only",
			err:      &ActionableError{Operation: "probe toolchain image"},
			expected: "failed to probe toolchain image",
		},
		{
			name: "operation and resource",
			err: &ActionableError{
				Operation: "locate kernel headers",
				Resource:  "/lib/modules/6.1.0-18-amd64/build",
			},
			expected: "failed to locate kernel headers: /lib/modules/6.1.0-18-amd64/build",
		},
		{
			name: "operation, resource, and cause",
			err: &ActionableError{
				Operation: "clone driver source",
				Resource:  "/var/tmp/modforge/src",
				Cause:     errors.New("repository not found"),
			},
			expected: "failed to clone driver source: /var/tmp/modforge/src: repository not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestActionableError_Class(t *testing.T) {
	t.Parallel()

	err := NewErrorContext().
		WithClass(ErrBuild).
		WithOperation("build toolchain image").
		Wrap(errors.New("exit status 1")).
		BuildError()

	if !errors.Is(err, ErrBuild) {
		t.Error("errors.Is(err, ErrBuild) = false, want true")
	}
	if errors.Is(err, ErrConfig) {
		t.Error("errors.Is(err, ErrConfig) = true, want false")
	}
	if errors.Is(err, ErrInstall) {
		t.Error("errors.Is(err, ErrInstall) = true, want false")
	}
}

func TestActionableError_ClassSurvivesWrapping(t *testing.T) {
	t.Parallel()

	inner := NewErrorContext().
		WithClass(ErrInstall).
		WithOperation("load module").
		BuildError()
	outer := errors.Join(errors.New("pipeline aborted"), inner)

	if !errors.Is(outer, ErrInstall) {
		t.Error("class not detectable through wrapping")
	}
}

func TestActionableError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("permission denied")
	err := NewErrorContext().
		WithClass(ErrConfig).
		WithOperation("read sysfs").
		Wrap(cause).
		Build()

	if !errors.Is(err, cause) {
		t.Error("cause not reachable via errors.Is")
	}
	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	err := NewErrorContext().
		WithClass(ErrConfig).
		WithOperation("locate kernel headers").
		WithResource("/usr/src/kernels/production").
		WithSuggestion("Install the kernel headers package for the running kernel").
		WithSuggestion("Set MODFORGE_VERBOSE=1 for more detail").
		Wrap(errors.New("no such file or directory")).
		Build()

	out := err.Format(false)
	if !strings.Contains(out, "failed to locate kernel headers") {
		t.Errorf("Format() missing operation: %q", out)
	}
	if !strings.Contains(out, "• Install the kernel headers package") {
		t.Errorf("Format() missing suggestion: %q", out)
	}
	if strings.Contains(out, "Error chain") {
		t.Errorf("non-verbose Format() includes error chain: %q", out)
	}

	verbose := err.Format(true)
	if !strings.Contains(verbose, "Error chain:") {
		t.Errorf("verbose Format() missing error chain: %q", verbose)
	}
	if !strings.Contains(verbose, "1. no such file or directory") {
		t.Errorf("verbose Format() missing chain entry: %q", verbose)
	}
}

func TestErrorContext_BuildRequiresOperation(t *testing.T) {
	t.Parallel()

	if err := NewErrorContext().WithResource("/tmp/x").BuildError(); err != nil {
		t.Errorf("BuildError() without operation = %v, want nil", err)
	}
}

func TestActionableError_HasSuggestions(t *testing.T) {
	t.Parallel()

	with := NewErrorContext().WithOperation("x").WithSuggestion("do y").Build()
	without := NewErrorContext().WithOperation("x").Build()

	if !with.HasSuggestions() {
		t.Error("HasSuggestions() = false, want true")
	}
	if without.HasSuggestions() {
		t.Error("HasSuggestions() = true, want false")
	}
}
