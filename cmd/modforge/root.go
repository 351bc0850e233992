// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/modforge/modforge/internal/config"
	"github.com/modforge/modforge/internal/issue"
	"github.com/modforge/modforge/internal/pipeline"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// rootCmd is the whole CLI; modforge has no subcommands and takes no
	// arguments.
	rootCmd = &cobra.Command{
		Use:   "modforge",
		Short: "Build and install the host's network driver module",
		Long: TitleStyle.Render("modforge") + SubtitleStyle.Render(" - kernel driver build and install tool") + `

modforge compiles an out-of-tree network driver against the running
kernel's headers inside a containerized toolchain, loads the resulting
module, and verifies it bound to a network interface.

It must run as root and takes no arguments. Configuration comes from
MODFORGE_* environment variables:

  MODFORGE_BUILD_DIR      working directory (default /var/tmp/modforge)
  MODFORGE_IMAGE          toolchain image tag
  MODFORGE_REPO_URL       driver source repository
  MODFORGE_REPO_REF       branch or tag to check out
  MODFORGE_MODULE_NAME    kernel module name
  MODFORGE_ENGINE         auto, docker, or podman
  MODFORGE_REBUILD_IMAGE  rebuild the toolchain image even if cached
  MODFORGE_CLEAN_BUILD    remove the build directory when done
  MODFORGE_CLEAN_IMAGE    remove the toolchain image when done
  MODFORGE_VERBOSE        enable debug logging`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRoot,
	}
)

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits the process with the run's exit code.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

func runRoot(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return &ExitError{Code: exitCodeFor(err), Err: err}
	}

	logger := newLogger(cfg.Verbose)

	result, err := pipeline.Run(cmd.Context(), cfg, pipeline.DefaultDeps(logger, os.Stderr))
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+formatError(err, cfg.Verbose))
		return &ExitError{Code: exitCodeFor(err), Err: err}
	}

	printSummary(result)
	return nil
}

func newLogger(verbose bool) *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})
}

// exitCodeFor maps the error class to the process exit code.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, issue.ErrConfig):
		return 2
	case errors.Is(err, issue.ErrBuild):
		return 3
	case errors.Is(err, issue.ErrInstall):
		return 4
	default:
		return 1
	}
}

// formatError renders an error for terminal display, with actionable
// suggestions when the error carries them.
func formatError(err error, verbose bool) string {
	var actionable *issue.ActionableError
	if errors.As(err, &actionable) {
		return actionable.Format(verbose)
	}
	return err.Error()
}

func printSummary(result *pipeline.Result) {
	fmt.Println(SuccessStyle.Render("✓ module installed and verified"))
	fmt.Printf("  kernel:     %s\n", result.KernelRelease)
	fmt.Printf("  module:     %s\n", CmdStyle.Render(result.Artifact))

	report := result.Report
	if report.Reloaded {
		fmt.Println("  replaced a previously loaded instance")
	}
	if len(report.NewInterfaces) > 0 {
		fmt.Printf("  new ifaces: %s\n", strings.Join(report.NewInterfaces, ", "))
	}
	if len(report.BoundInterfaces) > 0 {
		fmt.Printf("  bound:      %s\n", strings.Join(report.BoundInterfaces, ", "))
	} else {
		fmt.Println(WarningStyle.Render("  no interface is bound to the module yet; the device may not have probed"))
	}
	if len(report.UpInterfaces) > 0 {
		fmt.Printf("  up:         %s\n", strings.Join(report.UpInterfaces, ", "))
	}
	if len(report.KernelLog) > 0 {
		fmt.Println(SubtitleStyle.Render("  module mentions in the kernel log:"))
		for _, line := range report.KernelLog {
			fmt.Println(VerboseStyle.Render("    " + line))
		}
	}
}
