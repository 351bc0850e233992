// SPDX-License-Identifier: MPL-2.0

// Package config loads the pipeline configuration from the process
// environment. Invocation is argument-free: every recognized option is a
// MODFORGE_* environment variable with a default, and the resulting Config
// is immutable once loaded.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/modforge/modforge/internal/issue"
)

const (
	// EnvPrefix is the prefix for all recognized environment variables.
	EnvPrefix = "MODFORGE"

	// DefaultBuildDir is where the driver source is checked out and the
	// compiled module artifact lands.
	DefaultBuildDir = "/var/tmp/modforge"

	// DefaultImage is the name of the cached toolchain image.
	DefaultImage = "modforge-toolchain:latest"

	// DefaultRepoURL is the upstream driver source repository.
	DefaultRepoURL = "https://github.com/awesometic/realtek-r8127-dkms"

	// DefaultModuleName is the kernel module the default repository builds.
	DefaultModuleName = "r8127"

	// sourceSubdir is the fixed checkout location under the build directory.
	sourceSubdir = "src"
)

// Engine preference values for the container runtime.
const (
	EngineAuto   = "auto"
	EngineDocker = "docker"
	EnginePodman = "podman"
)

// Config holds every recognized option, resolved before any pipeline
// component runs.
type Config struct {
	// BuildDir is the working directory for checkout and build outputs.
	BuildDir string `mapstructure:"build_dir"`

	// Image is the toolchain image name in the container runtime's store.
	Image string `mapstructure:"image"`

	// RepoURL is the driver source repository.
	RepoURL string `mapstructure:"repo_url"`

	// RepoRef is an optional branch or tag; empty means the repository's
	// default branch.
	RepoRef string `mapstructure:"repo_ref"`

	// ModuleName is the kernel module the build is expected to produce.
	ModuleName string `mapstructure:"module_name"`

	// Engine is the container runtime preference: auto, docker, or podman.
	Engine string `mapstructure:"engine"`

	// RebuildImage forces reconstruction of the toolchain image even when
	// an image by that name already exists.
	RebuildImage bool `mapstructure:"rebuild_image"`

	// CleanBuild removes the build directory on exit.
	CleanBuild bool `mapstructure:"clean_build"`

	// CleanImage removes the toolchain image on exit.
	CleanImage bool `mapstructure:"clean_image"`

	// Verbose raises the log level to debug.
	Verbose bool `mapstructure:"verbose"`
}

// Load resolves the configuration from defaults overlaid with MODFORGE_*
// environment variables. Returns an issue.ErrConfig classified error when
// a value is not usable.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("build_dir", DefaultBuildDir)
	v.SetDefault("image", DefaultImage)
	v.SetDefault("repo_url", DefaultRepoURL)
	v.SetDefault("repo_ref", "")
	v.SetDefault("module_name", DefaultModuleName)
	v.SetDefault("engine", EngineAuto)
	v.SetDefault("rebuild_image", false)
	v.SetDefault("clean_build", false)
	v.SetDefault("clean_image", false)
	v.SetDefault("verbose", false)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, issue.NewErrorContext().
			WithClass(issue.ErrConfig).
			WithOperation("parse environment configuration").
			WithSuggestion("Check that MODFORGE_* boolean variables are set to true/false or 1/0").
			Wrap(err).
			BuildError()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SourceDir returns the fixed checkout location for the driver source.
func (c *Config) SourceDir() string {
	return filepath.Join(c.BuildDir, sourceSubdir)
}

func (c *Config) validate() error {
	switch c.Engine {
	case EngineAuto, EngineDocker, EnginePodman:
	default:
		return issue.NewErrorContext().
			WithClass(issue.ErrConfig).
			WithOperation("validate environment configuration").
			WithResource(EnvPrefix + "_ENGINE").
			WithSuggestion("Set MODFORGE_ENGINE to auto, docker, or podman").
			Wrap(fmt.Errorf("unknown container engine %q", c.Engine)).
			BuildError()
	}

	for name, val := range map[string]string{
		EnvPrefix + "_BUILD_DIR":   c.BuildDir,
		EnvPrefix + "_IMAGE":       c.Image,
		EnvPrefix + "_REPO_URL":    c.RepoURL,
		EnvPrefix + "_MODULE_NAME": c.ModuleName,
	} {
		if val == "" {
			return issue.NewErrorContext().
				WithClass(issue.ErrConfig).
				WithOperation("validate environment configuration").
				WithResource(name).
				WithSuggestion("Unset the variable to use the default, or give it a non-empty value").
				Wrap(fmt.Errorf("%s must not be empty", name)).
				BuildError()
		}
	}

	if !filepath.IsAbs(c.BuildDir) {
		return issue.NewErrorContext().
			WithClass(issue.ErrConfig).
			WithOperation("validate environment configuration").
			WithResource(EnvPrefix + "_BUILD_DIR").
			WithSuggestion("Use an absolute path; the directory is bind mounted into the build sandbox").
			Wrap(fmt.Errorf("build directory %q is not absolute", c.BuildDir)).
			BuildError()
	}

	return nil
}
