// SPDX-License-Identifier: MPL-2.0

// Package source ensures the driver source is present at a fixed location,
// by shallow checkout or reuse of an existing working copy. Reruns never
// pull updates: reproducibility and fast reruns win over freshness.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/modforge/modforge/internal/issue"
)

// Ensure makes dir a usable driver source checkout of repoURL. An absent
// dir is cloned shallowly (depth 1) at ref, or the default branch when ref
// is empty. An existing dir is validated as a version-controlled working
// copy and reused as-is.
func Ensure(ctx context.Context, dir, repoURL, ref string) error {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return clone(ctx, dir, repoURL, ref)
	case err != nil:
		return issue.NewErrorContext().
			WithClass(issue.ErrConfig).
			WithOperation("inspect source directory").
			WithResource(dir).
			Wrap(err).
			BuildError()
	}

	if !info.IsDir() {
		return issue.NewErrorContext().
			WithClass(issue.ErrConfig).
			WithOperation("validate existing source checkout").
			WithResource(dir).
			WithSuggestion("Remove the file blocking the checkout path").
			Wrap(fmt.Errorf("%s exists but is not a directory", dir)).
			BuildError()
	}

	// Any repository counts; the operator may have placed a patched tree
	// here on purpose, and it is reused without fetching.
	if _, err := git.PlainOpen(dir); err != nil {
		return issue.NewErrorContext().
			WithClass(issue.ErrConfig).
			WithOperation("validate existing source checkout").
			WithResource(dir).
			WithSuggestion("Remove the directory to let the pipeline clone a fresh copy").
			Wrap(err).
			BuildError()
	}

	return nil
}

// clone performs a shallow checkout. A non-empty ref is tried as a branch
// first, then as a tag; each failed attempt removes the partial clone so
// the next one starts clean.
func clone(ctx context.Context, dir, repoURL, ref string) error {
	refNames := []plumbing.ReferenceName{""}
	if ref != "" {
		refNames = []plumbing.ReferenceName{
			plumbing.NewBranchReferenceName(ref),
			plumbing.NewTagReferenceName(ref),
		}
	}

	var err error
	for _, refName := range refNames {
		opts := &git.CloneOptions{
			URL:          repoURL,
			Depth:        1,
			SingleBranch: true,
		}
		if refName != "" {
			opts.ReferenceName = refName
		}

		_, err = git.PlainCloneContext(ctx, dir, false, opts)
		if err == nil {
			return nil
		}
		os.RemoveAll(dir)
	}

	ctxb := issue.NewErrorContext().
		WithClass(issue.ErrConfig).
		WithOperation("clone driver source").
		WithResource(repoURL).
		WithSuggestion("Check network access to the source repository")
	if ref != "" {
		ctxb.WithSuggestion(fmt.Sprintf("Verify that %q exists as a branch or tag", ref))
	}
	return ctxb.Wrap(err).BuildError()
}
