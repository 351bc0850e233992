// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable, classified errors for user-facing
// failure reporting.
//
// Every terminal pipeline failure is an ActionableError describing what
// operation failed, what resource was involved, and how the operator can
// fix it. Errors carry one of three classes (config, build, install) that
// callers inspect with errors.Is to pick an exit code.
package issue
