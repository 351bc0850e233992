// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package hostinfo

import "errors"

// kernelRelease is only meaningful on Linux; the pipeline loads Linux
// kernel modules and cannot run anywhere else.
func kernelRelease() (string, error) {
	return "", errors.New("kernel module builds are only supported on linux")
}
