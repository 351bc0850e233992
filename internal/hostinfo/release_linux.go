// SPDX-License-Identifier: MPL-2.0

//go:build linux

package hostinfo

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// kernelRelease returns the running kernel's release string via uname(2).
func kernelRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("uname: %w", err)
	}
	return unix.ByteSliceToString(uts.Release[:]), nil
}
