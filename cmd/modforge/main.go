// SPDX-License-Identifier: MPL-2.0

// modforge builds the out-of-tree network driver against the running
// kernel inside a cached toolchain container, loads the result, and
// verifies it bound to a network interface. It takes no arguments; all
// tuning happens through MODFORGE_* environment variables.
package main

func main() {
	Execute()
}
