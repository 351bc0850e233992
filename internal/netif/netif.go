// SPDX-License-Identifier: MPL-2.0

// Package netif reads network interface state from sysfs: which interfaces
// exist, which driver module each is bound to, and which are operationally
// up.
package netif

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultSysClassNet is the sysfs directory with one entry per network
// interface.
const DefaultSysClassNet = "/sys/class/net"

// Inspector reads interface state from a sysfs class/net root. The root is
// replaced in tests.
type Inspector struct {
	root string
}

// NewInspector creates an Inspector over the real sysfs tree.
func NewInspector() *Inspector {
	return &Inspector{root: DefaultSysClassNet}
}

// NewInspectorAt creates an Inspector over an alternate class/net root.
func NewInspectorAt(root string) *Inspector {
	return &Inspector{root: root}
}

// Snapshot returns the names of all network interfaces, sorted.
func (i *Inspector) Snapshot() ([]string, error) {
	entries, err := os.ReadDir(i.root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", i.root, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Diff returns the interfaces present in after but not in before, sorted.
// Duplicates collapse; ordering of the inputs does not matter.
func Diff(before, after []string) []string {
	seen := make(map[string]struct{}, len(before))
	for _, name := range before {
		seen[name] = struct{}{}
	}
	added := make(map[string]struct{})
	for _, name := range after {
		if _, ok := seen[name]; !ok {
			added[name] = struct{}{}
		}
	}
	result := make([]string, 0, len(added))
	for name := range added {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// BoundTo returns the interfaces whose backing device driver is provided by
// the named kernel module, sorted. Virtual interfaces without a device
// symlink, and drivers without a module link, are skipped silently.
func (i *Inspector) BoundTo(module string) ([]string, error) {
	names, err := i.Snapshot()
	if err != nil {
		return nil, err
	}
	var bound []string
	for _, name := range names {
		mod, err := i.driverModule(name)
		if err != nil || mod == "" {
			continue
		}
		if mod == module {
			bound = append(bound, name)
		}
	}
	return bound, nil
}

// driverModule resolves the module name backing an interface through the
// device/driver/module symlink chain. The module directory name is the
// loaded module's name.
func (i *Inspector) driverModule(iface string) (string, error) {
	link := filepath.Join(i.root, iface, "device", "driver", "module")
	target, err := os.Readlink(link)
	if err != nil {
		return "", err
	}
	return filepath.Base(target), nil
}

// Up returns the subset of the given interfaces whose operstate reads
// "up". Interfaces without a readable operstate are treated as not up.
func (i *Inspector) Up(names []string) []string {
	var up []string
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(i.root, name, "operstate"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(data)) == "up" {
			up = append(up, name)
		}
	}
	return up
}
