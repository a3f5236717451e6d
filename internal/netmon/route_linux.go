//go:build linux

package netmon

import (
	"os"
	"strings"
)

// defaultRouteInterface returns the interface name carrying the default
// route, read from /proc/net/route. Returns "" when no default route
// exists.
func defaultRouteInterface() string {
	data, err := os.ReadFile("/proc/net/route")
	if err != nil {
		return ""
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if i == 0 {
			continue // header
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[1] == "00000000" {
			return fields[0]
		}
	}
	return ""
}
