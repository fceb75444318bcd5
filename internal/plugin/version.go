package plugin

import (
	"strconv"
	"strings"
)

// parseVersion splits a dotted numeric version into integer components.
// A prerelease or build suffix on the last component is ignored for
// comparison purposes. Unparseable components count as zero.
func parseVersion(v string) []int {
	if idx := strings.IndexAny(v, "-+"); idx >= 0 {
		v = v[:idx]
	}
	parts := strings.Split(v, ".")
	components := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			n = 0
		}
		components[i] = n
	}
	return components
}

// compareVersions compares two dotted numeric versions component-wise.
// Missing trailing components are treated as zero, so "1.2" == "1.2.0".
// Returns -1, 0 or 1.
func compareVersions(a, b string) int {
	av := parseVersion(a)
	bv := parseVersion(b)

	n := len(av)
	if len(bv) > n {
		n = len(bv)
	}
	for i := 0; i < n; i++ {
		var ac, bc int
		if i < len(av) {
			ac = av[i]
		}
		if i < len(bv) {
			bc = bv[i]
		}
		switch {
		case ac < bc:
			return -1
		case ac > bc:
			return 1
		}
	}
	return 0
}

// versionSatisfies reports whether an installed candidate version meets a
// required minimum version. An empty requirement matches anything.
func versionSatisfies(candidate, required string) bool {
	if required == "" {
		return true
	}
	return compareVersions(candidate, required) >= 0
}
