package rules

import (
	"strings"

	"github.com/celeratec/cipp-console/internal/shared"
)

// Helpers used by the built-in catalogs. A missing setting never matches, so an
// incomplete snapshot cannot raise a false alarm.

func isTrue(s shared.Snapshot, path string) bool {
	return s.Exists(path) && s.Bool(path)
}

func isFalse(s shared.Snapshot, path string) bool {
	return s.Exists(path) && !s.Bool(path)
}

func equalsAny(s shared.Snapshot, path string, values ...string) bool {
	if !s.Exists(path) {
		return false
	}
	actual := s.String(path)
	for _, v := range values {
		if strings.EqualFold(actual, v) {
			return true
		}
	}
	return false
}

func listContains(s shared.Snapshot, path, value string) bool {
	for _, item := range s.Strings(path) {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

func listEmpty(s shared.Snapshot, path string) bool {
	return len(s.Strings(path)) == 0
}

func atMost(s shared.Snapshot, path string, limit float64) bool {
	return s.Exists(path) && s.Number(path) <= limit
}
