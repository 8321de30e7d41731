package diagnose

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Matcher decides whether an error payload belongs to a failure class.
type Matcher interface {
	Match(payload string) bool
}

type containsMatcher []string

// Contains matches when the payload contains any of substrings, ignoring case.
func Contains(substrings ...string) Matcher {
	lowered := make(containsMatcher, 0, len(substrings))
	for _, s := range substrings {
		lowered = append(lowered, strings.ToLower(s))
	}
	return lowered
}

func (m containsMatcher) Match(payload string) bool {
	p := strings.ToLower(payload)
	for _, s := range m {
		if s != "" && strings.Contains(p, s) {
			return true
		}
	}
	return false
}

type regexpMatcher struct {
	re *regexp.Regexp
}

// Pattern matches the payload against a regular expression. It panics on an
// invalid expression, like regexp.MustCompile.
func Pattern(expr string) Matcher {
	return regexpMatcher{re: regexp.MustCompile(expr)}
}

func (m regexpMatcher) Match(payload string) bool {
	return m.re.MatchString(payload)
}

type fieldMatcher struct {
	path   string
	values []string
}

// Field matches JSON payloads whose value at path equals one of values,
// ignoring case. With no values, the field only has to exist.
func Field(path string, values ...string) Matcher {
	return fieldMatcher{path: path, values: values}
}

func (m fieldMatcher) Match(payload string) bool {
	trimmed := strings.TrimSpace(payload)
	if !strings.HasPrefix(trimmed, "{") || !gjson.Valid(trimmed) {
		return false
	}
	r := gjson.Get(trimmed, m.path)
	if !r.Exists() {
		return false
	}
	if len(m.values) == 0 {
		return true
	}
	actual := r.String()
	for _, v := range m.values {
		if strings.EqualFold(actual, v) {
			return true
		}
	}
	return false
}

// errorMessage extracts a human readable message from a JSON error body,
// falling back to the payload itself.
func errorMessage(payload string) string {
	trimmed := strings.TrimSpace(payload)
	if strings.HasPrefix(trimmed, "{") && gjson.Valid(trimmed) {
		for _, path := range []string{"error.message", "message", "Results", "error"} {
			if r := gjson.Get(trimmed, path); r.Exists() && r.Type == gjson.String {
				return r.String()
			}
		}
	}
	return trimmed
}
