package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/celeratec/cipp-console/internal/shared"
	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk form of a custom catalog:
//
//	area: sharing
//	version: 1.0.0
//	rules:
//	  - id: custom.sharing.guest-expiry
//	    severity: warning
//	    title: Guest access never expires
//	    when:
//	      all:
//	        - {path: externalUserExpirationRequired, op: "false"}
type catalogFile struct {
	Area    string     `yaml:"area"`
	Version string     `yaml:"version"`
	Title   string     `yaml:"title"`
	Rules   []ruleFile `yaml:"rules"`
}

type ruleFile struct {
	ID             string    `yaml:"id"`
	Severity       string    `yaml:"severity"`
	Title          string    `yaml:"title"`
	Description    string    `yaml:"description"`
	Recommendation string    `yaml:"recommendation"`
	When           whenBlock `yaml:"when"`
}

type whenBlock struct {
	All []Condition `yaml:"all"`
	Any []Condition `yaml:"any"`
}

// Condition compares one snapshot setting against a value.
type Condition struct {
	Path  string      `yaml:"path"`
	Op    string      `yaml:"op"`
	Value interface{} `yaml:"value"`
}

// LoadCatalogFile reads a YAML catalog from disk.
func LoadCatalogFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog compiles YAML rule definitions into predicate rules. Unknown
// keys are an error.
func ParseCatalog(data []byte) (Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return Catalog{}, fmt.Errorf("catalog is empty")
		}
		return Catalog{}, fmt.Errorf("unmarshal catalog: %w", err)
	}
	if file.Area == "" {
		return Catalog{}, fmt.Errorf("area is required")
	}
	if file.Version == "" {
		file.Version = "0.1.0"
	}

	catalog := Catalog{
		Area:    file.Area,
		Version: file.Version,
		Title:   file.Title,
		Rules:   make([]Rule, 0, len(file.Rules)),
	}

	seen := make(map[string]bool, len(file.Rules))
	for i, rf := range file.Rules {
		if rf.ID == "" {
			return Catalog{}, fmt.Errorf("rule %d: id is required", i)
		}
		if seen[rf.ID] {
			return Catalog{}, fmt.Errorf("rule %q: duplicate id", rf.ID)
		}
		seen[rf.ID] = true
		severity, err := shared.ParseSeverity(rf.Severity)
		if err != nil {
			return Catalog{}, fmt.Errorf("rule %q: %w", rf.ID, err)
		}
		predicate, fields, err := compileWhen(rf.When)
		if err != nil {
			return Catalog{}, fmt.Errorf("rule %q: %w", rf.ID, err)
		}
		catalog.Rules = append(catalog.Rules, Rule{
			ID:             rf.ID,
			Severity:       severity,
			Title:          rf.Title,
			Description:    rf.Description,
			Recommendation: rf.Recommendation,
			Fields:         fields,
			Predicate:      predicate,
		})
	}
	return catalog, nil
}

func compileWhen(w whenBlock) (func(shared.Snapshot) bool, []string, error) {
	if len(w.All) == 0 && len(w.Any) == 0 {
		return nil, nil, fmt.Errorf("when block needs at least one condition")
	}

	var fields []string
	compile := func(conds []Condition) ([]func(shared.Snapshot) bool, error) {
		out := make([]func(shared.Snapshot) bool, 0, len(conds))
		for _, c := range conds {
			fn, err := c.compile()
			if err != nil {
				return nil, err
			}
			fields = append(fields, c.Path)
			out = append(out, fn)
		}
		return out, nil
	}

	all, err := compile(w.All)
	if err != nil {
		return nil, nil, err
	}
	anyOf, err := compile(w.Any)
	if err != nil {
		return nil, nil, err
	}

	return func(s shared.Snapshot) bool {
		for _, fn := range all {
			if !fn(s) {
				return false
			}
		}
		if len(anyOf) == 0 {
			return true
		}
		for _, fn := range anyOf {
			if fn(s) {
				return true
			}
		}
		return false
	}, fields, nil
}

func (c Condition) compile() (func(shared.Snapshot) bool, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("condition path is required")
	}
	path := c.Path
	op := strings.ToLower(c.Op)

	switch op {
	case "equals", "eq", "", "not_equals", "ne", "contains", "in", "lte", "at_most", "gt", "more_than":
		if c.Value == nil {
			return nil, fmt.Errorf("condition on %s: operator %q needs a value", path, c.Op)
		}
	}

	switch op {
	case "true":
		return func(s shared.Snapshot) bool { return isTrue(s, path) }, nil
	case "false":
		return func(s shared.Snapshot) bool { return isFalse(s, path) }, nil
	case "exists":
		return func(s shared.Snapshot) bool { return s.Exists(path) }, nil
	case "missing":
		return func(s shared.Snapshot) bool { return !s.Exists(path) }, nil
	case "empty":
		return func(s shared.Snapshot) bool { return listEmpty(s, path) }, nil
	case "not_empty":
		return func(s shared.Snapshot) bool { return !listEmpty(s, path) }, nil
	case "equals", "eq", "":
		want := fmt.Sprint(c.Value)
		return func(s shared.Snapshot) bool { return equalsAny(s, path, want) }, nil
	case "not_equals", "ne":
		want := fmt.Sprint(c.Value)
		return func(s shared.Snapshot) bool { return s.Exists(path) && !equalsAny(s, path, want) }, nil
	case "in":
		values, err := stringList(c.Value)
		if err != nil {
			return nil, err
		}
		return func(s shared.Snapshot) bool { return equalsAny(s, path, values...) }, nil
	case "contains":
		want := fmt.Sprint(c.Value)
		return func(s shared.Snapshot) bool { return listContains(s, path, want) }, nil
	case "lte", "at_most":
		limit, err := number(c.Value)
		if err != nil {
			return nil, err
		}
		return func(s shared.Snapshot) bool { return atMost(s, path, limit) }, nil
	case "gt", "more_than":
		limit, err := number(c.Value)
		if err != nil {
			return nil, err
		}
		return func(s shared.Snapshot) bool { return s.Exists(path) && s.Number(path) > limit }, nil
	default:
		return nil, fmt.Errorf("unsupported operator %q", c.Op)
	}
}

func stringList(v interface{}) ([]string, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("operator in needs a list value, got %T", v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprint(item))
	}
	return out, nil
}

func number(v interface{}) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("numeric operator needs a number, got %T", v)
	}
}
