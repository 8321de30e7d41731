package rules

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	semver "github.com/Masterminds/semver/v3"
	"github.com/celeratec/cipp-console/internal/shared"
)

var ErrUnknownArea = errors.New("unknown rule area")

// Catalog is the ordered rule list for one configuration area. Version follows
// semver and is bumped whenever rule semantics change.
type Catalog struct {
	Area    string
	Version string
	Title   string
	Rules   []Rule
}

func (c Catalog) Evaluate(snapshot shared.Snapshot) []shared.Finding {
	return Evaluate(c.Rules, snapshot)
}

// Registry holds the catalogs the console evaluates against, keyed by area.
type Registry struct {
	mu         sync.RWMutex
	catalogs   map[string]*Catalog
	ruleAreas  map[string]string
	constraint *semver.Constraints
}

// NewRegistry creates an empty registry. minVersion, when set, is a semver
// constraint every registered catalog must satisfy (e.g. ">= 1.0.0").
func NewRegistry(minVersion string) (*Registry, error) {
	r := &Registry{
		catalogs:  make(map[string]*Catalog),
		ruleAreas: make(map[string]string),
	}
	if minVersion != "" {
		c, err := semver.NewConstraint(minVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid catalog version constraint %q: %w", minVersion, err)
		}
		r.constraint = c
	}
	return r, nil
}

// BuiltinCatalogs returns the catalogs shipped with the console.
func BuiltinCatalogs() []Catalog {
	return []Catalog{
		SharingCatalog(),
		FederationCatalog(),
		CollaborationCatalog(),
		PartnerCatalog(),
		BaselineCatalog(),
	}
}

func NewDefaultRegistry(minVersion string) (*Registry, error) {
	r, err := NewRegistry(minVersion)
	if err != nil {
		return nil, err
	}
	for _, c := range BuiltinCatalogs() {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a new area. It fails if the area already exists.
func (r *Registry) Register(c Catalog) error {
	if _, err := r.validate(c); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(c)
}

func (r *Registry) registerLocked(c Catalog) error {
	if _, exists := r.catalogs[c.Area]; exists {
		return fmt.Errorf("catalog %q already registered", c.Area)
	}
	if err := r.checkRuleIDsLocked(c); err != nil {
		return err
	}

	stored := c
	stored.Rules = withArea(c.Rules, c.Area)
	r.catalogs[c.Area] = &stored
	for _, rule := range stored.Rules {
		r.ruleAreas[rule.ID] = c.Area
	}
	return nil
}

// Extend appends rules to an existing area, after the rules already present,
// or registers the area if it is new. The stored version becomes the higher of
// the two.
func (r *Registry) Extend(c Catalog) error {
	version, err := r.validate(c)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.catalogs[c.Area]
	if !ok {
		return r.registerLocked(c)
	}
	if err := r.checkRuleIDsLocked(c); err != nil {
		return err
	}

	merged := *existing
	merged.Rules = append(append([]Rule(nil), existing.Rules...), withArea(c.Rules, c.Area)...)
	if current, err := semver.NewVersion(existing.Version); err == nil && version.GreaterThan(current) {
		merged.Version = c.Version
	}
	r.catalogs[c.Area] = &merged
	for _, rule := range c.Rules {
		r.ruleAreas[rule.ID] = c.Area
	}
	return nil
}

func (r *Registry) validate(c Catalog) (*semver.Version, error) {
	if c.Area == "" {
		return nil, fmt.Errorf("catalog area is required")
	}
	version, err := semver.NewVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("catalog %q has invalid version %q: %w", c.Area, c.Version, err)
	}
	if r.constraint != nil && !r.constraint.Check(version) {
		return nil, fmt.Errorf("catalog %q version %s does not satisfy %s", c.Area, version, r.constraint)
	}

	seen := make(map[string]struct{}, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("catalog %q rule %d has no id", c.Area, i)
		}
		if _, dup := seen[rule.ID]; dup {
			return nil, fmt.Errorf("catalog %q defines rule %q twice", c.Area, rule.ID)
		}
		seen[rule.ID] = struct{}{}
		if !rule.Severity.Valid() {
			return nil, fmt.Errorf("rule %q has invalid severity %q", rule.ID, rule.Severity)
		}
		if rule.Predicate == nil {
			return nil, fmt.Errorf("rule %q has no predicate", rule.ID)
		}
	}
	return version, nil
}

func (r *Registry) checkRuleIDsLocked(c Catalog) error {
	for _, rule := range c.Rules {
		if area, exists := r.ruleAreas[rule.ID]; exists {
			return fmt.Errorf("rule id %q already registered in area %q", rule.ID, area)
		}
	}
	return nil
}

func withArea(in []Rule, area string) []Rule {
	out := make([]Rule, len(in))
	for i, rule := range in {
		rule.Area = area
		out[i] = rule
	}
	return out
}

// Catalog returns a copy of the catalog for area.
func (r *Registry) Catalog(area string) (Catalog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.catalogs[area]
	if !ok {
		return Catalog{}, false
	}
	out := *c
	out.Rules = append([]Rule(nil), c.Rules...)
	return out, true
}

func (r *Registry) Areas() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	areas := make([]string, 0, len(r.catalogs))
	for area := range r.catalogs {
		areas = append(areas, area)
	}
	sort.Strings(areas)
	return areas
}

func (r *Registry) Evaluate(area string, snapshot shared.Snapshot) ([]shared.Finding, error) {
	c, ok := r.Catalog(area)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownArea, area)
	}
	return c.Evaluate(snapshot), nil
}
