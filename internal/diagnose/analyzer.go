// Package diagnose explains why an operator-initiated action failed by probing
// related tenant configuration, and attaches an automatic fix where one is
// known to be safe.
package diagnose

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/celeratec/cipp-console/internal/shared"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultProbeTimeout = 10 * time.Second
	maxDescribedPayload = 300
)

// Heuristic tests one snapshot for a specific root cause. Evaluate returns the
// finding and true when the cause is present. Heuristics with an empty Area are
// evaluated once against an empty snapshot.
type Heuristic struct {
	ID   string
	Area string
	// Specificity ranks findings of equal severity; higher sorts first.
	Specificity int
	Evaluate    func(failure Failure, snapshot shared.Snapshot) (shared.Finding, bool)
}

// Definition is a diagnosable failure class.
type Definition struct {
	Class Class
	Title string
	// Matchers classify the error payload; any one firing is enough.
	Matchers []Matcher
	// Heuristics run in priority order.
	Heuristics []Heuristic
	// SettingsPage is where an operator resolves the class by hand.
	SettingsPage string
}

func (d Definition) matches(payload string) bool {
	for _, m := range d.Matchers {
		if m.Match(payload) {
			return true
		}
	}
	return false
}

func (d Definition) areas() map[string]bool {
	areas := make(map[string]bool)
	for _, h := range d.Heuristics {
		if h.Area != "" {
			areas[h.Area] = true
		}
	}
	return areas
}

// Analyzer holds the registered failure classes. It is safe for concurrent use.
type Analyzer struct {
	mu           sync.RWMutex
	definitions  []Definition
	probeTimeout time.Duration
	logger       *zap.Logger
}

// NewAnalyzer returns an analyzer with the built-in classes registered.
func NewAnalyzer(probeTimeout time.Duration, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	return &Analyzer{
		definitions:  BuiltinDefinitions(),
		probeTimeout: probeTimeout,
		logger:       logger,
	}
}

// BuiltinDefinitions lists the classes shipped with the console, in
// classification priority order.
func BuiltinDefinitions() []Definition {
	return []Definition{
		CollaborationDefinition(),
		FederationDefinition(),
		AssignedResourceDefinition(),
		ResourceTypeDefinition(),
		SharingDefinition(),
	}
}

// Register adds a class after the existing ones. A class already registered
// is replaced in place.
func (a *Analyzer) Register(def Definition) error {
	if def.Class == "" {
		return fmt.Errorf("definition class is required")
	}
	if len(def.Matchers) == 0 {
		return fmt.Errorf("definition %s has no matchers", def.Class)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, existing := range a.definitions {
		if existing.Class == def.Class {
			a.definitions[i] = def
			return nil
		}
	}
	a.definitions = append(a.definitions, def)
	return nil
}

// Classify returns the first class whose matchers fire on payload.
func (a *Analyzer) Classify(payload string) (Definition, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, def := range a.definitions {
		if def.matches(payload) {
			return def, true
		}
	}
	return Definition{}, false
}

type probeResult struct {
	source   Source
	snapshot shared.Snapshot
	err      error
}

type scored struct {
	finding     shared.Finding
	specificity int
	order       int
}

// Diagnose returns root-cause findings for failure. An unclassified failure
// yields no findings so the caller shows the raw error. Probe failures become
// warning findings; they never abort the analysis.
func (a *Analyzer) Diagnose(ctx context.Context, failure Failure, sources []Source) []shared.Finding {
	def, ok := a.Classify(failure.ErrorPayload)
	if !ok {
		shared.LogWithContext(ctx, a.logger, "failure not diagnosable",
			zap.String("operation", failure.Operation))
		return []shared.Finding{}
	}

	results := a.runProbes(ctx, failure.Tenant, def, sources)

	var collected []scored
	add := func(f shared.Finding, specificity int) {
		collected = append(collected, scored{finding: f, specificity: specificity, order: len(collected)})
	}

	matchedCause := false
	for _, h := range def.Heuristics {
		for _, snap := range snapshotsFor(h.Area, results) {
			f, hit := evaluateHeuristic(h, failure, snap)
			if !hit {
				continue
			}
			matchedCause = true
			f = a.complete(def, h, f, failure)
			add(f, h.Specificity)
		}
	}
	for _, r := range results {
		if r.err != nil {
			add(probeFailureFinding(def, r), -1)
		}
	}

	if failure.Attempted(def.Class) && !matchedCause {
		add(manualActionFinding(def, failure), 0)
	}

	sort.SliceStable(collected, func(i, j int) bool {
		x, y := collected[i], collected[j]
		if rx, ry := x.finding.Severity.Rank(), y.finding.Severity.Rank(); rx != ry {
			return rx < ry
		}
		if x.specificity != y.specificity {
			return x.specificity > y.specificity
		}
		return x.order < y.order
	})

	findings := make([]shared.Finding, 0, len(collected))
	for _, s := range collected {
		findings = append(findings, s.finding)
	}

	shared.LogWithContext(ctx, a.logger, "failure diagnosed",
		zap.String("operation", failure.Operation),
		zap.String("class", string(def.Class)),
		zap.Int("findings", len(findings)),
		zap.Bool("fix_attempted", failure.Attempted(def.Class)),
	)
	return findings
}

// runProbes fetches every source whose area the class needs, concurrently.
// Results keep source order.
func (a *Analyzer) runProbes(ctx context.Context, tenant string, def Definition, sources []Source) []probeResult {
	needed := def.areas()
	var selected []Source
	for _, src := range sources {
		if needed[src.Area] {
			selected = append(selected, src)
		}
	}

	results := make([]probeResult, len(selected))
	var g errgroup.Group
	for i, src := range selected {
		g.Go(func() error {
			results[i] = a.fetch(ctx, tenant, src)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *Analyzer) fetch(ctx context.Context, tenant string, src Source) (res probeResult) {
	res.source = src
	if src.Fetch == nil {
		res.err = fmt.Errorf("probe %s has no fetch function", src.ID)
		return res
	}

	probeCtx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("probe %s panicked: %v", src.ID, r)
		}
	}()

	start := time.Now()
	snap, err := src.Fetch(probeCtx, tenant)
	if err != nil {
		shared.LogWarnWithContext(ctx, a.logger, "probe failed",
			zap.String("probe", src.ID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		res.err = err
		return res
	}
	res.snapshot = snap
	return res
}

func snapshotsFor(area string, results []probeResult) []shared.Snapshot {
	if area == "" {
		return []shared.Snapshot{{}}
	}
	var out []shared.Snapshot
	for _, r := range results {
		if r.err == nil && r.source.Area == area {
			out = append(out, r.snapshot)
		}
	}
	return out
}

func evaluateHeuristic(h Heuristic, failure Failure, snap shared.Snapshot) (f shared.Finding, hit bool) {
	if h.Evaluate == nil {
		return shared.Finding{}, false
	}
	defer func() {
		if r := recover(); r != nil {
			f, hit = shared.Finding{}, false
		}
	}()
	return h.Evaluate(failure, snap)
}

// complete fills the fields every diagnosed finding carries and applies the
// fix-attempted guard.
func (a *Analyzer) complete(def Definition, h Heuristic, f shared.Finding, failure Failure) shared.Finding {
	f.ID = string(def.Class) + "/" + h.ID
	f.Source = "diagnose/" + string(def.Class)
	if f.Severity == "" {
		f.Severity = shared.SeverityError
	}

	if failure.Attempted(def.Class) && f.Remediation != nil {
		f.Remediation = nil
		f.Severity = shared.SeverityError
		f.Recommendation = "The automatic fix was already applied and the action still fails. Resolve this manually in the admin center."
	}
	if f.SettingsPage == "" {
		f.SettingsPage = def.SettingsPage
	}
	return f
}

func probeFailureFinding(def Definition, r probeResult) shared.Finding {
	return shared.Finding{
		ID:          fmt.Sprintf("%s/probe-failed/%s", def.Class, r.source.ID),
		Severity:    shared.SeverityWarning,
		Title:       fmt.Sprintf("Could not verify %s settings", r.source.Area),
		Description: fmt.Sprintf("The %s probe failed, so this possible cause was not checked: %v", r.source.ID, r.err),
		Source:      "probe/" + r.source.ID,
		Evidence:    map[string]interface{}{"probe": r.source.ID, "error": r.err.Error()},
	}
}

func manualActionFinding(def Definition, failure Failure) shared.Finding {
	return shared.Finding{
		ID:       string(def.Class) + "/manual-action-required",
		Severity: shared.SeverityError,
		Title:    "Manual action required",
		Description: fmt.Sprintf("An automatic fix for %q was already applied and %s still fails: %s",
			def.Title, failure.Operation, truncate(errorMessage(failure.ErrorPayload), maxDescribedPayload)),
		Recommendation: "Review the setting in the admin center; no further automatic fix will be offered.",
		Source:         "diagnose/" + string(def.Class),
		SettingsPage:   def.SettingsPage,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
