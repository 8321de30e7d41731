// Package remediation runs one automatic fix followed by one retry of the
// action that failed, as a small state machine an interface layer can drive.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/celeratec/cipp-console/internal/diagnose"
	"github.com/celeratec/cipp-console/internal/shared"
	"go.uber.org/zap"
)

type State string

const (
	StateIdle       State = "idle"
	StateDiagnosing State = "diagnosing"
	StateReady      State = "ready"
	StateFixing     State = "fixing"
	StateRetrying   State = "retrying"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

var (
	// ErrStale is returned when a session was reset while a remote call was in
	// flight; the call's result has been discarded.
	ErrStale             = errors.New("session was reset; result discarded")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrUnknownFinding    = errors.New("unknown finding")
	ErrNoRemediation     = errors.New("finding has no automatic remediation")
	ErrFixAttempted      = errors.New("automatic fix already attempted for this failure class")
)

// Diagnoser explains a failure. *diagnose.Analyzer satisfies it.
type Diagnoser interface {
	Diagnose(ctx context.Context, failure diagnose.Failure, sources []diagnose.Source) []shared.Finding
}

// Acknowledger asks the operator to accept a high-risk fix. It is separate
// from any general confirmation.
type Acknowledger interface {
	RequestHighRiskAcknowledgment(ctx context.Context, finding shared.Finding) (bool, error)
}

// Event describes one state transition.
type Event struct {
	SessionID  string    `json:"session_id"`
	Tenant     string    `json:"tenant"`
	From       State     `json:"from"`
	To         State     `json:"to"`
	Generation uint64    `json:"generation"`
	FindingID  string    `json:"finding_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type Listener func(Event)

type Config struct {
	ID        string
	Tenant    string
	Operation string
	Input     map[string]interface{}

	Performer    shared.ActionPerformer
	Diagnoser    Diagnoser
	Sources      []diagnose.Source
	Acknowledger Acknowledger
	Logger       *zap.Logger
}

// Session is safe for concurrent use. Remote calls run without the lock held;
// their results are applied only if the session has not been reset meanwhile.
type Session struct {
	cfg    Config
	logger *zap.Logger

	mu           sync.Mutex
	state        State
	generation   uint64
	input        map[string]interface{}
	findings     []shared.Finding
	fixAttempted map[diagnose.Class]bool
	acknowledged map[string]bool
	rawError     string
	result       interface{}
	updatedAt    time.Time

	listenerMu sync.RWMutex
	listeners  []Listener

	// emitMu orders delivery; it is never acquired while mu is held.
	emitMu sync.Mutex
}

func New(cfg Config) (*Session, error) {
	if cfg.Performer == nil {
		return nil, fmt.Errorf("session requires an action performer")
	}
	if cfg.Diagnoser == nil {
		return nil, fmt.Errorf("session requires a diagnoser")
	}
	if cfg.Operation == "" {
		return nil, fmt.Errorf("session requires the original operation")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		cfg:    cfg,
		logger: logger.With(zap.String("session_id", cfg.ID), zap.String("tenant", cfg.Tenant)),
		state:  StateIdle,
	}
	s.clearLocked()
	return s, nil
}

func (s *Session) ID() string { return s.cfg.ID }

func (s *Session) Tenant() string { return s.cfg.Tenant }

// OnTransition registers l for every subsequent transition.
func (s *Session) OnTransition(l Listener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// emit delivers events one at a time and drops those from a generation a
// Reset has since superseded.
func (s *Session) emit(events ...Event) {
	s.listenerMu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenerMu.RUnlock()

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	current := s.generation
	s.mu.Unlock()
	for _, ev := range events {
		if ev.Generation < current {
			continue
		}
		for _, l := range listeners {
			l(ev)
		}
	}
}

func (s *Session) transitionLocked(to State, findingID string) Event {
	ev := Event{
		SessionID:  s.cfg.ID,
		Tenant:     s.cfg.Tenant,
		From:       s.state,
		To:         to,
		Generation: s.generation,
		FindingID:  findingID,
		Timestamp:  time.Now().UTC(),
	}
	s.state = to
	s.updatedAt = ev.Timestamp
	s.logger.Debug("session transition", zap.String("from", string(ev.From)), zap.String("to", string(to)))
	return ev
}

func (s *Session) clearLocked() {
	s.input = shared.MergeParameters(s.cfg.Input, nil)
	s.findings = nil
	s.fixAttempted = make(map[diagnose.Class]bool)
	s.acknowledged = make(map[string]bool)
	s.rawError = ""
	s.result = nil
}

func (s *Session) failureLocked(payload string) diagnose.Failure {
	attempted := make(map[diagnose.Class]bool, len(s.fixAttempted))
	for c, v := range s.fixAttempted {
		attempted[c] = v
	}
	return diagnose.Failure{
		Operation:      s.cfg.Operation,
		Tenant:         s.cfg.Tenant,
		Input:          shared.MergeParameters(s.input, nil),
		ErrorPayload:   payload,
		FixesAttempted: attempted,
	}
}

// Begin diagnoses the original action's failure. The session must be idle.
func (s *Session) Begin(ctx context.Context, errorPayload string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: begin from %s", ErrInvalidTransition, state)
	}
	s.rawError = errorPayload
	gen := s.generation
	failure := s.failureLocked(errorPayload)
	ev := s.transitionLocked(StateDiagnosing, "")
	s.mu.Unlock()
	s.emit(ev)

	findings := s.cfg.Diagnoser.Diagnose(ctx, failure, s.cfg.Sources)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return ErrStale
	}
	s.findings = findings
	ev = s.transitionLocked(StateReady, "")
	s.mu.Unlock()
	s.emit(ev)

	shared.LogWithContext(ctx, s.logger, "failure diagnosed", zap.Int("findings", len(findings)))
	return nil
}

// Acknowledge records that the operator accepts the risk of findingID's fix.
func (s *Session) Acknowledge(findingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return fmt.Errorf("%w: acknowledge in %s", ErrInvalidTransition, s.state)
	}
	f, ok := shared.FindByID(s.findings, findingID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFinding, findingID)
	}
	if f.Remediation == nil {
		return fmt.Errorf("%w: %s", ErrNoRemediation, findingID)
	}
	s.acknowledged[findingID] = true
	return nil
}

// ApplyFix executes findingID's remediation and, if it succeeds, retries the
// original action once. Errors report refusals; the fix and retry outcomes
// are reflected in the session state and findings.
func (s *Session) ApplyFix(ctx context.Context, findingID string) error {
	s.mu.Lock()
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: fix in %s", ErrInvalidTransition, state)
	}
	finding, ok := shared.FindByID(s.findings, findingID)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownFinding, findingID)
	}
	if finding.Remediation == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoRemediation, findingID)
	}
	class := classOf(finding)
	if s.fixAttempted[class] {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFixAttempted, class)
	}
	acked := s.acknowledged[findingID]
	gen := s.generation
	s.mu.Unlock()

	if finding.Remediation.RequiresAcknowledgment() && !acked && s.cfg.Acknowledger != nil {
		ok, err := s.cfg.Acknowledger.RequestHighRiskAcknowledgment(ctx, finding)
		if err != nil {
			return fmt.Errorf("request acknowledgment: %w", err)
		}
		acked = ok
	}
	if finding.Remediation.RequiresAcknowledgment() && !acked {
		return shared.ErrAcknowledgmentRequired
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return ErrStale
	}
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: fix in %s", ErrInvalidTransition, state)
	}
	if s.fixAttempted[class] {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFixAttempted, class)
	}
	if acked {
		s.acknowledged[findingID] = true
	}
	ev := s.transitionLocked(StateFixing, findingID)
	s.mu.Unlock()
	s.emit(ev)

	shared.LogWithContext(ctx, s.logger, "applying remediation",
		zap.String("finding_id", findingID),
		zap.String("kind", string(finding.Remediation.Kind)),
		zap.String("risk", string(finding.Remediation.RiskLevel)),
	)
	outcome, err := finding.Remediation.Execute(ctx, s.cfg.Performer, s.cfg.Tenant, acked)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return ErrStale
	}
	s.fixAttempted[class] = true
	if err != nil || !outcome.Success {
		detail := outcomeError(outcome, err)
		s.retireRemediationsLocked(class)
		s.findings = append(s.findings, fixFailedFinding(class, finding, detail))
		shared.SortFindings(s.findings)
		ev = s.transitionLocked(StateReady, findingID)
		s.mu.Unlock()
		s.emit(ev)
		shared.LogWarnWithContext(ctx, s.logger, "remediation failed",
			zap.String("finding_id", findingID), zap.String("error", detail))
		return nil
	}

	s.input = shared.MergeParameters(s.input, finding.Remediation.RetryOverrides)
	call := shared.ActionCall{ActionID: s.cfg.Operation, Parameters: shared.MergeParameters(s.input, nil)}
	ev = s.transitionLocked(StateRetrying, findingID)
	s.mu.Unlock()
	s.emit(ev)

	retry, err := s.cfg.Performer.PerformAction(ctx, s.cfg.Tenant, call)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return ErrStale
	}
	if err == nil && retry.Success {
		s.result = retry.Result
		s.rawError = ""
		ev = s.transitionLocked(StateSucceeded, findingID)
		s.mu.Unlock()
		s.emit(ev)
		shared.LogWithContext(ctx, s.logger, "retry succeeded", zap.String("operation", s.cfg.Operation))
		return nil
	}

	payload := outcomeError(retry, err)
	s.rawError = payload
	failure := s.failureLocked(payload)
	s.mu.Unlock()

	findings := s.cfg.Diagnoser.Diagnose(ctx, failure, s.cfg.Sources)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return ErrStale
	}
	s.findings = findings
	s.acknowledged = make(map[string]bool)
	next := StateReady
	if len(findings) == 0 {
		next = StateFailed
	}
	ev = s.transitionLocked(next, findingID)
	s.mu.Unlock()
	s.emit(ev)

	shared.LogWarnWithContext(ctx, s.logger, "retry failed after remediation",
		zap.String("operation", s.cfg.Operation),
		zap.Int("findings", len(findings)),
	)
	return nil
}

// Reset returns the session to Idle from any state. Results of remote calls
// still in flight are discarded when they arrive.
func (s *Session) Reset() {
	s.mu.Lock()
	s.generation++
	s.clearLocked()
	ev := s.transitionLocked(StateIdle, "")
	s.mu.Unlock()
	s.emit(ev)
}

// retireRemediationsLocked leaves class's findings as manual pointers once its
// one automatic fix has been spent.
func (s *Session) retireRemediationsLocked(class diagnose.Class) {
	for i := range s.findings {
		f := &s.findings[i]
		if f.Remediation == nil || classOf(*f) != class {
			continue
		}
		f.Remediation = nil
		f.Recommendation = "The automatic fix failed and will not be offered again. Resolve this manually in the admin center."
		delete(s.acknowledged, f.ID)
	}
}

func classOf(f shared.Finding) diagnose.Class {
	if c := strings.TrimPrefix(f.Source, "diagnose/"); c != f.Source {
		return diagnose.Class(c)
	}
	if i := strings.Index(f.ID, "/"); i > 0 {
		return diagnose.Class(f.ID[:i])
	}
	return diagnose.Class(f.ID)
}

func outcomeError(outcome shared.ActionOutcome, err error) string {
	if err != nil {
		return err.Error()
	}
	if outcome.ErrorPayload != "" {
		return outcome.ErrorPayload
	}
	return "action reported failure without details"
}

func fixFailedFinding(class diagnose.Class, finding shared.Finding, detail string) shared.Finding {
	return shared.Finding{
		ID:             string(class) + "/fix-failed",
		Severity:       shared.SeverityError,
		Title:          "Automatic fix failed",
		Description:    fmt.Sprintf("%s: %s", finding.Remediation.Label, detail),
		Recommendation: "The fix will not be attempted again. Resolve the cause manually.",
		Source:         "remediation/" + string(class),
		Evidence:       map[string]interface{}{"finding_id": finding.ID, "error": detail},
		SettingsPage:   finding.SettingsPage,
	}
}
