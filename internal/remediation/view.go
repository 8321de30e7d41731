package remediation

import (
	"sort"
	"time"

	"github.com/celeratec/cipp-console/internal/shared"
)

// View is a point-in-time copy of a session for display.
type View struct {
	ID             string           `json:"id"`
	Tenant         string           `json:"tenant"`
	Operation      string           `json:"operation"`
	State          State            `json:"state"`
	Generation     uint64           `json:"generation"`
	Findings       []shared.Finding `json:"findings"`
	FixAttempted   bool             `json:"fix_attempted"`
	FixesAttempted []string         `json:"fixes_attempted,omitempty"`
	Acknowledged   []string         `json:"acknowledged,omitempty"`
	RawError       string           `json:"raw_error,omitempty"`
	Result         interface{}      `json:"result,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:         s.cfg.ID,
		Tenant:     s.cfg.Tenant,
		Operation:  s.cfg.Operation,
		State:      s.state,
		Generation: s.generation,
		Findings:   append([]shared.Finding{}, s.findings...),
		RawError:   s.rawError,
		Result:     s.result,
		UpdatedAt:  s.updatedAt,
	}
	for class, attempted := range s.fixAttempted {
		if attempted {
			v.FixesAttempted = append(v.FixesAttempted, string(class))
		}
	}
	sort.Strings(v.FixesAttempted)
	v.FixAttempted = len(v.FixesAttempted) > 0
	for id := range s.acknowledged {
		v.Acknowledged = append(v.Acknowledged, id)
	}
	sort.Strings(v.Acknowledged)
	return v
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Findings() []shared.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shared.Finding{}, s.findings...)
}
