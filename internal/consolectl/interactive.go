package consolectl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/celeratec/cipp-console/internal/gate"
	"github.com/celeratec/cipp-console/internal/remediation"
	"github.com/celeratec/cipp-console/internal/shared"
)

// Prompter asks the operator yes/no and pick-one questions on a terminal.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Approve only accepts "y" or "yes"; anything else, including end of input,
// declines.
func (p *Prompter) Approve(question string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", question)
	line, err := p.readLine()
	if err != nil {
		return false, err
	}
	line = strings.ToLower(line)
	return line == "yes" || line == "y", nil
}

// Choose reads a 1-based choice among n options. Zero means the operator
// skipped.
func (p *Prompter) Choose(question string, n int) (int, error) {
	for {
		fmt.Fprintf(p.out, "%s [1-%d, enter to skip]: ", question, n)
		line, err := p.readLine()
		if err != nil {
			return 0, err
		}
		if line == "" {
			return 0, nil
		}
		choice, err := strconv.Atoi(line)
		if err == nil && choice >= 1 && choice <= n {
			return choice, nil
		}
		fmt.Fprintf(p.out, "Please enter a number between 1 and %d.\n", n)
	}
}

// GatedSave runs the two-phase save: it submits the settings, shows the review
// when the console asks for confirmation, and resubmits with the review's
// fingerprint only if the operator approves.
func GatedSave(client *HTTPClient, p *Prompter, tenant, area string, settings json.RawMessage) (*gate.Result, error) {
	result, review, err := SaveSettings(client, tenant, area, settings, gate.Decision{})
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrConfirmationRequired) {
		return nil, err
	}

	fmt.Fprintf(p.out, "Saving %s settings for %s raises %d finding(s):\n\n", area, tenant, len(review.Findings))
	PrintFindings(p.out, review.Findings)
	fmt.Fprintln(p.out)

	ok, err := p.Approve("Save anyway?")
	if err != nil {
		return nil, err
	}
	if !ok {
		return &gate.Result{Review: *review}, nil
	}

	result, _, err = SaveSettings(client, tenant, area, settings, gate.Decision{Confirm: true, Fingerprint: review.Fingerprint})
	if errors.Is(err, ErrFindingsChanged) {
		return nil, fmt.Errorf("settings changed while you were reviewing them; run save again")
	}
	return result, err
}

// RunAction performs an action and, when it fails with fixable findings, walks
// the operator through one fix and the automatic retry.
func RunAction(client *HTTPClient, p *Prompter, tenant, action string, params map[string]interface{}) (*ActionResultJSON, error) {
	res, err := PerformAction(client, tenant, action, params)
	if err != nil || res.Success {
		return res, err
	}
	if res.Session == nil {
		return res, nil
	}

	view := res.Session
	fmt.Fprintf(p.out, "%s failed: %s\n\n", action, res.ErrorPayload)
	if len(view.Findings) == 0 {
		fmt.Fprintln(p.out, "No diagnosis available. Review the error above and act manually.")
		return res, nil
	}
	PrintFindings(p.out, view.Findings)
	fmt.Fprintln(p.out)

	fixable := Fixable(view.Findings)
	if len(fixable) == 0 {
		fmt.Fprintln(p.out, "No automatic fix is available.")
		return res, nil
	}
	for i, f := range fixable {
		fmt.Fprintf(p.out, "  %d) %s (%s risk)\n", i+1, f.Remediation.Label, f.Remediation.RiskLevel)
	}
	choice, err := p.Choose("Apply fix", len(fixable))
	if err != nil || choice == 0 {
		return res, err
	}
	finding := fixable[choice-1]

	acknowledge := false
	if finding.Remediation.RequiresAcknowledgment() {
		fmt.Fprintf(p.out, "\nHIGH RISK: %s\n", finding.Remediation.RiskWarning)
		acknowledge, err = p.Approve("I understand the impact and want to proceed")
		if err != nil {
			return res, err
		}
		if !acknowledge {
			fmt.Fprintln(p.out, "Fix not applied.")
			return res, nil
		}
	}

	after, err := ApplyFix(client, view.ID, finding.ID, acknowledge)
	if err != nil {
		return res, err
	}
	res.Session = after
	res.Success = after.State == remediation.StateSucceeded
	res.Result = after.Result

	switch after.State {
	case remediation.StateSucceeded:
		fmt.Fprintf(p.out, "Fix applied and %s succeeded on retry.\n", action)
	case remediation.StateFailed:
		fmt.Fprintf(p.out, "Retry failed: %s\n", after.RawError)
	default:
		fmt.Fprintln(p.out, "The fix did not resolve the failure:")
		PrintFindings(p.out, after.Findings)
	}
	return res, nil
}

// Fixable returns the findings that carry a remediation, in order.
func Fixable(findings []shared.Finding) []shared.Finding {
	var out []shared.Finding
	for _, f := range findings {
		if f.Remediation != nil {
			out = append(out, f)
		}
	}
	return out
}

func PrintFindings(w io.Writer, findings []shared.Finding) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tID\tTITLE")
	for _, f := range findings {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", strings.ToUpper(string(f.Severity)), f.ID, f.Title)
	}
	tw.Flush()
	for _, f := range findings {
		if f.Recommendation != "" {
			fmt.Fprintf(w, "  - %s: %s\n", f.ID, f.Recommendation)
		}
	}
}
