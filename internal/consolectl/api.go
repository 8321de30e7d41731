package consolectl

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/celeratec/cipp-console/internal/gate"
	"github.com/celeratec/cipp-console/internal/remediation"
	"github.com/celeratec/cipp-console/internal/shared"
	"github.com/celeratec/cipp-console/internal/storage"
)

var (
	ErrConfirmationRequired = errors.New("save requires confirmation")
	ErrFindingsChanged      = errors.New("findings changed since review")
	ErrAcknowledgmentNeeded = errors.New("fix requires acknowledgment")
)

type RuleJSON struct {
	ID             string          `json:"id"`
	Severity       shared.Severity `json:"severity"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Recommendation string          `json:"recommendation,omitempty"`
}

type CatalogJSON struct {
	Area    string     `json:"area"`
	Version string     `json:"version"`
	Title   string     `json:"title,omitempty"`
	Rules   []RuleJSON `json:"rules"`
}

type FindingsJSON struct {
	Tenant         string                `json:"tenant"`
	Area           string                `json:"area"`
	CatalogVersion string                `json:"catalog_version"`
	Findings       []shared.Finding      `json:"findings"`
	Counts         shared.SeverityCounts `json:"counts"`
	Settings       json.RawMessage       `json:"settings"`
}

type ActionResultJSON struct {
	Success      bool              `json:"success"`
	Result       interface{}       `json:"result,omitempty"`
	ErrorPayload string            `json:"error_payload,omitempty"`
	Session      *remediation.View `json:"session,omitempty"`
}

func ListRules(client *HTTPClient) ([]CatalogJSON, error) {
	body, err := client.Get("/api/v1/rules")
	if err != nil {
		return nil, err
	}
	var catalogs []CatalogJSON
	if err := ParseResponse(body, &catalogs); err != nil {
		return nil, err
	}
	return catalogs, nil
}

func GetFindings(client *HTTPClient, tenant, area string) (*FindingsJSON, error) {
	if tenant == "" || area == "" {
		return nil, fmt.Errorf("tenant and area are required")
	}
	body, err := client.Get(settingsPath(tenant, area, "findings"))
	if err != nil {
		return nil, err
	}
	var out FindingsJSON
	if err := ParseResponse(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveSettings submits one phase of the gated save. When the console wants a
// confirmation the returned review is non-nil and the error is
// ErrConfirmationRequired or ErrFindingsChanged.
func SaveSettings(client *HTTPClient, tenant, area string, settings json.RawMessage, decision gate.Decision) (*gate.Result, *gate.Review, error) {
	payload := map[string]interface{}{
		"settings":    settings,
		"confirm":     decision.Confirm,
		"fingerprint": decision.Fingerprint,
	}
	body, err := client.Post(settingsPath(tenant, area, "save"), payload)
	if err != nil {
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			return nil, nil, err
		}
		var sentinel error
		switch reqErr.Code {
		case "CONFIRMATION_REQUIRED":
			sentinel = ErrConfirmationRequired
		case "FINDINGS_CHANGED":
			sentinel = ErrFindingsChanged
		default:
			return nil, nil, err
		}
		var review gate.Review
		if err := json.Unmarshal(reqErr.Details, &review); err != nil {
			return nil, nil, fmt.Errorf("failed to parse review: %w", err)
		}
		return nil, &review, sentinel
	}

	var result gate.Result
	if err := ParseResponse(body, &result); err != nil {
		return nil, nil, err
	}
	return &result, nil, nil
}

func PerformAction(client *HTTPClient, tenant, action string, params map[string]interface{}) (*ActionResultJSON, error) {
	if tenant == "" || action == "" {
		return nil, fmt.Errorf("tenant and action are required")
	}
	path := "/api/v1/tenants/" + url.PathEscape(tenant) + "/actions/" + url.PathEscape(action)
	body, err := client.Post(path, map[string]interface{}{"parameters": params})
	if err != nil {
		return nil, err
	}
	var out ActionResultJSON
	if err := ParseResponse(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func GetSession(client *HTTPClient, id string) (*remediation.View, error) {
	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}
	body, err := client.Get("/api/v1/sessions/" + url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	var view remediation.View
	if err := ParseResponse(body, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func ResetSession(client *HTTPClient, id string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	_, err := client.Delete("/api/v1/sessions/" + url.PathEscape(id))
	return err
}

// ApplyFix asks the console to run findingID's fix and retry. acknowledge must
// be true for high-risk fixes.
func ApplyFix(client *HTTPClient, sessionID, findingID string, acknowledge bool) (*remediation.View, error) {
	body, err := client.Post("/api/v1/sessions/"+url.PathEscape(sessionID)+"/fix", map[string]interface{}{
		"finding_id":  findingID,
		"acknowledge": acknowledge,
	})
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.Code == "ACKNOWLEDGMENT_REQUIRED" {
			return nil, ErrAcknowledgmentNeeded
		}
		return nil, err
	}
	var view remediation.View
	if err := ParseResponse(body, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

type AuditQuery struct {
	Tenant    string
	Action    string
	SessionID string
	Since     time.Time
	Limit     int
}

func QueryAudit(client *HTTPClient, q AuditQuery) ([]storage.AuditRecord, error) {
	values := url.Values{}
	if q.Tenant != "" {
		values.Set("tenant", q.Tenant)
	}
	if q.Action != "" {
		values.Set("action", q.Action)
	}
	if q.SessionID != "" {
		values.Set("session_id", q.SessionID)
	}
	if !q.Since.IsZero() {
		values.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/api/v1/audit"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}

	body, err := client.Get(path)
	if err != nil {
		return nil, err
	}
	var records []storage.AuditRecord
	if err := ParseResponse(body, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func settingsPath(tenant, area, op string) string {
	return "/api/v1/tenants/" + url.PathEscape(tenant) + "/settings/" + url.PathEscape(area) + "/" + op
}
