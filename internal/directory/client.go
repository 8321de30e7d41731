// Package directory talks to the remote directory API: configuration probes,
// settings writes and original actions.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/celeratec/cipp-console/internal/shared"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 4 << 20

// ErrUnknownProbe is returned for probe ids the client was not configured with.
var ErrUnknownProbe = errors.New("unknown probe")

// StatusError is a non-2xx response from a probe or settings call.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("directory API returned %d: %s", e.StatusCode, msg)
}

// Probe maps a probe id to the API path that returns its snapshot and to the
// configuration area the snapshot describes. SavePath, when set, accepts a
// full settings object for the area.
type Probe struct {
	ID       string `json:"id"`
	Area     string `json:"area"`
	Path     string `json:"path"`
	SavePath string `json:"save_path,omitempty"`
}

// DefaultProbes are the probes the console knows how to interpret.
func DefaultProbes() []Probe {
	return []Probe{
		{ID: "sharepoint-tenant", Area: "sharing", Path: "/api/ListSharepointSettings", SavePath: "/api/EditSharepointSettings"},
		{ID: "teams-federation", Area: "federation", Path: "/api/ListTeamsExternalAccess", SavePath: "/api/EditTeamsExternalAccess"},
		{ID: "b2b-policy", Area: "collaboration", Path: "/api/ListExternalCollaboration", SavePath: "/api/EditExternalCollaboration"},
		{ID: "partner-relationships", Area: "partner", Path: "/api/ListCrossTenantAccess", SavePath: "/api/EditCrossTenantAccess"},
		{ID: "security-baseline", Area: "baseline", Path: "/api/ListSecurityBaseline", SavePath: "/api/EditSecurityBaseline"},
		{ID: "phone-numbers", Area: "telephony", Path: "/api/ListTeamsPhoneNumbers"},
	}
}

type Client struct {
	baseURL   string
	authToken string
	client    *http.Client
	probes    map[string]Probe
	order     []string
	limiter   *rate.Limiter
	logger    *zap.Logger
}

type Options struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
	// RequestsPerSecond caps outbound calls; zero disables the limit.
	RequestsPerSecond float64
	Burst             int
	Probes            []Probe
	Logger            *zap.Logger
}

func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("directory base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid directory base URL: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	probes := opts.Probes
	if len(probes) == 0 {
		probes = DefaultProbes()
	}

	c := &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		authToken: opts.AuthToken,
		client:    &http.Client{Timeout: opts.Timeout},
		probes:    make(map[string]Probe, len(probes)),
		logger:    opts.Logger,
	}
	for _, p := range probes {
		if p.ID == "" || p.Path == "" {
			return nil, fmt.Errorf("probe requires id and path: %+v", p)
		}
		if _, dup := c.probes[p.ID]; dup {
			return nil, fmt.Errorf("duplicate probe id %q", p.ID)
		}
		c.probes[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c, nil
}

// Probes returns the configured probes in configuration order.
func (c *Client) Probes() []Probe {
	out := make([]Probe, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.probes[id])
	}
	return out
}

// ProbeForArea returns the first probe describing area.
func (c *Client) ProbeForArea(area string) (Probe, bool) {
	for _, id := range c.order {
		if p := c.probes[id]; p.Area == area {
			return p, true
		}
	}
	return Probe{}, false
}

// FetchSnapshot calls probeID for tenant and returns the configuration it
// describes. Responses wrapped as {"Results": {...}} are unwrapped.
func (c *Client) FetchSnapshot(ctx context.Context, probeID, tenant string) (shared.Snapshot, error) {
	p, ok := c.probes[probeID]
	if !ok {
		return shared.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownProbe, probeID)
	}

	status, body, err := c.do(ctx, http.MethodGet, p.Path, tenant, nil)
	if err != nil {
		return shared.Snapshot{}, fmt.Errorf("probe %s: %w", probeID, err)
	}
	if status < 200 || status > 299 {
		return shared.Snapshot{}, fmt.Errorf("probe %s: %w", probeID, &StatusError{StatusCode: status, Body: string(body)})
	}

	raw := body
	if results := gjson.GetBytes(body, "Results"); results.IsObject() {
		raw = []byte(results.Raw)
	}
	snap, err := shared.ParseSnapshot(raw)
	if err != nil {
		return shared.Snapshot{}, fmt.Errorf("probe %s: %w", probeID, err)
	}
	return snap, nil
}

// PerformAction calls the original-action boundary. A non-2xx response is a
// failed outcome carrying the body verbatim; only transport errors return err.
func (c *Client) PerformAction(ctx context.Context, tenant string, call shared.ActionCall) (shared.ActionOutcome, error) {
	if call.ActionID == "" {
		return shared.ActionOutcome{}, fmt.Errorf("action id is required")
	}
	params := call.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}

	start := time.Now()
	status, body, err := c.do(ctx, http.MethodPost, "/api/actions/"+url.PathEscape(call.ActionID), tenant, params)
	if err != nil {
		return shared.ActionOutcome{}, fmt.Errorf("action %s: %w", call.ActionID, err)
	}

	shared.LogWithContext(ctx, c.logger, "directory action completed",
		zap.String("action", call.ActionID),
		zap.Int("status", status),
		zap.Duration("elapsed", time.Since(start)),
	)

	if status < 200 || status > 299 {
		payload := strings.TrimSpace(string(body))
		if payload == "" {
			payload = fmt.Sprintf("%d %s", status, http.StatusText(status))
		}
		return shared.ActionOutcome{Success: false, ErrorPayload: payload}, nil
	}

	var result interface{}
	if len(bytes.TrimSpace(body)) > 0 && gjson.ValidBytes(body) {
		result = gjson.ParseBytes(body).Value()
	}
	return shared.ActionOutcome{Success: true, Result: result}, nil
}

// SaveSettings writes a complete settings snapshot for area.
func (c *Client) SaveSettings(ctx context.Context, tenant, area string, snapshot shared.Snapshot) error {
	p, ok := c.ProbeForArea(area)
	if !ok {
		return fmt.Errorf("%w: no probe for area %s", ErrUnknownProbe, area)
	}
	path := p.SavePath
	if path == "" {
		path = p.Path
	}
	status, body, err := c.do(ctx, http.MethodPost, path, tenant, json.RawMessage(snapshot.Raw()))
	if err != nil {
		return fmt.Errorf("save %s settings: %w", area, err)
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("save %s settings: %w", area, &StatusError{StatusCode: status, Body: string(body)})
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, tenant string, payload interface{}) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if tenant != "" {
		u += "?tenantFilter=" + url.QueryEscape(tenant)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	req.Header.Set("X-Correlation-ID", shared.GetCorrelationID(ctx))

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to reach directory API at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
