package consolectl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient wraps HTTP operations for console API calls
type HTTPClient struct {
	baseURL   string
	authToken string
	actor     string
	client    *http.Client
}

// NewHTTPClient creates a new HTTP client for the console API. actor is sent
// with every request so audit records name the operator.
func NewHTTPClient(baseURL, authToken, actor string) *HTTPClient {
	return &HTTPClient{
		baseURL:   baseURL,
		authToken: authToken,
		actor:     actor,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// APIResponse wraps the standard API response format
type APIResponse struct {
	Data json.RawMessage `json:"data"`
	Meta *APIMeta        `json:"meta,omitempty"`
}

// APIMeta contains metadata about the response
type APIMeta struct {
	Total int `json:"total"`
	Limit int `json:"limit,omitempty"`
}

// APIError represents an API error response
type APIError struct {
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details,omitempty"`
}

// RequestError is a non-200 answer from the console. Code and Details come from
// the error envelope when the body had one.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
	Details    json.RawMessage
}

func (e *RequestError) Error() string {
	return e.Message
}

func (c *HTTPClient) Get(path string) ([]byte, error) {
	return c.do(http.MethodGet, path, nil)
}

func (c *HTTPClient) Post(path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(http.MethodPost, path, data)
}

func (c *HTTPClient) Delete(path string) ([]byte, error) {
	return c.do(http.MethodDelete, path, nil)
}

func (c *HTTPClient) do(method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to console at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp.StatusCode, body)
	}
	return body, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if c.actor != "" {
		req.Header.Set("X-Console-Actor", c.actor)
	}
}

// parseError parses HTTP error responses
func parseError(statusCode int, body []byte) error {
	reqErr := &RequestError{StatusCode: statusCode}

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Error == "" {
		switch statusCode {
		case http.StatusUnauthorized:
			reqErr.Message = "authentication failed. Check your auth token"
		case http.StatusNotFound:
			reqErr.Message = "resource not found"
		case http.StatusServiceUnavailable:
			reqErr.Message = "console service unavailable"
		default:
			reqErr.Message = fmt.Sprintf("server error (status %d)", statusCode)
		}
		return reqErr
	}

	reqErr.Code = apiErr.Code
	reqErr.Details = apiErr.Details
	switch statusCode {
	case http.StatusUnauthorized:
		reqErr.Message = "authentication failed. Check your auth token"
	case http.StatusNotFound:
		reqErr.Message = "resource not found: " + apiErr.Error
	case http.StatusBadRequest:
		reqErr.Message = "invalid request: " + apiErr.Error
	case http.StatusConflict:
		reqErr.Message = "conflict: " + apiErr.Error
	case http.StatusTooManyRequests:
		reqErr.Message = "rate limited: " + apiErr.Error
	case http.StatusServiceUnavailable:
		reqErr.Message = "console service unavailable: " + apiErr.Error
	default:
		reqErr.Message = "server error: " + apiErr.Error
	}
	return reqErr
}

// ParseResponse parses a JSON response into the target struct
func ParseResponse(body []byte, target interface{}) error {
	var resp APIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if err := json.Unmarshal(resp.Data, target); err != nil {
		return fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return nil
}
