package consolectl

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPClientGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Header.Get("X-Console-Actor") != "alice" {
			http.Error(w, "missing actor", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":["item1","item2"],"meta":{"total":2}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "test-token", "alice")
	body, err := client.Get("/test")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	var items []string
	if err := ParseResponse(body, &items); err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(items) != 2 || items[0] != "item1" {
		t.Fatalf("unexpected items %v", items)
	}
}

func TestHTTPClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
		code    string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"unauthorized","code":"AUTH_REQUIRED"}`, "authentication failed. Check your auth token", "AUTH_REQUIRED"},
		{"not found", http.StatusNotFound, `{"error":"session not found","code":"NOT_FOUND"}`, "resource not found: session not found", "NOT_FOUND"},
		{"not found without envelope", http.StatusNotFound, `404 page not found`, "resource not found", ""},
		{"conflict", http.StatusConflict, `{"error":"stale","code":"STALE_SESSION"}`, "conflict: stale", "STALE_SESSION"},
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down","code":"RATE_LIMITED"}`, "rate limited: slow down", "RATE_LIMITED"},
		{"bad gateway", http.StatusBadGateway, `{"error":"directory api unreachable","code":"DIRECTORY_ERROR"}`, "server error: directory api unreachable", "DIRECTORY_ERROR"},
		{"unavailable plain", http.StatusServiceUnavailable, ``, "console service unavailable", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewHTTPClient(server.URL, "t", "").Get("/x")
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("expected %q, got %q", tt.wantMsg, err.Error())
			}
			var reqErr *RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("expected RequestError, got %T", err)
			}
			if reqErr.Code != tt.code || reqErr.StatusCode != tt.status {
				t.Errorf("unexpected error fields %+v", reqErr)
			}
		})
	}
}

func TestHTTPClientPostAndDelete(t *testing.T) {
	var gotMethod string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		if r.Method == http.MethodPost {
			if r.Header.Get("Content-Type") != "application/json" {
				http.Error(w, "bad content type", http.StatusBadRequest)
				return
			}
			json.NewDecoder(r.Body).Decode(&gotBody)
		}
		w.Write([]byte(`{"data":{"status":"ok"}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "t", "")
	if _, err := client.Post("/x", map[string]string{"finding_id": "f1"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if gotMethod != http.MethodPost || gotBody["finding_id"] != "f1" {
		t.Errorf("unexpected post %s %v", gotMethod, gotBody)
	}
	if _, err := client.Delete("/x"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("expected DELETE, got %s", gotMethod)
	}
}

func TestHTTPClientConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	if _, err := NewHTTPClient(url, "t", "").Get("/x"); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestParseResponseInvalid(t *testing.T) {
	var out map[string]string
	if err := ParseResponse([]byte("not json"), &out); err == nil {
		t.Fatal("expected parse error")
	}
}
