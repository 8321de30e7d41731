package console

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/celeratec/cipp-console/internal/config"
)

// LoadTLSConfig returns nil when TLS is disabled.
func LoadTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// MatchOrigin matches a browser Origin against an allow-list entry. Entries may
// be "*", an exact origin, "https://*.example.com" or "http://localhost:*".
func MatchOrigin(origin string, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return origin == pattern
	}

	if prefix, ok := strings.CutSuffix(pattern, ":*"); ok {
		originNoPort := origin
		if idx := strings.LastIndex(origin, ":"); idx > strings.Index(origin, "//") {
			originNoPort = origin[:idx]
		}
		return originNoPort == prefix
	}

	for _, scheme := range []string{"https://", "http://"} {
		if !strings.HasPrefix(pattern, scheme+"*.") {
			continue
		}
		suffix := strings.TrimPrefix(pattern, scheme+"*")
		host, ok := strings.CutPrefix(origin, scheme)
		return ok && strings.HasSuffix(host, suffix) && !strings.HasPrefix(host, "*")
	}
	return false
}

var secretKeys = []string{"token", "password", "secret", "api_key", "apikey", "auth", "credential"}

func IsSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sk := range secretKeys {
		if strings.Contains(lower, sk) {
			return true
		}
	}
	return false
}

// SanitizeArgs renders action parameters for the audit trail with secret-named
// keys redacted at any depth.
func SanitizeArgs(args map[string]interface{}) string {
	if args == nil {
		return "{}"
	}
	data, err := json.Marshal(sanitizeMap(args))
	if err != nil {
		return "{}"
	}
	return string(data)
}

func sanitizeMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if IsSecretKey(k) {
			out[k] = "[REDACTED]"
		} else {
			out[k] = sanitizeValue(v)
		}
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return sanitizeMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			out[i] = sanitizeValue(elem)
		}
		return out
	default:
		return v
	}
}
