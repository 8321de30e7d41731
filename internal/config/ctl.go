package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// CtlConfig configures the consolectl operator CLI.
type CtlConfig struct {
	ConsoleURL string `json:"console_url"`
	AuthToken  string `json:"auth_token"`
	Actor      string `json:"actor"`
}

const (
	EnvConsoleURL   = "CONSOLE_URL"
	EnvConsoleActor = "CONSOLE_ACTOR"
)

// LoadCtlConfig reads path when it exists and then applies environment
// overrides, so the CLI also works with no config file at all.
func LoadCtlConfig(path string) (*CtlConfig, error) {
	var cfg CtlConfig
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if v := os.Getenv(EnvConsoleURL); v != "" {
		cfg.ConsoleURL = v
	}
	if v := os.Getenv(EnvConsoleAuthToken); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv(EnvConsoleActor); v != "" {
		cfg.Actor = v
	}

	if err := validateCtlConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateCtlConfig(cfg *CtlConfig) error {
	if cfg.ConsoleURL == "" {
		cfg.ConsoleURL = fmt.Sprintf("http://localhost:%d", defaultHTTPPort)
	}
	if cfg.Actor == "" {
		cfg.Actor = os.Getenv("USER")
	}
	if cfg.AuthToken == "" {
		return fmt.Errorf("validation error: auth_token is required (set %s)", EnvConsoleAuthToken)
	}
	return nil
}
