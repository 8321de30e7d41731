package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type DatabaseConfig struct {
	Path string `json:"path"`
}

type ProbeConfig struct {
	ID       string `json:"id"`
	Area     string `json:"area"`
	Path     string `json:"path"`
	SavePath string `json:"save_path,omitempty"`
}

type ConsoleConfig struct {
	Server struct {
		HTTPPort           int      `json:"http_port"`
		AuthToken          string   `json:"auth_token"`
		AllowedOrigins     []string `json:"allowed_origins"`
		ReadTimeoutSec     int      `json:"read_timeout_sec"`
		WriteTimeoutSec    int      `json:"write_timeout_sec"`
		ShutdownTimeoutSec int      `json:"shutdown_timeout_sec"`
	} `json:"server"`
	Directory   DirectoryConfig   `json:"directory"`
	Rules       RulesConfig       `json:"rules"`
	Diagnostics DiagnosticsConfig `json:"diagnostics"`
	Remediation RemediationConfig `json:"remediation"`
	Channels    struct {
		Discord struct {
			BotToken      string `json:"bot_token"`
			AlertsChannel string `json:"alerts_channel"`
		} `json:"discord"`
		NATS struct {
			URL     string `json:"url"`
			Subject string `json:"subject"`
		} `json:"nats"`
	} `json:"channels"`
	Database DatabaseConfig `json:"database"`
	Security SecurityConfig `json:"security"`
}

type DirectoryConfig struct {
	BaseURL           string        `json:"base_url"`
	AuthToken         string        `json:"auth_token"`
	TimeoutSec        int           `json:"timeout_sec"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	Burst             int           `json:"burst"`
	Probes            []ProbeConfig `json:"probes"`
}

type RulesConfig struct {
	// MinCatalogVersion is a semver constraint every catalog must satisfy.
	MinCatalogVersion string   `json:"min_catalog_version"`
	CatalogFiles      []string `json:"catalog_files"`
}

type DiagnosticsConfig struct {
	ProbeTimeoutSec int `json:"probe_timeout_sec"`
}

type RemediationConfig struct {
	MaxSessions      int     `json:"max_sessions"`
	SessionTTLSec    int     `json:"session_ttl_sec"`
	FixRatePerMinute float64 `json:"fix_rate_per_minute"`
	FixBurst         int     `json:"fix_burst"`
}

type SecurityConfig struct {
	TLS   TLSConfig   `json:"tls"`
	Audit AuditConfig `json:"audit"`
}

type TLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertPath string `json:"cert_path"`
	KeyPath  string `json:"key_path"`
}

type AuditConfig struct {
	Enabled       bool `json:"enabled"`
	RetentionDays int  `json:"retention_days"`
}

const (
	defaultHTTPPort            = 8430
	defaultReadTimeoutSec      = 15
	defaultWriteTimeoutSec     = 60
	defaultShutdownTimeoutSec  = 10
	defaultDirectoryTimeoutSec = 30
	defaultProbeTimeoutSec     = 10
	defaultMaxSessions         = 500
	defaultSessionTTLSec       = 1800
	defaultFixRatePerMinute    = 6
	defaultFixBurst            = 3
	defaultAuditRetentionDays  = 90
	defaultNATSSubject         = "console.sessions"
	defaultDatabasePath        = "./console.db"
	defaultCatalogVersionFloor = ">= 1.0.0"
)

// Environment variables that override secrets from the config file.
const (
	EnvConsoleAuthToken  = "CONSOLE_AUTH_TOKEN"
	EnvDirectoryAPIToken = "DIRECTORY_API_TOKEN"
	EnvDirectoryBaseURL  = "DIRECTORY_BASE_URL"
	EnvDiscordBotToken   = "DISCORD_BOT_TOKEN"
	EnvNATSURL           = "NATS_URL"
	EnvConsoleHTTPPort   = "CONSOLE_HTTP_PORT"
	EnvConsoleDBPath     = "CONSOLE_DB_PATH"
)

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

func LoadConsoleConfig(path string) (*ConsoleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ConsoleConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := validateConsoleConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *ConsoleConfig) applyEnvOverrides() error {
	if v := os.Getenv(EnvConsoleAuthToken); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := os.Getenv(EnvDirectoryAPIToken); v != "" {
		cfg.Directory.AuthToken = v
	}
	if v := os.Getenv(EnvDirectoryBaseURL); v != "" {
		cfg.Directory.BaseURL = v
	}
	if v := os.Getenv(EnvDiscordBotToken); v != "" {
		cfg.Channels.Discord.BotToken = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		cfg.Channels.NATS.URL = v
	}
	if v := os.Getenv(EnvConsoleDBPath); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv(EnvConsoleHTTPPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvConsoleHTTPPort, err)
		}
		cfg.Server.HTTPPort = port
	}
	return nil
}

func validateConsoleConfig(cfg *ConsoleConfig) error {
	cfg.applyDefaults()

	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("validation error: server.http_port must be between 1 and 65535, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.AuthToken == "" {
		return fmt.Errorf("validation error: server.auth_token is required")
	}
	if cfg.Directory.BaseURL == "" {
		return fmt.Errorf("validation error: directory.base_url is required")
	}
	if u, err := url.Parse(cfg.Directory.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("validation error: directory.base_url must be an absolute URL, got %q", cfg.Directory.BaseURL)
	}
	if cfg.Directory.RequestsPerSecond < 0 {
		return fmt.Errorf("validation error: directory.requests_per_second must be >= 0, got %f", cfg.Directory.RequestsPerSecond)
	}

	seen := make(map[string]bool, len(cfg.Directory.Probes))
	for i, p := range cfg.Directory.Probes {
		if p.ID == "" || p.Area == "" || p.Path == "" {
			return fmt.Errorf("validation error: directory.probes[%d] requires id, area and path", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("validation error: directory.probes[%d].id %q is duplicated", i, p.ID)
		}
		seen[p.ID] = true
	}

	for i, f := range cfg.Rules.CatalogFiles {
		if f == "" {
			return fmt.Errorf("validation error: rules.catalog_files[%d] must not be empty", i)
		}
	}

	if cfg.Remediation.FixRatePerMinute < 0 {
		return fmt.Errorf("validation error: remediation.fix_rate_per_minute must be >= 0, got %f", cfg.Remediation.FixRatePerMinute)
	}

	if cfg.Channels.Discord.BotToken != "" && cfg.Channels.Discord.AlertsChannel == "" {
		return fmt.Errorf("validation error: channels.discord.alerts_channel is required when a bot token is set")
	}

	if cfg.Security.TLS.Enabled {
		if cfg.Security.TLS.CertPath == "" {
			return fmt.Errorf("validation error: security.tls.cert_path is required when TLS is enabled")
		}
		if cfg.Security.TLS.KeyPath == "" {
			return fmt.Errorf("validation error: security.tls.key_path is required when TLS is enabled")
		}
	}

	return nil
}

func (cfg *ConsoleConfig) applyDefaults() {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = defaultHTTPPort
	}
	if cfg.Server.ReadTimeoutSec <= 0 {
		cfg.Server.ReadTimeoutSec = defaultReadTimeoutSec
	}
	if cfg.Server.WriteTimeoutSec <= 0 {
		cfg.Server.WriteTimeoutSec = defaultWriteTimeoutSec
	}
	if cfg.Server.ShutdownTimeoutSec <= 0 {
		cfg.Server.ShutdownTimeoutSec = defaultShutdownTimeoutSec
	}
	if cfg.Directory.TimeoutSec <= 0 {
		cfg.Directory.TimeoutSec = defaultDirectoryTimeoutSec
	}
	if cfg.Rules.MinCatalogVersion == "" {
		cfg.Rules.MinCatalogVersion = defaultCatalogVersionFloor
	}
	if cfg.Diagnostics.ProbeTimeoutSec <= 0 {
		cfg.Diagnostics.ProbeTimeoutSec = defaultProbeTimeoutSec
	}
	if cfg.Remediation.MaxSessions <= 0 {
		cfg.Remediation.MaxSessions = defaultMaxSessions
	}
	if cfg.Remediation.SessionTTLSec <= 0 {
		cfg.Remediation.SessionTTLSec = defaultSessionTTLSec
	}
	if cfg.Remediation.FixRatePerMinute == 0 {
		cfg.Remediation.FixRatePerMinute = defaultFixRatePerMinute
	}
	if cfg.Remediation.FixBurst <= 0 {
		cfg.Remediation.FixBurst = defaultFixBurst
	}
	if cfg.Channels.NATS.Subject == "" {
		cfg.Channels.NATS.Subject = defaultNATSSubject
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaultDatabasePath
	}
	if cfg.Security.Audit.RetentionDays <= 0 {
		cfg.Security.Audit.RetentionDays = defaultAuditRetentionDays
	}
}
