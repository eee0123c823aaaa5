// Package config centralizes the compile-time defaults and environment
// overrides for the Copilot upstream, the OAuth device flow, and the proxy's
// own listen address and data locations.
package config

import (
	"os"
	"strconv"
	"time"
)

// Upstream endpoints and identity for the GitHub Copilot chat-completions API.
const (
	DefaultAPIBase  = "https://api.githubcopilot.com"
	DefaultClientID = "01ab8ac9400c4e429b23"

	DeviceCodeURL    = "https://github.com/login/device/code"
	AccessTokenURL   = "https://github.com/login/oauth/access_token"
	TokenMetadataURL = "https://api.github.com/copilot_internal/v2/token"
	DeviceGrantType  = "urn:ietf:params:oauth:grant-type:device_code"
	DeviceFlowScope  = "user:email"

	DefaultRequestTimeout = 30 * time.Second
	DefaultHost           = "0.0.0.0"
	DefaultPort           = "5000"

	// DefaultCooldownDir is the directory scanned by the recovery loop for
	// parked, previously-exhausted credentials.
	DefaultCooldownDir = "TokensAgotados"
	// DefaultDataDir holds the sqlite credential store.
	DefaultDataDir = "./data"
)

// Headers that GitHub Copilot requires on every upstream call to identify the
// calling client. These values are load-bearing for upstream acceptance and
// must be reproduced exactly.
var UpstreamHeaders = map[string]string{
	"copilot-integration-id": "vscode-chat",
	"editor-plugin-version":  "copilot-chat/0.23.2",
	"editor-version":         "vscode/1.96.3",
	"user-agent":             "GitHubCopilotChat/0.23.2",
	"x-github-api-version":   "2024-12-15",
}

// Config is the resolved runtime configuration, built once at startup from
// the environment with DefaultXxx fallbacks.
type Config struct {
	APIBase        string
	ClientID       string
	RequestTimeout time.Duration
	Host           string
	Port           string
	CooldownDir    string
	DataDir        string
	AdminAPIKey    string
}

// Load reads the process environment and returns the resolved configuration.
func Load() *Config {
	return &Config{
		APIBase:        getEnvDefault("COPILOT_API_BASE", DefaultAPIBase),
		ClientID:       getEnvDefault("COPILOT_CLIENT_ID", DefaultClientID),
		RequestTimeout: durationSecondsEnv("PROXY_REQUEST_TIMEOUT_SEC", DefaultRequestTimeout),
		Host:           getEnvDefault("PROXY_HOST", DefaultHost),
		Port:           getEnvDefault("PROXY_PORT", DefaultPort),
		CooldownDir:    getEnvDefault("COOLDOWN_DIR", DefaultCooldownDir),
		DataDir:        getEnvDefault("DATA_DIR", DefaultDataDir),
		AdminAPIKey:    os.Getenv("ADMIN_API_KEY"),
	}
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationSecondsEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
