// Package config loads sharepoint-go settings from a TOML file, a dotenv
// file, and SHAREPOINT_* environment variables, and resolves them into an
// immutable Settings value. Layers apply in order: defaults, config file,
// dotenv file, process environment, CLI flags.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the raw configuration as written in the TOML file. All keys are
// flat at the top level; the embedded structs only group them in code.
type Config struct {
	CredentialsConfig
	APIConfig
	TransfersConfig
	LoggingConfig
	NetworkConfig
}

// CredentialsConfig holds the Azure AD application used for the
// client-credentials flow.
type CredentialsConfig struct {
	TenantID  string `toml:"tenant_id"`
	AppID     string `toml:"app_id"`
	AppSecret string `toml:"app_secret"`
}

// APIConfig selects the Graph endpoint and the hosts accepted as SharePoint.
type APIConfig struct {
	ResourceURL     string   `toml:"resource_url"`
	APIVersion      string   `toml:"api_version"`
	MaxRetries      int      `toml:"max_retries"`
	SharePointHosts []string `toml:"sharepoint_hosts"`
}

// TransfersConfig controls the streaming threshold, chunking, and bandwidth.
// chunk_size must be a multiple of 320 KiB.
type TransfersConfig struct {
	LargeFileThreshold string `toml:"large_file_threshold"`
	ChunkSize          string `toml:"chunk_size"`
	BandwidthLimit     string `toml:"bandwidth_limit"`
	ParallelTransfers  int    `toml:"parallel_transfers"`
	SessionDB          string `toml:"session_db"`
}

// LoggingConfig controls log verbosity and output format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls transport timeouts and connection reuse.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	IdleTimeout    string `toml:"idle_timeout"`
}

// Settings is the fully resolved, validated configuration. It is a value
// type: callers hold copies, and nothing mutates it after Resolve returns.
type Settings struct {
	TenantID  string
	AppID     string
	AppSecret string

	ResourceURL     string
	APIVersion      string
	MaxRetries      int
	SharePointHosts []string

	LargeFileThreshold int64
	ChunkSize          int64
	BandwidthLimit     string
	ParallelTransfers  int
	SessionDB          string

	LogLevel  string
	LogFormat string

	ConnectTimeout time.Duration
	DataTimeout    time.Duration
	IdleTimeout    time.Duration
}

// GraphBaseURL returns the versioned Graph endpoint, e.g.
// "https://graph.microsoft.com/v1.0".
func (s Settings) GraphBaseURL() string {
	return strings.TrimRight(s.ResourceURL, "/") + "/" + strings.Trim(s.APIVersion, "/")
}

// Scope returns the client-credentials scope for the resource, e.g.
// "https://graph.microsoft.com/.default".
func (s Settings) Scope() string {
	return strings.TrimRight(s.ResourceURL, "/") + "/.default"
}

// String renders the settings with the application secret masked.
func (s Settings) String() string {
	return fmt.Sprintf("Settings{tenant=%s app=%s secret=%s graph=%s threshold=%d idle=%s}",
		s.TenantID, s.AppID, maskSecret(s.AppSecret), s.GraphBaseURL(), s.LargeFileThreshold, s.IdleTimeout)
}

// CheckCredentials reports missing credentials with the same error Resolve
// gives, for callers that build Settings by hand.
func (s Settings) CheckCredentials() error {
	return checkCredentials(&CredentialsConfig{TenantID: s.TenantID, AppID: s.AppID, AppSecret: s.AppSecret})
}

// Hosts returns a copy of the configured on-premises SharePoint hosts.
func (s Settings) Hosts() []string {
	return append([]string(nil), s.SharePointHosts...)
}

func maskSecret(secret string) string {
	const visible = 3

	if len(secret) <= visible {
		return strings.Repeat("*", len(secret))
	}

	return secret[:visible] + strings.Repeat("*", len(secret)-visible)
}
