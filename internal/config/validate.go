package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ErrMissingCredentials is wrapped by the error returned when tenant, app id,
// or app secret is absent after all layers are applied.
var ErrMissingCredentials = errors.New("config: missing required credentials")

const (
	chunkAlignBytes   = 320 * kibibyte
	maxChunkBytes     = 60 * mebibyte
	minMaxRetries     = 0
	maxMaxRetries     = 10
	minParallel       = 1
	maxParallel       = 32
	minConnectTimeout = 1 * time.Second
	minDataTimeout    = 1 * time.Second
)

// Settings validates c and resolves it into an immutable Settings value.
// Every problem is reported at once.
func (c *Config) Settings() (Settings, error) {
	var errs []error

	if err := checkCredentials(&c.CredentialsConfig); err != nil {
		errs = append(errs, err)
	}

	s := Settings{
		TenantID:          c.TenantID,
		AppID:             c.AppID,
		AppSecret:         c.AppSecret,
		ResourceURL:       c.ResourceURL,
		APIVersion:        c.APIVersion,
		MaxRetries:        c.MaxRetries,
		SharePointHosts:   append([]string(nil), c.SharePointHosts...),
		BandwidthLimit:    c.BandwidthLimit,
		ParallelTransfers: c.ParallelTransfers,
		SessionDB:         c.SessionDB,
		LogLevel:          c.LogLevel,
		LogFormat:         c.LogFormat,
	}

	if s.SessionDB == "" {
		s.SessionDB = DefaultSessionDBPath()
	}

	errs = append(errs, validateResourceURL(c.ResourceURL)...)

	if strings.Trim(c.APIVersion, "/") == "" {
		errs = append(errs, errors.New("api_version: must not be empty"))
	}

	if c.MaxRetries < minMaxRetries || c.MaxRetries > maxMaxRetries {
		errs = append(errs, fmt.Errorf("max_retries: must be between %d and %d, got %d",
			minMaxRetries, maxMaxRetries, c.MaxRetries))
	}

	if c.ParallelTransfers < minParallel || c.ParallelTransfers > maxParallel {
		errs = append(errs, fmt.Errorf("parallel_transfers: must be between %d and %d, got %d",
			minParallel, maxParallel, c.ParallelTransfers))
	}

	var err error

	if s.LargeFileThreshold, err = parsePositiveSize("large_file_threshold", c.LargeFileThreshold); err != nil {
		errs = append(errs, err)
	}

	if s.ChunkSize, err = parseChunkSize(c.ChunkSize); err != nil {
		errs = append(errs, err)
	}

	if s.ConnectTimeout, err = parseMinDuration("connect_timeout", c.ConnectTimeout, minConnectTimeout); err != nil {
		errs = append(errs, err)
	}

	if s.DataTimeout, err = parseMinDuration("data_timeout", c.DataTimeout, minDataTimeout); err != nil {
		errs = append(errs, err)
	}

	if s.IdleTimeout, err = parseMinDuration("idle_timeout", c.IdleTimeout, time.Second); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, validateLogLevel(c.LogLevel)...)
	errs = append(errs, validateLogFormat(c.LogFormat)...)

	if len(errs) > 0 {
		return Settings{}, errors.Join(errs...)
	}

	return s, nil
}

func checkCredentials(c *CredentialsConfig) error {
	var missing []string

	if c.TenantID == "" {
		missing = append(missing, "tenant_id ("+EnvTenantID+")")
	}

	if c.AppID == "" {
		missing = append(missing, "app_id ("+EnvAppID+")")
	}

	if c.AppSecret == "" {
		missing = append(missing, "app_secret ("+EnvAppSecret+")")
	}

	if len(missing) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
}

// validateResourceURL requires an absolute https URL. Plain http is accepted
// only for loopback hosts.
func validateResourceURL(raw string) []error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return []error{fmt.Errorf("resource_url: must be an absolute URL, got %q", raw)}
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopback(u.Hostname()) {
			return nil
		}
	}

	return []error{fmt.Errorf("resource_url: must use https, got %q", raw)}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}

	ip := net.ParseIP(host)

	return ip != nil && ip.IsLoopback()
}

func parsePositiveSize(field, value string) (int64, error) {
	n, err := ParseSize(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}

	if n <= 0 {
		return 0, fmt.Errorf("%s: must be greater than zero, got %q", field, value)
	}

	return n, nil
}

func parseChunkSize(value string) (int64, error) {
	n, err := parsePositiveSize("chunk_size", value)
	if err != nil {
		return 0, err
	}

	if n%chunkAlignBytes != 0 {
		return 0, fmt.Errorf("chunk_size: must be a multiple of 320 KiB, got %q", value)
	}

	if n > maxChunkBytes {
		return 0, fmt.Errorf("chunk_size: must be at most 60 MiB, got %q", value)
	}

	return n, nil
}

func parseMinDuration(field, value string, minimum time.Duration) (time.Duration, error) {
	d, err := ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}

	if d < minimum {
		return 0, fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return d, nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}
