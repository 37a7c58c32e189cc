package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvConfig             = "SHAREPOINT_CONFIG"
	EnvEnvFile            = "SHAREPOINT_ENV_FILE"
	EnvTenantID           = "SHAREPOINT_TENANT_ID"
	EnvAppID              = "SHAREPOINT_APP_ID"
	EnvAppSecret          = "SHAREPOINT_APP_SECRET"
	EnvResourceURL        = "SHAREPOINT_RESOURCE_URL"
	EnvAPIVersion         = "SHAREPOINT_RESOURCE_URL_VERSION"
	EnvLargeFileThreshold = "SHAREPOINT_LARGE_FILE_THRESHOLD"
	EnvIdleTimeout        = "SHAREPOINT_IDLE_TIMEOUT"
)

// defaultEnvFile is read from the working directory when present.
const defaultEnvFile = ".env"

// EnvOverrides holds values taken from one environment source, either the
// process environment or a dotenv file. Empty fields do not override.
type EnvOverrides struct {
	ConfigPath         string
	EnvFile            string
	TenantID           string
	AppID              string
	AppSecret          string
	ResourceURL        string
	APIVersion         string
	LargeFileThreshold string
	IdleTimeout        string
}

// ReadEnvOverrides reads the process environment.
func ReadEnvOverrides() EnvOverrides {
	return envOverridesFrom(os.Getenv)
}

// ReadEnvFile parses a dotenv file without touching the process environment.
func ReadEnvFile(path string) (EnvOverrides, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return EnvOverrides{}, fmt.Errorf("reading env file %s: %w", path, err)
	}

	return envOverridesFrom(func(key string) string { return values[key] }), nil
}

func envOverridesFrom(get func(string) string) EnvOverrides {
	return EnvOverrides{
		ConfigPath:         get(EnvConfig),
		EnvFile:            get(EnvEnvFile),
		TenantID:           get(EnvTenantID),
		AppID:              get(EnvAppID),
		AppSecret:          get(EnvAppSecret),
		ResourceURL:        get(EnvResourceURL),
		APIVersion:         get(EnvAPIVersion),
		LargeFileThreshold: get(EnvLargeFileThreshold),
		IdleTimeout:        get(EnvIdleTimeout),
	}
}

// apply copies every non-empty override onto cfg.
func (e EnvOverrides) apply(cfg *Config) {
	setIfSet(&cfg.TenantID, e.TenantID)
	setIfSet(&cfg.AppID, e.AppID)
	setIfSet(&cfg.AppSecret, e.AppSecret)
	setIfSet(&cfg.ResourceURL, e.ResourceURL)
	setIfSet(&cfg.APIVersion, e.APIVersion)
	setIfSet(&cfg.LargeFileThreshold, e.LargeFileThreshold)
	setIfSet(&cfg.IdleTimeout, e.IdleTimeout)
}

func setIfSet(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
