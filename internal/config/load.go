package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// CLIOverrides holds values given as command-line flags. They win over
// every other layer.
type CLIOverrides struct {
	ConfigPath string
	EnvFile    string
	LogLevel   string
}

// Load reads a TOML config file on top of the defaults. Unknown keys are
// errors so typos never pass silently.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies defaults, config file, dotenv file, process environment,
// and CLI flags in that order and validates the result. Missing credentials
// fail here, before any network call.
func Resolve(env EnvOverrides, cli CLIOverrides) (Settings, error) {
	cfgPath := firstNonEmpty(cli.ConfigPath, env.ConfigPath, DefaultConfigPath())

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return Settings{}, err
	}

	dotenv, err := loadEnvFile(firstNonEmpty(cli.EnvFile, env.EnvFile))
	if err != nil {
		return Settings{}, err
	}

	dotenv.apply(cfg)
	env.apply(cfg)
	setIfSet(&cfg.LogLevel, cli.LogLevel)

	settings, err := cfg.Settings()
	if err != nil {
		return Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return settings, nil
}

// loadEnvFile reads an explicitly named dotenv file, which must exist, or
// the default ".env" in the working directory when present.
func loadEnvFile(path string) (EnvOverrides, error) {
	if path != "" {
		return ReadEnvFile(path)
	}

	if _, err := os.Stat(defaultEnvFile); err != nil {
		return EnvOverrides{}, nil
	}

	return ReadEnvFile(defaultEnvFile)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
