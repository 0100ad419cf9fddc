package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	apperrors "github.com/jrsteele09/space-symphony/internal/errors"
)

type Config interface {
	AppConfig
	OAuthConfig
	StoreConfig
	LogConfig
}

type AppConfig interface {
	GetAppID() string
	GetAppName() string
}

type StoreConfig interface {
	GetStoreBackend() StoreBackend
	GetDataDir() string
}

type LogConfig interface {
	GetLogLevel() string
}

type StoreBackend string

const (
	FileStore   StoreBackend = "file"
	SQLiteStore StoreBackend = "sqlite"
)

type mainConfig struct {
	EnvVars
}

var _ Config = mainConfig{}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var vars EnvVars
	if err := env.Parse(&vars); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return New(vars)
}

// New validates vars and fills in defaults that cannot be expressed as env tags.
func New(vars EnvVars) (Config, error) {
	if strings.TrimSpace(vars.ClientID) == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidConfig, "%s is required", clientIDVar)
	}
	if strings.TrimSpace(vars.AppID) == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidConfig, "%s is required", appIDVar)
	}
	if err := validateRedirectURI(vars.RedirectURI); err != nil {
		return nil, err
	}
	switch StoreBackend(vars.Store) {
	case FileStore, SQLiteStore:
	default:
		return nil, apperrors.Wrapf(apperrors.ErrInvalidConfig, "unknown store backend %q", vars.Store)
	}
	if vars.CallbackTimeout <= 0 {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidConfig, "callback timeout must be positive")
	}
	if vars.DataDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidConfig, "resolve user config dir: %v", err)
		}
		vars.DataDir = dir
	}
	return mainConfig{EnvVars: vars}, nil
}

// The provider compares the redirect URI byte for byte, so it is never rewritten here.
func validateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return apperrors.Wrapf(apperrors.ErrInvalidConfig, "redirect uri %q", raw)
	}
	if u.Scheme != "http" || u.Port() == "" {
		return apperrors.Wrapf(apperrors.ErrInvalidConfig, "redirect uri %q must be http with an explicit port", raw)
	}
	// "localhost" may resolve to either address family while the listener binds only one.
	if ip := net.ParseIP(u.Hostname()); ip == nil || !ip.IsLoopback() {
		return apperrors.Wrapf(apperrors.ErrInvalidConfig, "redirect uri %q must use a literal loopback IP", raw)
	}
	return nil
}

// Defaults returns the env defaults without reading the environment, for tests and tooling.
func Defaults() EnvVars {
	var vars EnvVars
	_ = env.ParseWithOptions(&vars, env.Options{Environment: map[string]string{}})
	return vars
}
