package config

import (
	"net/url"
	"time"
)

type OAuthConfig interface {
	GetClientID() string
	GetClientSecret() string
	GetAuthURL() string
	GetTokenURL() string
	GetIssuer() string
	GetRedirectURI() string
	GetScopes() []string
	GetCallbackAddr() string
	GetCallbackPath() string
	GetCallbackTimeout() time.Duration
	GetHTTPTimeout() time.Duration
}

var _ OAuthConfig = EnvVars{}

func (e EnvVars) GetClientID() string {
	return e.ClientID
}

func (e EnvVars) GetClientSecret() string {
	return e.ClientSecret
}

func (e EnvVars) GetAuthURL() string {
	return e.AuthURL
}

func (e EnvVars) GetTokenURL() string {
	return e.TokenURL
}

// GetIssuer returns the OIDC issuer; when set, endpoints are discovered instead of configured.
func (e EnvVars) GetIssuer() string {
	return e.Issuer
}

func (e EnvVars) GetRedirectURI() string {
	return e.RedirectURI
}

func (e EnvVars) GetScopes() []string {
	return append([]string(nil), e.Scopes...)
}

// GetCallbackAddr is the host:port the loopback listener binds, taken from the redirect URI.
func (e EnvVars) GetCallbackAddr() string {
	u, err := url.Parse(e.RedirectURI)
	if err != nil {
		return ""
	}
	return u.Host
}

// GetCallbackPath is the redirect URI path, "/" when empty.
func (e EnvVars) GetCallbackPath() string {
	u, err := url.Parse(e.RedirectURI)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func (e EnvVars) GetCallbackTimeout() time.Duration {
	return e.CallbackTimeout
}

func (e EnvVars) GetHTTPTimeout() time.Duration {
	return e.HTTPTimeout
}
