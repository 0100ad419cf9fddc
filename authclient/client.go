package authclient

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/space-symphony/internal/config"
	"github.com/jrsteele09/space-symphony/internal/utils"
	"github.com/jrsteele09/space-symphony/token"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

var (
	ErrNoPendingAuthorization = errors.New("no authorization url has been issued")
	ErrEmptyAccessToken       = errors.New("provider returned an empty access token")
)

// Client is everything the login flow needs from the OAuth provider.
//
//go:generate mockgen -source=client.go -package authclient -destination client_mock.go Client
type Client interface {
	// BuildAuthorizationURL returns the URL the user must visit. state is echoed back on the redirect.
	BuildAuthorizationURL(state string) string
	// ExchangeCode trades the authorization code from the redirect for a logged-in record.
	ExchangeCode(ctx context.Context, code string) (token.Record, error)
	// Refresh obtains a new access token from a refresh token.
	Refresh(ctx context.Context, refreshToken string) (token.Record, error)
}

// OAuth2Client implements Client with golang.org/x/oauth2 and PKCE (S256).
// Only the verifier of the most recent authorization URL is kept, which matches
// a flow that allows a single login attempt at a time.
type OAuth2Client struct {
	config     *oauth2.Config
	httpClient *http.Client
	nowTime    func() time.Time

	mu       sync.Mutex
	verifier string
}

var _ Client = (*OAuth2Client)(nil)

type Option func(*OAuth2Client)

// WithHTTPClient sets the client used for token endpoint and discovery requests.
func WithHTTPClient(c *http.Client) Option {
	return func(oc *OAuth2Client) {
		oc.httpClient = c
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(oc *OAuth2Client) {
		oc.nowTime = nowFunc
	}
}

func New(cfg *oauth2.Config, options ...Option) *OAuth2Client {
	c := &OAuth2Client{
		config:  cfg,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// NewFromConfig builds the client from application config. When an issuer is
// configured the endpoints come from OIDC discovery instead of AuthURL/TokenURL.
func NewFromConfig(ctx context.Context, cfg config.OAuthConfig, options ...Option) (*OAuth2Client, error) {
	c := New(nil, options...)
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.GetHTTPTimeout()}
	}

	endpoint := oauth2.Endpoint{
		AuthURL:  cfg.GetAuthURL(),
		TokenURL: cfg.GetTokenURL(),
	}
	if issuer := cfg.GetIssuer(); issuer != "" {
		discovered, err := Discover(ctx, issuer, c.httpClient)
		if err != nil {
			return nil, err
		}
		endpoint = discovered
	}
	if cfg.GetClientSecret() == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	c.config = &oauth2.Config{
		ClientID:     cfg.GetClientID(),
		ClientSecret: cfg.GetClientSecret(),
		Endpoint:     endpoint,
		RedirectURL:  cfg.GetRedirectURI(),
		Scopes:       cfg.GetScopes(),
	}
	return c, nil
}

// Discover resolves the authorization and token endpoints of an OIDC issuer.
func Discover(ctx context.Context, issuer string, httpClient *http.Client) (oauth2.Endpoint, error) {
	if httpClient != nil {
		ctx = oidc.ClientContext(ctx, httpClient)
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return oauth2.Endpoint{}, errors.Wrapf(err, "discover issuer %s", issuer)
	}
	return provider.Endpoint(), nil
}

func (c *OAuth2Client) BuildAuthorizationURL(state string) string {
	verifier := oauth2.GenerateVerifier()

	c.mu.Lock()
	c.verifier = verifier
	c.mu.Unlock()

	return c.config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (c *OAuth2Client) ExchangeCode(ctx context.Context, code string) (token.Record, error) {
	c.mu.Lock()
	verifier := c.verifier
	c.verifier = ""
	c.mu.Unlock()

	if verifier == "" {
		return token.Record{}, ErrNoPendingAuthorization
	}

	tok, err := c.config.Exchange(c.context(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return token.Record{}, errors.Wrap(err, "exchange authorization code")
	}
	return c.toRecord(tok)
}

func (c *OAuth2Client) Refresh(ctx context.Context, refreshToken string) (token.Record, error) {
	if refreshToken == "" {
		return token.Record{}, errors.New("refresh token is empty")
	}

	src := c.config.TokenSource(c.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return token.Record{}, errors.Wrap(err, "refresh access token")
	}
	return c.toRecord(tok)
}

func (c *OAuth2Client) context(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// toRecord maps the provider token 1:1 onto a logged-in record.
func (c *OAuth2Client) toRecord(tok *oauth2.Token) (token.Record, error) {
	if tok == nil || tok.AccessToken == "" {
		return token.Record{}, ErrEmptyAccessToken
	}

	now := c.nowTime()
	rec := token.Record{
		AccessToken:  tok.AccessToken,
		ExpiresAt:    utils.NonZeroTime(tok.Expiry),
		RefreshToken: utils.NonEmpty(tok.RefreshToken),
		Scopes:       token.NewScopes(c.config.Scopes...),
		LoginState:   token.LoggedIn,
	}

	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		rec.Scopes = token.ParseScopes(scope)
	}

	if rec.ExpiresAt == nil {
		if exp, ok := token.ExpiryFromJWT(tok.AccessToken); ok {
			rec.ExpiresAt = &exp
		}
	}

	if secs, ok := expiresIn(tok.Extra("expires_in")); ok {
		rec.ExpiresIn = secs
	} else if rec.ExpiresAt != nil && rec.ExpiresAt.After(now) {
		rec.ExpiresIn = token.SecondsOf(rec.ExpiresAt.Sub(now).Round(time.Second))
	}
	return rec, nil
}

// expiresIn reads the raw "expires_in" value, which is a JSON number or a form string.
func expiresIn(v interface{}) (token.Seconds, bool) {
	switch n := v.(type) {
	case float64:
		if n > 0 {
			return token.Seconds(n), true
		}
	case string:
		if secs, err := strconv.ParseInt(n, 10, 64); err == nil && secs > 0 {
			return token.Seconds(secs), true
		}
	}
	return 0, false
}
