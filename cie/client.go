// Package cie implements the relying-party side of the CIE id OIDC
// federation. Discovery, token exchange and userinfo are delegated to
// github.com/coreos/go-oidc and golang.org/x/oauth2; this package adds the
// startup gating and the claim hand-off to the identity normalizer.
package cie

import (
	"context"
	"strings"
	"sync"

	oidc "github.com/coreos/go-oidc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// ErrNotInitialized is returned when a login or callback is attempted before
// provider discovery has completed. Surfaced as a server error.
var ErrNotInitialized = errors.New("CIE provider not initialized")

// ACRSpidL2 is the authentication assurance level requested from CIE id,
// aligned with the SPID L2 semantics.
const ACRSpidL2 = "https://www.spid.gov.it/SpidL2"

const wellKnownSuffix = "/.well-known/openid-configuration"

// Config is the static relying-party configuration for the CIE provider.
type Config struct {
	// IssuerURL is the provider issuer. A full discovery document URL is
	// accepted and reduced to its issuer.
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes defaults to openid, profile, email when empty.
	Scopes []string
	// ACRValues defaults to ACRSpidL2 when empty.
	ACRValues string
}

func (c *Config) validate() error {
	if c.IssuerURL == "" {
		return errors.New("issuer URL is required")
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return errors.New("client credentials are required")
	}
	if c.RedirectURL == "" {
		return errors.New("redirect URL is required")
	}
	return nil
}

// Client is the CIE OIDC relying party. Construction is cheap and always
// succeeds for a valid config; the network-bound discovery step runs in
// Initialize, typically from a startup goroutine. All login operations fail
// with ErrNotInitialized until discovery completes.
type Client struct {
	cfg    Config
	logger logrus.FieldLogger

	mu       sync.RWMutex
	provider *oidc.Provider
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// New builds an uninitialized client.
func New(l logrus.FieldLogger, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "validating CIE config")
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	if cfg.ACRValues == "" {
		cfg.ACRValues = ACRSpidL2
	}
	cfg.IssuerURL = strings.TrimSuffix(cfg.IssuerURL, wellKnownSuffix)
	return &Client{cfg: cfg, logger: l}, nil
}

// Initialize runs provider discovery and readies the client. Safe to call
// again after a failure; concurrent readers see either the uninitialized or
// the fully initialized state.
func (c *Client) Initialize(ctx context.Context) error {
	provider, err := oidc.NewProvider(ctx, c.cfg.IssuerURL)
	if err != nil {
		return errors.Wrapf(err, "discovering CIE provider %s", c.cfg.IssuerURL)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = provider
	c.oauth = &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       c.cfg.Scopes,
	}
	c.verifier = provider.Verifier(&oidc.Config{ClientID: c.cfg.ClientID})

	c.logger.WithField("issuer", c.cfg.IssuerURL).Info("CIE provider initialized")
	return nil
}

// Ready reports whether discovery has completed.
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider != nil
}

// AuthCodeURL builds the authorization redirect for one login attempt. State
// and nonce are caller-supplied per-request random values, round-tripped via
// the session.
func (c *Client) AuthCodeURL(state, nonce string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.oauth == nil {
		return "", ErrNotInitialized
	}
	return c.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("acr_values", c.cfg.ACRValues),
		oauth2.SetAuthURLParam("nonce", nonce),
	), nil
}

// Callback exchanges the authorization code, verifies the ID token against
// the expected nonce and fetches userinfo. It returns the raw claim set for
// normalization.
func (c *Client) Callback(ctx context.Context, code, nonce string) (map[string]interface{}, error) {
	c.mu.RLock()
	oauthCfg, verifier, provider := c.oauth, c.verifier, c.provider
	c.mu.RUnlock()
	if oauthCfg == nil {
		return nil, ErrNotInitialized
	}

	token, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "exchanging authorization code")
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("token response contains no id_token")
	}
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.Wrap(err, "verifying id_token")
	}
	if idToken.Nonce != nonce {
		return nil, errors.New("id_token nonce does not match the login attempt")
	}

	userinfo, err := provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, errors.Wrap(err, "fetching userinfo")
	}

	claims := map[string]interface{}{}
	if err := userinfo.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "decoding userinfo claims")
	}
	return claims, nil
}
