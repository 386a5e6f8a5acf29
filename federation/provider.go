// Package federation brokers sign-in against an upstream OIDC identity
// provider. The upstream authenticates the user; this server maps the
// verified identity onto a local resource owner and issues its own grants.
package federation

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/archid/go-grant-server/internal/config"
	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Identity is the verified upstream identity after a completed code
// exchange.
type Identity struct {
	Provider string
	Subject  string
	Email    string
	Name     string
}

// Provider wraps an upstream OIDC provider with this server's client
// registration at that provider. Credentials come from configuration only.
type Provider struct {
	name     string
	provider *oidc.Provider
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	log      zerolog.Logger
}

type ProviderOption func(*Provider)

func WithLogger(log zerolog.Logger) ProviderOption {
	return func(p *Provider) {
		p.log = log
	}
}

// NewProvider discovers the upstream issuer's endpoints and prepares the
// verifier for its ID tokens.
func NewProvider(ctx context.Context, cfg config.FederationConfig, options ...ProviderOption) (*Provider, error) {
	if cfg.GetUpstreamIssuer() == "" {
		return nil, errors.New("[NewProvider] upstream issuer is required")
	}
	if cfg.GetUpstreamClientID() == "" || cfg.GetUpstreamClientSecret() == "" {
		return nil, errors.New("[NewProvider] upstream client credentials are required")
	}

	upstream, err := oidc.NewProvider(ctx, cfg.GetUpstreamIssuer())
	if err != nil {
		return nil, errors.Wrap(err, "[NewProvider] oidc.NewProvider")
	}

	p := &Provider{
		name:     cfg.GetUpstreamName(),
		provider: upstream,
		oauth: &oauth2.Config{
			ClientID:     cfg.GetUpstreamClientID(),
			ClientSecret: cfg.GetUpstreamClientSecret(),
			Endpoint:     upstream.Endpoint(),
			RedirectURL:  cfg.GetUpstreamRedirectURL(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: upstream.Verifier(&oidc.Config{ClientID: cfg.GetUpstreamClientID()}),
		log:      zerolog.Nop(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

func (p *Provider) Name() string {
	return p.name
}

// AuthSession is the per-login state carried across the upstream redirect.
type AuthSession struct {
	State        string
	Nonce        string
	CodeVerifier string
}

// BeginLogin builds the upstream authorization URL with fresh state, nonce,
// and PKCE material. The caller persists the session and matches it on the
// callback.
func (p *Provider) BeginLogin() (string, *AuthSession, error) {
	state, err := randomValue()
	if err != nil {
		return "", nil, err
	}
	nonce, err := randomValue()
	if err != nil {
		return "", nil, err
	}
	verifier, err := randomValue()
	if err != nil {
		return "", nil, err
	}

	session := &AuthSession{State: state, Nonce: nonce, CodeVerifier: verifier}
	challenge := sha256.Sum256([]byte(verifier))
	url := p.oauth.AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.SetAuthURLParam("code_challenge", base64.RawURLEncoding.EncodeToString(challenge[:])),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	return url, session, nil
}

// CompleteLogin exchanges the upstream code, verifies the resulting ID
// token against the stored nonce, and returns the upstream identity.
func (p *Provider) CompleteLogin(ctx context.Context, session *AuthSession, state, code string) (*Identity, error) {
	if session == nil || state == "" || state != session.State {
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "state mismatch")
	}

	upstreamToken, err := p.oauth.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", session.CodeVerifier))
	if err != nil {
		return nil, errors.Wrap(err, "[Provider.CompleteLogin] upstream code exchange")
	}

	rawIDToken, ok := upstreamToken.Extra("id_token").(string)
	if !ok {
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "upstream response carried no identity token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Provider.CompleteLogin] identity token verification")
	}

	var claims struct {
		Nonce string `json:"nonce"`
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[Provider.CompleteLogin] claim extraction")
	}
	if claims.Nonce != session.Nonce {
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "nonce mismatch")
	}

	p.log.Debug().Str("provider", p.name).Msg("upstream login completed")
	return &Identity{
		Provider: p.name,
		Subject:  claims.Sub,
		Email:    claims.Email,
		Name:     claims.Name,
	}, nil
}

func randomValue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "rand.Read")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
