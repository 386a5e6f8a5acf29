package clients

import (
	"context"

	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/archid/go-grant-server/oauth2"
	"github.com/pkg/errors"
)

// Validator resolves a client identifier to its registered configuration and
// authorizes requested redirect URIs, grant types, and scopes against it.
// Side-effect free and read-only against the persistence gateway; an optional
// cache with explicit invalidation fronts the repo.
//
// The check order is deliberate: client existence is established before any
// scope is examined, so unknown clients cannot probe for scope existence, and
// the redirect URI exact-match runs before grant-type authorization.
type Validator struct {
	repo  Repo
	cache Cache
}

type ValidatorOption func(*Validator)

// WithCache fronts the repo with a read-through cache.
func WithCache(cache Cache) ValidatorOption {
	return func(v *Validator) {
		v.cache = cache
	}
}

func NewValidator(repo Repo, options ...ValidatorOption) (*Validator, error) {
	if repo == nil {
		return nil, errors.New("[NewValidator] client repo is required")
	}
	v := &Validator{repo: repo}
	for _, opt := range options {
		opt(v)
	}
	return v, nil
}

// Resolve looks up a client, via the cache when one is configured.
// Fails with ErrUnknownClient for any client the gateway does not know.
func (v *Validator) Resolve(ctx context.Context, clientID string) (*Client, error) {
	if clientID == "" {
		return nil, ierrors.ErrUnknownClient
	}

	if v.cache != nil {
		if client, err := v.cache.Get(ctx, clientID); err == nil {
			return client, nil
		}
	}

	client, err := v.repo.Get(ctx, clientID)
	if err != nil {
		if ierrors.Is(err, ierrors.ErrNotFound) {
			return nil, errors.Wrap(ierrors.ErrUnknownClient, clientID)
		}
		return nil, errors.Wrap(err, "[Validator.Resolve] repo.Get")
	}

	if v.cache != nil {
		_ = v.cache.Put(ctx, client) // best effort, repo stays authoritative
	}
	return client, nil
}

// ValidateAuthorization authorizes an authorization request. On success the
// resolved client is returned; on failure exactly one taxonomy error comes
// back and no grant state has been touched.
func (v *Validator) ValidateAuthorization(ctx context.Context, clientID, redirectURI string, grantType oauth2.GrantType, scopes []string) (*Client, error) {
	client, err := v.Resolve(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if !client.AllowsRedirect(redirectURI) {
		return nil, errors.Wrap(ierrors.ErrRedirectMismatch, redirectURI)
	}

	if !client.AllowsGrantType(grantType) {
		return nil, errors.Wrap(ierrors.ErrUnauthorizedGrantType, string(grantType))
	}

	if err := v.ValidateScopes(client, scopes); err != nil {
		return nil, err
	}
	return client, nil
}

// ValidateClientCredentials authorizes a token endpoint request where the
// client authenticates directly (client_credentials, confidential code
// exchange, refresh).
func (v *Validator) ValidateClientCredentials(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	client, err := v.Resolve(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if client.IsPublic() {
		if clientSecret != "" {
			return nil, errors.Wrap(ierrors.ErrInvalidClientSecret, "public clients must not present a secret")
		}
		return client, nil
	}

	if !client.CheckSecret(clientSecret) {
		return nil, ierrors.ErrInvalidClientSecret
	}
	return client, nil
}

// ValidateScopes checks that every requested scope is allowed for the client.
func (v *Validator) ValidateScopes(client *Client, scopes []string) error {
	for _, scope := range scopes {
		if !client.HasScope(scope) {
			return errors.Wrap(ierrors.ErrUnauthorizedScope, scope)
		}
	}
	return nil
}

// Invalidate drops a client from the cache after an administrative update.
func (v *Validator) Invalidate(ctx context.Context, clientID string) error {
	if v.cache == nil {
		return nil
	}
	return v.cache.Invalidate(ctx, clientID)
}
