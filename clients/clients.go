package clients

import (
	"strings"
	"time"

	"github.com/archid/go-grant-server/oauth2"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

type ClientType string

const (
	ClientTypeConfidential ClientType = "confidential" // Can keep secrets (server-side apps)
	ClientTypePublic       ClientType = "public"       // Cannot keep secrets (SPAs, mobile apps)
)

// Client is the registered configuration of an OAuth2 client. Immutable
// during a request; mutated only by administrative configuration or the
// seed import at provisioning time.
type Client struct {
	ID           string             `json:"id"`
	Type         ClientType         `json:"type"`
	Description  string             `json:"description"`
	SecretHash   string             `json:"secretHash"` // bcrypt hash, never the plaintext secret
	RedirectURIs []string           `json:"redirectURIs"`
	GrantTypes   []oauth2.GrantType `json:"grantTypes"`
	Scopes       []string           `json:"scopes"`

	// Token lifetime policy. Zero values fall back to server defaults;
	// RefreshTokenTTL == 0 disables refresh tokens for the client.
	AccessTokenTTL   time.Duration `json:"accessTokenTTL"`
	IdentityTokenTTL time.Duration `json:"identityTokenTTL"`
	RefreshTokenTTL  time.Duration `json:"refreshTokenTTL"`
}

// IsPublic returns true if the client is a public client
func (c *Client) IsPublic() bool {
	return c.Type == ClientTypePublic
}

// AllowsGrantType checks whether the client is registered for a grant type.
func (c *Client) AllowsGrantType(gt oauth2.GrantType) bool {
	for _, allowed := range c.GrantTypes {
		if allowed == gt {
			return true
		}
	}
	return false
}

// AllowsRedirect checks a redirect URI against the registered set.
// Exact match only - no prefix or wildcard matching.
func (c *Client) AllowsRedirect(redirectURI string) bool {
	for _, uri := range c.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// HasScope checks if the client has permission for a specific scope
func (c *Client) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// CheckSecret compares a presented plaintext secret against the stored hash.
func (c *Client) CheckSecret(secret string) bool {
	if c.SecretHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(secret)) == nil
}

// HashSecret hashes a plaintext client secret for storage.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "[HashSecret] bcrypt.GenerateFromPassword")
	}
	return string(hash), nil
}

// SplitScopes splits a space-separated scope string, dropping empty tokens.
func SplitScopes(scope string) []string {
	result := []string{}
	for _, s := range strings.Split(scope, " ") {
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}
