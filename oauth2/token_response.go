package oauth2

// TokenResponse represents the response from an OAuth2 token request.
// This is the standard token endpoint response format defined in RFC 6749 §5.1.
type TokenResponse struct {
	// AccessToken is the signed JWT used to access protected resources.
	// Usage: "Authorization: Bearer <access_token>"
	AccessToken *string `json:"access_token,omitempty"`

	// IdToken is the OpenID Connect ID token containing user identity claims.
	// Only present when the "openid" scope was granted.
	IdToken *string `json:"id_token,omitempty"`

	// TokenType is always "bearer" in this implementation.
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the lifetime in seconds of the access token. A hint -
	// the authoritative expiry is the JWT's "exp" claim.
	ExpiresIn int `json:"expires_in,omitempty"`

	// RefreshToken is an opaque token used to obtain new access tokens.
	// Rotates on each use; the presented token is invalidated atomically.
	RefreshToken *string `json:"refresh_token,omitempty"`

	// Scope is the space-separated list of granted scopes. May be less than
	// requested if some scopes were denied at consent time.
	Scope string `json:"scope,omitempty"`
}
