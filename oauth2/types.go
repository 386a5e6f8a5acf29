package oauth2

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
// Determines what credentials are required to obtain tokens.
type GrantType string

const (
	// AuthorizationCodeGrant exchanges an authorization code for tokens.
	// Token request includes: code, client_id, client_secret, code_verifier (if PKCE)
	// Returns: access_token, id_token, refresh_token (if the client policy allows)
	AuthorizationCodeGrant GrantType = "authorization_code"

	// ClientCredentialsGrant allows machine-to-machine authentication.
	// Token request includes: client_id, client_secret, scope
	// Returns: access_token only (no refresh_token or id_token)
	ClientCredentialsGrant GrantType = "client_credentials"

	// RefreshTokenGrant exchanges a refresh token for new tokens.
	// The presented refresh token is invalidated and a successor is issued
	// in its place (single-use with rotation).
	RefreshTokenGrant GrantType = "refresh_token"
)

// CodeMethodType represents the PKCE (Proof Key for Code Exchange) challenge method.
// Used to prevent authorization code interception attacks (especially for public clients).
type CodeMethodType string

const (
	// CodeMethodTypeS256 indicates SHA-256 hashing is used for the code challenge.
	// Client sends: code_challenge = BASE64URL(SHA256(code_verifier))
	// Server validates: SHA256(provided code_verifier) == stored code_challenge
	CodeMethodTypeS256 CodeMethodType = "S256"

	// CodeMethodTypePlain means no hashing, the code_verifier is sent directly.
	// Only protects against passive attacks; S256 is strongly preferred.
	CodeMethodTypePlain CodeMethodType = "plain"
)

// TokenRequest holds the parameters of a token endpoint request as received
// at the protocol boundary. The transport (HTTP form decoding, verb checks)
// lives outside the core.
type TokenRequest struct {
	GrantType    GrantType
	ClientID     string
	ClientSecret string
	Code         string
	CodeVerifier string
	RefreshToken string
	Scope        string
}
