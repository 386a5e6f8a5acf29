package token

import (
	"context"
	"strings"
	"time"

	"github.com/archid/go-grant-server/clients"
	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/archid/go-grant-server/internal/utils"
	"github.com/archid/go-grant-server/oauth2"
	"github.com/archid/go-grant-server/owners"
	"github.com/archid/go-grant-server/resources"
	"github.com/archid/go-grant-server/token/refresh"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const scopeOpenID = "openid"

// IssueSpec describes one token issuance: the validated client, the grant
// being redeemed (empty for client credentials), the resource owner (empty
// for machine tokens), and the granted scope set.
type IssueSpec struct {
	Client  *clients.Client
	GrantID string
	OwnerID string
	Scopes  []string
	Nonce   string
}

// TokenIntrospection represents the metadata information of an OAuth 2.0 token.
// The 'active' field indicates the state of the token - if it's false, other
// fields may not be populated.
type TokenIntrospection struct {
	Active   bool     `json:"active"`
	Aud      []string `json:"aud,omitempty"`
	Exp      *int64   `json:"exp,omitempty"`
	Iat      *int64   `json:"iat,omitempty"`
	Iss      *string  `json:"iss,omitempty"`
	Sub      *string  `json:"sub,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
	Scope    string   `json:"scope,omitempty"`
}

// Manager constructs signed access and identity tokens and opaque refresh
// tokens for validated grants. Access and identity tokens are stateless once
// signed: validity is signature plus expiry, no storage lookup. Refresh
// tokens are persisted and rotate on every use.
type Manager struct {
	keyring     *Keyring
	refresh     *refresh.Manager
	resolver    *resources.Resolver
	ownerRepo   owners.Repo
	log         zerolog.Logger
	issuer      string
	accessTTL   time.Duration
	identityTTL time.Duration
	refreshTTL  time.Duration
	nowTime     func() time.Time
}

type ManagerOption func(*Manager)

func WithTokenTTLs(accessTTL, identityTTL, refreshTTL time.Duration) ManagerOption {
	return func(m *Manager) {
		m.accessTTL = accessTTL
		m.identityTTL = identityTTL
		m.refreshTTL = refreshTTL
	}
}

func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

func NewManager(keyring *Keyring, refreshManager *refresh.Manager, resolver *resources.Resolver, ownerRepo owners.Repo, issuer string, options ...ManagerOption) (*Manager, error) {
	if keyring == nil {
		return nil, ierrors.ErrSigningKeyUnavailable
	}
	if refreshManager == nil {
		return nil, errors.New("[NewManager] refresh manager is required")
	}
	if resolver == nil {
		return nil, errors.New("[NewManager] resource resolver is required")
	}
	if ownerRepo == nil {
		return nil, errors.New("[NewManager] owner repo is required")
	}
	if issuer == "" {
		return nil, errors.New("[NewManager] issuer is required")
	}

	m := &Manager{
		keyring:     keyring,
		refresh:     refreshManager,
		resolver:    resolver,
		ownerRepo:   ownerRepo,
		log:         zerolog.Nop(),
		issuer:      issuer,
		accessTTL:   time.Hour,
		identityTTL: time.Hour,
		refreshTTL:  7 * 24 * time.Hour,
		nowTime:     time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Issue mints the token set for a validated grant: always an access token,
// an identity token when the openid scope was granted to a resource owner,
// and a refresh token when the client's policy allows one.
func (m *Manager) Issue(ctx context.Context, spec IssueSpec) (*oauth2.TokenResponse, error) {
	return m.issue(ctx, spec, true)
}

// issue mints the access/identity pair; withRefresh controls whether a new
// refresh chain starts. The refresh grant path must pass false - the rotated
// successor is already the chain's one live token.
func (m *Manager) issue(ctx context.Context, spec IssueSpec, withRefresh bool) (*oauth2.TokenResponse, error) {
	var owner *owners.Owner
	if spec.OwnerID != "" {
		var err error
		owner, err = m.ownerRepo.Get(ctx, spec.OwnerID)
		if err != nil {
			return nil, errors.Wrap(ierrors.ErrInvalidGrant, "unknown resource owner")
		}
		if owner.Blocked {
			return nil, errors.Wrap(ierrors.ErrInvalidGrant, "resource owner is blocked")
		}
	}

	accessTTL := spec.Client.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = m.accessTTL
	}

	accessToken, err := m.createAccessToken(ctx, spec, accessTTL)
	if err != nil {
		return nil, err
	}

	var idToken *string
	if owner != nil && hasScope(spec.Scopes, scopeOpenID) {
		idToken, err = m.createIdentityToken(ctx, spec, owner)
		if err != nil {
			return nil, err
		}
	}

	var refreshValue *string
	if withRefresh && owner != nil && spec.Client.AllowsGrantType(oauth2.RefreshTokenGrant) {
		ttl := spec.Client.RefreshTokenTTL
		if ttl <= 0 {
			ttl = m.refreshTTL
		}
		rt, err := m.refresh.Issue(ctx, spec.GrantID, spec.Client.ID, spec.OwnerID, spec.Scopes, spec.Nonce, ttl)
		if err != nil {
			return nil, errors.Wrap(err, "[Manager.Issue] refresh.Issue")
		}
		refreshValue = &rt.Token
	}

	return &oauth2.TokenResponse{
		AccessToken:  accessToken,
		IdToken:      idToken,
		TokenType:    "bearer",
		ExpiresIn:    int(accessTTL.Seconds()),
		RefreshToken: refreshValue,
		Scope:        strings.Join(spec.Scopes, " "),
	}, nil
}

// Refresh redeems a refresh token: the presented token rotates to a
// successor and a fresh access/identity token pair is minted under the
// original grant's scope set.
func (m *Manager) Refresh(ctx context.Context, rawToken string, client *clients.Client) (*oauth2.TokenResponse, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "refresh token is required")
	}

	successor, err := m.refresh.Redeem(ctx, rawToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Refresh] refresh.Redeem")
	}

	if successor.ClientID != client.ID {
		// The token chain belongs to another client; treat as compromise.
		if revokeErr := m.refresh.Revoke(ctx, successor.Token); revokeErr != nil {
			m.log.Err(revokeErr).Msg("failed to revoke refresh chain after client mismatch")
		}
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "refresh token was not issued to this client")
	}

	response, err := m.issue(ctx, IssueSpec{
		Client:  client,
		GrantID: successor.GrantID,
		OwnerID: successor.OwnerID,
		Scopes:  successor.Scopes,
		Nonce:   successor.Nonce,
	}, false)
	if err != nil {
		// The successor minted by Redeem was never delivered; kill the
		// chain rather than leave a live credential nobody holds.
		if revokeErr := m.refresh.Revoke(ctx, successor.Token); revokeErr != nil {
			m.log.Err(revokeErr).Msg("failed to revoke refresh chain after issuance failure")
		}
		return nil, err
	}

	// The successor minted by Redeem is the chain's one live token.
	response.RefreshToken = &successor.Token
	return response, nil
}

func (m *Manager) createAccessToken(ctx context.Context, spec IssueSpec, ttl time.Duration) (*string, error) {
	audiences, err := m.resolver.Audiences(ctx, spec.Scopes)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.createAccessToken] resolver.Audiences")
	}

	now := m.nowTime()
	subject := spec.Client.ID
	if spec.OwnerID != "" {
		subject = spec.OwnerID
	}

	claims := jwt.MapClaims{
		"iss":       m.issuer,
		"sub":       subject,
		"client_id": spec.Client.ID,
		"scope":     strings.Join(spec.Scopes, " "),
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
		"jti":       uuid.New().String(),
	}
	if len(audiences) > 0 {
		claims["aud"] = audiences
	}

	return m.sign(claims)
}

func (m *Manager) createIdentityToken(ctx context.Context, spec IssueSpec, owner *owners.Owner) (*string, error) {
	released, err := m.resolver.Claims(ctx, spec.Scopes)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.createIdentityToken] resolver.Claims")
	}

	ttl := spec.Client.IdentityTokenTTL
	if ttl <= 0 {
		ttl = m.identityTTL
	}

	now := m.nowTime()
	claims := jwt.MapClaims{
		"iss": m.issuer,
		"sub": owner.ID,
		"aud": spec.Client.ID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": uuid.New().String(),
	}
	if spec.Nonce != "" {
		claims["nonce"] = spec.Nonce
	}
	for _, claim := range released {
		switch claim {
		case "email":
			claims["email"] = owner.Email
		case "name":
			claims["name"] = owner.Name
		}
	}

	return m.sign(claims)
}

// sign signs claims with the active key, embedding its version identifier.
func (m *Manager) sign(claims jwt.MapClaims) (*string, error) {
	key, err := m.keyring.Active()
	if err != nil {
		return nil, err
	}

	tok := jwt.NewWithClaims(key.GetSigningMethod(), claims)
	tok.Header["kid"] = key.KeyID

	signed, err := tok.SignedString(key.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign token")
	}
	return utils.Ptr(signed), nil
}

// Verify parses a signed token and validates signature and expiry. The key
// is looked up by the version identifier in the token header, so tokens
// signed before a rotation keep verifying while their key is retained.
func (m *Manager) Verify(rawToken string) (jwt.MapClaims, error) {
	tok, err := jwt.Parse(rawToken, m.verificationKey,
		jwt.WithValidMethods([]string{RS256}),
		jwt.WithTimeFunc(m.nowTime),
	)
	if err != nil || !tok.Valid {
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "token verification failed")
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "error extracting claims")
	}
	return claims, nil
}

// Introspect validates a token and returns its metadata, with Active=false
// for anything that fails signature or expiry checks.
func (m *Manager) Introspect(rawToken string) (*TokenIntrospection, error) {
	if strings.TrimSpace(rawToken) == "" {
		return &TokenIntrospection{Active: false}, nil
	}

	claims, err := m.Verify(rawToken)
	if err != nil {
		return &TokenIntrospection{Active: false}, nil
	}

	iss, _ := claims["iss"].(string)
	sub, _ := claims["sub"].(string)
	clientID, _ := claims["client_id"].(string)
	scope, _ := claims["scope"].(string)
	iat, _ := claims["iat"].(float64)
	exp, _ := claims["exp"].(float64)

	var aud []string
	switch v := claims["aud"].(type) {
	case string:
		aud = []string{v}
	case []interface{}:
		aud = utils.ToStringSlice(v)
	}

	return &TokenIntrospection{
		Active:   true,
		Aud:      aud,
		Exp:      utils.Ptr(int64(exp)),
		Iat:      utils.Ptr(int64(iat)),
		Iss:      utils.Ptr(iss),
		Sub:      utils.Ptr(sub),
		ClientID: clientID,
		Scope:    scope,
	}, nil
}

// RevokeRefreshToken invalidates a refresh token chain on explicit request.
func (m *Manager) RevokeRefreshToken(ctx context.Context, rawToken string) error {
	return m.refresh.Revoke(ctx, rawToken)
}

// JWKS returns the JSON Web Key Set for public key distribution.
func (m *Manager) JWKS() (*JWKS, error) {
	return m.keyring.JWKS()
}

func (m *Manager) verificationKey(tok *jwt.Token) (interface{}, error) {
	if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", tok.Header["alg"])
	}
	kid, _ := tok.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token missing key version identifier")
	}
	return m.keyring.VerificationKey(kid)
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
