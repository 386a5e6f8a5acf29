package grants

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"time"

	"github.com/archid/go-grant-server/clients"
	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/archid/go-grant-server/oauth2"
	"github.com/archid/go-grant-server/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	defaultGrantIDLength = 32 // bytes of entropy, 256 bits
	defaultConsentTTL    = 15 * time.Minute
	defaultCodeTTL       = 5 * time.Minute
	defaultMaxIDAttempts = 3
)

// AuthorizationRequest holds the parameters of an inbound authorization
// request after transport decoding.
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod oauth2.CodeMethodType
	Nonce               string
}

// Service drives the grant lifecycle: authorization request validation, code
// issuance on consent, one-time code exchange, and token minting through the
// issuer. Safe for concurrent use; all mutable grant state lives behind the
// repo's atomic conditional updates.
type Service struct {
	repo          Repo
	validator     *clients.Validator
	issuer        *token.Manager
	log           zerolog.Logger
	nowTime       func() time.Time
	consentTTL    time.Duration
	codeTTL       time.Duration
	idLength      int
	maxIDAttempts int
}

type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// WithConsentTTL bounds how long a Pending grant awaits resource-owner consent.
func WithConsentTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.consentTTL = ttl
	}
}

// WithCodeTTL sets the authorization code lifetime, counted from issuance.
func WithCodeTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.codeTTL = ttl
	}
}

// WithCodeLength sets the grant identifier length in bytes of entropy.
func WithCodeLength(length int) ServiceOption {
	return func(s *Service) {
		if length > 0 {
			s.idLength = length
		}
	}
}

func WithLogger(log zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

// NewService initializes a grant Service with required dependencies.
func NewService(repo Repo, validator *clients.Validator, issuer *token.Manager, options ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("[NewService] grant repo is required")
	}
	if validator == nil {
		return nil, errors.New("[NewService] client validator is required")
	}
	if issuer == nil {
		return nil, errors.New("[NewService] token issuer is required")
	}

	s := &Service{
		repo:          repo,
		validator:     validator,
		issuer:        issuer,
		log:           zerolog.Nop(),
		nowTime:       time.Now,
		consentTTL:    defaultConsentTTL,
		codeTTL:       defaultCodeTTL,
		idLength:      defaultGrantIDLength,
		maxIDAttempts: defaultMaxIDAttempts,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Begin validates an authorization request and records a Pending grant
// awaiting resource-owner consent. Validation failures create no grant.
func (s *Service) Begin(ctx context.Context, req AuthorizationRequest) (*Grant, error) {
	client, err := s.validator.ValidateAuthorization(ctx, req.ClientID, req.RedirectURI, oauth2.AuthorizationCodeGrant, req.Scopes)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Begin] failed authorization validation")
	}

	if client.IsPublic() && (req.CodeChallenge == "" || req.CodeChallengeMethod == "") {
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "PKCE required for public clients")
	}
	if req.CodeChallenge != "" && !codeChallengeMethodValid(req.CodeChallengeMethod) {
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "unsupported code challenge method")
	}

	now := s.nowTime()
	grant := &Grant{
		ClientID:            client.ID,
		RequestedScopes:     req.Scopes,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		State:               StatePending,
		OneTimeUse:          true,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.consentTTL),
	}

	if err := s.createWithFreshID(ctx, grant); err != nil {
		return nil, err
	}

	s.log.Debug().Str("client_id", client.ID).Msg("authorization request pending consent")
	return grant, nil
}

// createWithFreshID persists the grant under a newly generated identifier,
// regenerating on unique-constraint collision a bounded number of times.
func (s *Service) createWithFreshID(ctx context.Context, grant *Grant) error {
	for attempt := 0; attempt < s.maxIDAttempts; attempt++ {
		id, err := s.generateGrantID()
		if err != nil {
			return errors.Wrap(err, "[Service.createWithFreshID] generateGrantID")
		}
		grant.ID = id

		err = s.repo.Create(ctx, grant)
		if err == nil {
			return nil
		}
		if !ierrors.Is(err, ierrors.ErrDuplicateID) {
			return errors.Wrap(err, "[Service.createWithFreshID] repo.Create")
		}
		s.log.Warn().Int("attempt", attempt+1).Msg("grant identifier collision, regenerating")
	}
	return ierrors.ErrStorageConflict
}

// Approve records resource-owner consent: the grant moves Pending -> Issued,
// the granted scope set is frozen to the approved subset of the requested
// scopes, and the code lifetime starts counting.
func (s *Service) Approve(ctx context.Context, grantID, ownerID string, approvedScopes []string) (*Grant, error) {
	if ownerID == "" {
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "consent requires a resource owner")
	}

	pending, err := s.repo.Get(ctx, grantID)
	if err != nil {
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "unknown grant")
	}

	granted := intersectScopes(pending.RequestedScopes, approvedScopes)
	if len(granted) == 0 {
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "no requested scope approved")
	}

	now := s.nowTime()
	grant, err := s.repo.Approve(ctx, grantID, ownerID, granted, now.Add(s.codeTTL), now)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Approve] repo.Approve")
	}

	s.log.Info().Str("client_id", grant.ClientID).Msg("authorization code issued")
	return grant, nil
}

// Deny records a consent refusal by revoking the pending grant.
func (s *Service) Deny(ctx context.Context, grantID string) error {
	if err := s.repo.Revoke(ctx, grantID); err != nil {
		return errors.Wrap(err, "[Service.Deny] repo.Revoke")
	}
	return nil
}

// Token handles a token endpoint request, dispatching on grant type.
func (s *Service) Token(ctx context.Context, req oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	switch req.GrantType {
	case oauth2.AuthorizationCodeGrant:
		return s.exchangeCode(ctx, req)
	case oauth2.ClientCredentialsGrant:
		return s.clientCredentials(ctx, req)
	case oauth2.RefreshTokenGrant:
		return s.refreshToken(ctx, req)
	default:
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "unsupported grant type")
	}
}

// exchangeCode redeems an authorization code. The Issued -> Exchanged
// transition is a single atomic conditional update at the gateway, so of two
// concurrent redemptions exactly one succeeds and the loser observes
// ErrInvalidGrant. Checks that can only run after the transition (client
// binding, PKCE proof) revoke the consumed grant on failure, keeping the
// "no token without a recorded transition" invariant.
func (s *Service) exchangeCode(ctx context.Context, req oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	client, err := s.validator.ValidateClientCredentials(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.exchangeCode] client validation")
	}
	if !client.AllowsGrantType(oauth2.AuthorizationCodeGrant) {
		return nil, errors.Wrap(ierrors.ErrUnauthorizedGrantType, string(oauth2.AuthorizationCodeGrant))
	}

	grant, err := s.repo.Exchange(ctx, req.Code, s.nowTime())
	if err != nil {
		return nil, errors.Wrap(err, "[Service.exchangeCode] repo.Exchange")
	}

	if grant.ClientID != client.ID {
		s.revokeConsumed(ctx, grant.ID)
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "code was not issued to this client")
	}

	if !verifyCodeChallenge(grant.CodeChallenge, req.CodeVerifier, grant.CodeChallengeMethod) {
		s.revokeConsumed(ctx, grant.ID)
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "code challenge verification failed")
	}

	response, err := s.issuer.Issue(ctx, token.IssueSpec{
		Client:  client,
		GrantID: grant.ID,
		OwnerID: grant.OwnerID,
		Scopes:  grant.GrantedScopes,
		Nonce:   grant.Nonce,
	})
	if err != nil {
		// The code is already consumed; revoking the grant keeps the pair
		// (grant transition, issued token) consistent - neither survives.
		s.revokeConsumed(ctx, grant.ID)
		return nil, errors.Wrap(err, "[Service.exchangeCode] issuer.Issue")
	}

	s.log.Info().Str("client_id", client.ID).Msg("authorization code exchanged")
	return response, nil
}

// clientCredentials mints an access token for machine-to-machine use.
// No grant record is persisted: the token is stateless and nothing about it
// is redeemable later.
func (s *Service) clientCredentials(ctx context.Context, req oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	client, err := s.validator.ValidateClientCredentials(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.clientCredentials] client validation")
	}
	if client.IsPublic() {
		return nil, errors.Wrap(ierrors.ErrUnauthorizedGrantType, "client credentials grant requires a confidential client")
	}
	if !client.AllowsGrantType(oauth2.ClientCredentialsGrant) {
		return nil, errors.Wrap(ierrors.ErrUnauthorizedGrantType, string(oauth2.ClientCredentialsGrant))
	}

	scopes := clients.SplitScopes(req.Scope)
	if err := s.validator.ValidateScopes(client, scopes); err != nil {
		return nil, errors.Wrap(err, "[Service.clientCredentials] scope validation")
	}

	return s.issuer.Issue(ctx, token.IssueSpec{
		Client: client,
		Scopes: scopes,
	})
}

// refreshToken rotates a refresh token and reissues access/identity tokens.
func (s *Service) refreshToken(ctx context.Context, req oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	client, err := s.validator.ValidateClientCredentials(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.refreshToken] client validation")
	}
	if !client.AllowsGrantType(oauth2.RefreshTokenGrant) {
		return nil, errors.Wrap(ierrors.ErrUnauthorizedGrantType, string(oauth2.RefreshTokenGrant))
	}

	return s.issuer.Refresh(ctx, req.RefreshToken, client)
}

// Revoke marks a grant Revoked on explicit request. Idempotent.
func (s *Service) Revoke(ctx context.Context, grantID string) error {
	if err := s.repo.Revoke(ctx, grantID); err != nil {
		return errors.Wrap(err, "[Service.Revoke] repo.Revoke")
	}
	return nil
}

func (s *Service) revokeConsumed(ctx context.Context, grantID string) {
	if err := s.repo.Revoke(ctx, grantID); err != nil {
		s.log.Err(err).Str("grant_id", grantID).Msg("failed to revoke consumed grant")
	}
}

// generateGrantID returns a cryptographically random, URL-safe identifier,
// 256 bits of entropy by default.
func (s *Service) generateGrantID() (string, error) {
	bytes := make([]byte, s.idLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", errors.Wrap(err, "rand.Read")
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

func verifyCodeChallenge(storedChallenge, verifier string, method oauth2.CodeMethodType) bool {
	if storedChallenge == "" && verifier == "" { // No PKCE code challenge
		return true
	}
	switch method {
	case oauth2.CodeMethodTypeS256:
		hash := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(hash[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(storedChallenge)) == 1
	case oauth2.CodeMethodTypePlain:
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(storedChallenge)) == 1
	}
	return false
}

func codeChallengeMethodValid(method oauth2.CodeMethodType) bool {
	switch method {
	case oauth2.CodeMethodTypeS256, oauth2.CodeMethodTypePlain:
		return true
	}
	return false
}

func intersectScopes(requested, approved []string) []string {
	approvedSet := make(map[string]bool, len(approved))
	for _, s := range approved {
		approvedSet[s] = true
	}
	granted := make([]string, 0, len(requested))
	for _, s := range requested {
		if approvedSet[s] {
			granted = append(granted, s)
		}
	}
	return granted
}
