package refresh

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const defaultTokenLength = 32 // bytes, 256 bits

// Manager handles refresh token creation, validation, and single-use
// rotation.
type Manager struct {
	repo        Repo
	log         zerolog.Logger
	tokenLength int
	defaultTTL  time.Duration
	nowTime     func() time.Time
}

type ManagerOption func(*Manager)

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

func WithDefaultTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.defaultTTL = ttl
	}
}

// WithTokenLength sets the random token value length in bytes.
func WithTokenLength(length int) ManagerOption {
	return func(m *Manager) {
		if length > 0 {
			m.tokenLength = length
		}
	}
}

func NewManager(repo Repo, options ...ManagerOption) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("[NewManager] refresh token repo is required")
	}
	m := &Manager{
		repo:        repo,
		log:         zerolog.Nop(),
		tokenLength: defaultTokenLength,
		defaultTTL:  7 * 24 * time.Hour,
		nowTime:     time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Issue creates the first token of a new rotation chain.
func (m *Manager) Issue(ctx context.Context, grantID, clientID, ownerID string, scopes []string, nonce string, ttl time.Duration) (*StoredToken, error) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	now := m.nowTime()
	token := &StoredToken{
		ChainID:   uuid.New().String(),
		GrantID:   grantID,
		ClientID:  clientID,
		OwnerID:   ownerID,
		Scopes:    scopes,
		Nonce:     nonce,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	value, err := m.generateTokenValue()
	if err != nil {
		return nil, err
	}
	token.Token = value

	if err := m.repo.Create(ctx, token); err != nil {
		return nil, errors.Wrap(err, "[Manager.Issue] repo.Create")
	}
	return token, nil
}

// Redeem validates a presented refresh token and rotates it: the presented
// token is invalidated and a successor carrying the same chain is persisted,
// both in one atomic step at the repo. Replay of an already-rotated token
// fails with ErrInvalidGrant and revokes the whole chain, since a replay
// means the token leaked.
func (m *Manager) Redeem(ctx context.Context, rawToken string) (*StoredToken, error) {
	current, err := m.repo.Get(ctx, rawToken)
	if err != nil {
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "unknown refresh token")
	}

	now := m.nowTime()
	if current.Revoked || current.Expired(now) {
		if current.Revoked && !current.Expired(now) {
			// Replay of a consumed token: assume compromise, kill the chain.
			if _, err := m.repo.RevokeChain(ctx, current.ChainID); err != nil {
				m.log.Err(err).Str("chain_id", current.ChainID).Msg("failed to revoke refresh chain after replay")
			} else {
				m.log.Warn().Str("chain_id", current.ChainID).Msg("refresh token replay detected, chain revoked")
			}
		}
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "refresh token no longer live")
	}

	value, err := m.generateTokenValue()
	if err != nil {
		return nil, err
	}

	successor := &StoredToken{
		Token:     value,
		ChainID:   current.ChainID,
		GrantID:   current.GrantID,
		ClientID:  current.ClientID,
		OwnerID:   current.OwnerID,
		Scopes:    current.Scopes,
		Nonce:     current.Nonce,
		IssuedAt:  now,
		ExpiresAt: now.Add(current.ExpiresAt.Sub(current.IssuedAt)),
	}

	if err := m.repo.Rotate(ctx, rawToken, successor, now); err != nil {
		// A concurrent redemption won the rotation between our read and the
		// conditional update; the repo reports it as ErrInvalidGrant.
		return nil, errors.Wrap(err, "[Manager.Redeem] repo.Rotate")
	}
	return successor, nil
}

// Revoke invalidates a single refresh token and its chain.
func (m *Manager) Revoke(ctx context.Context, rawToken string) error {
	current, err := m.repo.Get(ctx, rawToken)
	if err != nil {
		return nil // unknown token, nothing to revoke
	}
	if _, err := m.repo.RevokeChain(ctx, current.ChainID); err != nil {
		return errors.Wrap(err, "[Manager.Revoke] repo.RevokeChain")
	}
	return nil
}

func (m *Manager) generateTokenValue() (string, error) {
	tokenBytes := make([]byte, m.tokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", errors.Wrap(err, "rand.Read")
	}
	return hex.EncodeToString(tokenBytes), nil
}
