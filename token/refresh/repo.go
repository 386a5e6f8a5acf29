package refresh

import (
	"context"
	"time"
)

// StoredToken is the server-side record of a refresh token. The client only
// ever sees the Token field (an opaque random string); everything else is
// validation metadata. Successive rotations share a ChainID - the invariant
// is exactly one live (non-revoked, non-expired) token per chain.
type StoredToken struct {
	Token     string
	ChainID   string
	GrantID   string
	ClientID  string
	OwnerID   string
	Scopes    []string
	Nonce     string
	Revoked   bool
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (t *StoredToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Repo manages server-side storage of refresh tokens. Rotate must be atomic:
// the predecessor is invalidated and the successor persisted in one
// transaction, or a concurrent replay could mint two valid successors.
type Repo interface {
	// Create persists a new token. Returns ErrDuplicateID on collision.
	Create(ctx context.Context, token *StoredToken) error

	Get(ctx context.Context, token string) (*StoredToken, error)

	// Rotate revokes the live predecessor and persists its successor in one
	// atomic step. Returns ErrInvalidGrant when the predecessor is not live
	// (already rotated, revoked, or expired) - in that case the successor is
	// not persisted.
	Rotate(ctx context.Context, predecessor string, successor *StoredToken, now time.Time) error

	// RevokeChain revokes every token in a rotation chain.
	RevokeChain(ctx context.Context, chainID string) (int64, error)

	// RevokeByGrant revokes every chain descended from a grant.
	RevokeByGrant(ctx context.Context, grantID string) (int64, error)

	// RevokeByOwner revokes every token belonging to an owner.
	RevokeByOwner(ctx context.Context, ownerID string) (int64, error)

	// DeleteBefore removes tokens whose expiry is older than the cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
