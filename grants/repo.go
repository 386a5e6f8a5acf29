package grants

import (
	"context"
	"time"
)

// Repo is the persistence gateway contract for grants. Implementations must
// guarantee a unique constraint on the grant ID and linearizable conditional
// state transitions: Approve and Exchange are single atomic operations, never
// a read followed by a write.
type Repo interface {
	// Create persists a new grant. Returns ErrDuplicateID when the ID
	// collides with an existing one.
	Create(ctx context.Context, grant *Grant) error

	Get(ctx context.Context, id string) (*Grant, error)

	// Approve transitions Pending -> Issued, recording the consenting owner,
	// the granted scope set, and the code expiry in one atomic step.
	// Returns ErrInvalidGrant when the grant is not Pending or is expired.
	Approve(ctx context.Context, id, ownerID string, grantedScopes []string, expiresAt, now time.Time) (*Grant, error)

	// Exchange transitions Issued -> Exchanged atomically and returns the
	// grant as it was at redemption. When two redemptions race, exactly one
	// wins; the loser - like any expired, consumed, revoked, or unknown
	// code - gets ErrInvalidGrant.
	Exchange(ctx context.Context, id string, now time.Time) (*Grant, error)

	// Revoke marks the grant Revoked. Idempotent: revoking a grant that is
	// already terminal is a no-op, not an error.
	Revoke(ctx context.Context, id string) error

	// RevokeByOwner revokes every non-terminal grant of an owner and returns
	// the number of grants transitioned.
	RevokeByOwner(ctx context.Context, ownerID string) (int64, error)

	// MarkExpired transitions every Pending or Issued grant past its expiry
	// to Expired. Idempotent; returns the number of rows transitioned.
	MarkExpired(ctx context.Context, now time.Time) (int64, error)

	// DeleteBefore physically removes terminal grants whose expiry is older
	// than the cutoff (the retention window boundary).
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
