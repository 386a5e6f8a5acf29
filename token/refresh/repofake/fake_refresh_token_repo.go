package refreshrepofake

import (
	"context"
	"sync"
	"time"

	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/archid/go-grant-server/token/refresh"
)

var _ refresh.Repo = (*FakeRefreshTokenRepo)(nil)

type FakeRefreshTokenRepo struct {
	tokens map[string]*refresh.StoredToken
	lock   sync.Mutex
}

func NewFakeRefreshTokenRepo() *FakeRefreshTokenRepo {
	return &FakeRefreshTokenRepo{tokens: make(map[string]*refresh.StoredToken)}
}

func (r *FakeRefreshTokenRepo) Create(_ context.Context, token *refresh.StoredToken) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, exists := r.tokens[token.Token]; exists {
		return ierrors.ErrDuplicateID
	}
	copied := *token
	r.tokens[token.Token] = &copied
	return nil
}

func (r *FakeRefreshTokenRepo) Get(_ context.Context, token string) (*refresh.StoredToken, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	stored, ok := r.tokens[token]
	if !ok {
		return nil, ierrors.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

func (r *FakeRefreshTokenRepo) Rotate(_ context.Context, predecessor string, successor *refresh.StoredToken, now time.Time) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	old, ok := r.tokens[predecessor]
	if !ok || old.Revoked || old.Expired(now) {
		return ierrors.ErrInvalidGrant
	}
	if _, exists := r.tokens[successor.Token]; exists {
		return ierrors.ErrDuplicateID
	}

	old.Revoked = true
	copied := *successor
	r.tokens[successor.Token] = &copied
	return nil
}

func (r *FakeRefreshTokenRepo) RevokeChain(_ context.Context, chainID string) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var count int64
	for _, token := range r.tokens {
		if token.ChainID == chainID && !token.Revoked {
			token.Revoked = true
			count++
		}
	}
	return count, nil
}

func (r *FakeRefreshTokenRepo) RevokeByGrant(_ context.Context, grantID string) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var count int64
	for _, token := range r.tokens {
		if token.GrantID == grantID && !token.Revoked {
			token.Revoked = true
			count++
		}
	}
	return count, nil
}

func (r *FakeRefreshTokenRepo) RevokeByOwner(_ context.Context, ownerID string) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var count int64
	for _, token := range r.tokens {
		if token.OwnerID == ownerID && !token.Revoked {
			token.Revoked = true
			count++
		}
	}
	return count, nil
}

// Live reports how many stored tokens are neither revoked nor expired.
func (r *FakeRefreshTokenRepo) Live(now time.Time) int {
	r.lock.Lock()
	defer r.lock.Unlock()

	var count int
	for _, token := range r.tokens {
		if !token.Revoked && !token.Expired(now) {
			count++
		}
	}
	return count
}

func (r *FakeRefreshTokenRepo) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var count int64
	for key, token := range r.tokens {
		if token.ExpiresAt.Before(cutoff) {
			delete(r.tokens, key)
			count++
		}
	}
	return count, nil
}
