package grantrepofakes

import (
	"context"
	"sync"
	"time"

	"github.com/archid/go-grant-server/grants"
	ierrors "github.com/archid/go-grant-server/internal/errors"
)

var _ grants.Repo = (*FakeGrantRepo)(nil)

// FakeGrantRepo is an in-memory grants.Repo. The single mutex makes every
// conditional transition atomic, mirroring the row-level guarantees of the
// postgres gateway.
type FakeGrantRepo struct {
	grants map[string]*grants.Grant
	lock   sync.Mutex

	// ForceDuplicateID makes every Create fail with ErrDuplicateID, for
	// exercising collision retry paths.
	ForceDuplicateID bool
}

func NewFakeGrantRepo() *FakeGrantRepo {
	return &FakeGrantRepo{grants: make(map[string]*grants.Grant)}
}

// Len reports the number of stored grants.
func (r *FakeGrantRepo) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.grants)
}

func (r *FakeGrantRepo) Create(_ context.Context, grant *grants.Grant) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.ForceDuplicateID {
		return ierrors.ErrDuplicateID
	}
	if _, exists := r.grants[grant.ID]; exists {
		return ierrors.ErrDuplicateID
	}

	copied := *grant
	r.grants[grant.ID] = &copied
	return nil
}

func (r *FakeGrantRepo) Get(_ context.Context, id string) (*grants.Grant, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	grant, ok := r.grants[id]
	if !ok {
		return nil, ierrors.ErrNotFound
	}
	copied := *grant
	return &copied, nil
}

func (r *FakeGrantRepo) Approve(_ context.Context, id, ownerID string, grantedScopes []string, expiresAt, now time.Time) (*grants.Grant, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	grant, ok := r.grants[id]
	if !ok || grant.State != grants.StatePending || grant.Expired(now) {
		return nil, ierrors.ErrInvalidGrant
	}

	grant.State = grants.StateIssued
	grant.OwnerID = ownerID
	grant.GrantedScopes = grantedScopes
	grant.ExpiresAt = expiresAt

	copied := *grant
	return &copied, nil
}

func (r *FakeGrantRepo) Exchange(_ context.Context, id string, now time.Time) (*grants.Grant, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	grant, ok := r.grants[id]
	if !ok || grant.State != grants.StateIssued || grant.Expired(now) {
		return nil, ierrors.ErrInvalidGrant
	}

	grant.State = grants.StateExchanged
	copied := *grant
	return &copied, nil
}

func (r *FakeGrantRepo) Revoke(_ context.Context, id string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	grant, ok := r.grants[id]
	if !ok {
		return nil
	}
	if grant.State == grants.StateRevoked || grant.State == grants.StateExpired {
		return nil
	}
	grant.State = grants.StateRevoked
	return nil
}

func (r *FakeGrantRepo) RevokeByOwner(_ context.Context, ownerID string) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var count int64
	for _, grant := range r.grants {
		if grant.OwnerID != ownerID {
			continue
		}
		if grant.State == grants.StateRevoked || grant.State == grants.StateExpired {
			continue
		}
		grant.State = grants.StateRevoked
		count++
	}
	return count, nil
}

func (r *FakeGrantRepo) MarkExpired(_ context.Context, now time.Time) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var count int64
	for _, grant := range r.grants {
		if (grant.State == grants.StatePending || grant.State == grants.StateIssued) && grant.Expired(now) {
			grant.State = grants.StateExpired
			count++
		}
	}
	return count, nil
}

func (r *FakeGrantRepo) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var count int64
	for id, grant := range r.grants {
		terminal := grant.State == grants.StateExchanged ||
			grant.State == grants.StateRevoked ||
			grant.State == grants.StateExpired
		if terminal && grant.ExpiresAt.Before(cutoff) {
			delete(r.grants, id)
			count++
		}
	}
	return count, nil
}
