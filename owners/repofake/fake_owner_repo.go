package fakeownerrepo

import (
	"context"
	"sync"

	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/archid/go-grant-server/owners"
	"github.com/google/uuid"
)

var _ owners.Repo = (*FakeOwnerRepo)(nil)

type FakeOwnerRepo struct {
	owners map[string]*owners.Owner
	lock   sync.RWMutex
}

func NewFakeOwnerRepo() *FakeOwnerRepo {
	return &FakeOwnerRepo{owners: make(map[string]*owners.Owner)}
}

func (r *FakeOwnerRepo) Upsert(_ context.Context, owner *owners.Owner) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if owner.ID == "" {
		owner.ID = uuid.New().String()
	}
	r.owners[owner.ID] = owner
	return nil
}

func (r *FakeOwnerRepo) Get(_ context.Context, ownerID string) (*owners.Owner, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	owner, ok := r.owners[ownerID]
	if !ok {
		return nil, ierrors.ErrNotFound
	}
	return owner, nil
}

func (r *FakeOwnerRepo) GetByFederatedIdentity(_ context.Context, provider, subject string) (*owners.Owner, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	for _, owner := range r.owners {
		if owner.HasFederatedIdentity(provider, subject) {
			return owner, nil
		}
	}
	return nil, ierrors.ErrNotFound
}
