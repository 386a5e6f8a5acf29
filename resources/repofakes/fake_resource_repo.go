package resourcerepofakes

import (
	"context"
	"sort"
	"sync"

	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/archid/go-grant-server/resources"
)

var _ resources.Repo = (*FakeResourceRepo)(nil)

type FakeResourceRepo struct {
	identity map[string]*resources.IdentityResource
	apis     map[string]*resources.APIResource
	lock     sync.RWMutex
}

func NewFakeResourceRepo() *FakeResourceRepo {
	return &FakeResourceRepo{
		identity: make(map[string]*resources.IdentityResource),
		apis:     make(map[string]*resources.APIResource),
	}
}

func (r *FakeResourceRepo) UpsertIdentity(_ context.Context, res *resources.IdentityResource) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.identity[res.Name] = res
	return nil
}

func (r *FakeResourceRepo) GetIdentity(_ context.Context, name string) (*resources.IdentityResource, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	res, ok := r.identity[name]
	if !ok {
		return nil, ierrors.ErrNotFound
	}
	return res, nil
}

func (r *FakeResourceRepo) ListIdentity(_ context.Context) ([]*resources.IdentityResource, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	all := make([]*resources.IdentityResource, 0, len(r.identity))
	for _, v := range r.identity {
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all, nil
}

func (r *FakeResourceRepo) UpsertAPI(_ context.Context, res *resources.APIResource) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.apis[res.Name] = res
	return nil
}

func (r *FakeResourceRepo) GetAPI(_ context.Context, name string) (*resources.APIResource, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	res, ok := r.apis[name]
	if !ok {
		return nil, ierrors.ErrNotFound
	}
	return res, nil
}

func (r *FakeResourceRepo) ListAPI(_ context.Context) ([]*resources.APIResource, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	all := make([]*resources.APIResource, 0, len(r.apis))
	for _, v := range r.apis {
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all, nil
}
