package owners

import "context"

type Repo interface {
	Upsert(ctx context.Context, owner *Owner) error
	Get(ctx context.Context, ownerID string) (*Owner, error)
	GetByFederatedIdentity(ctx context.Context, provider, subject string) (*Owner, error)
}
