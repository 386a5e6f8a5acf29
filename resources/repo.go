package resources

import "context"

// Repo stores identity and API resource definitions. Read-only at request
// time; written by the seed import and administrative configuration.
type Repo interface {
	UpsertIdentity(ctx context.Context, res *IdentityResource) error
	GetIdentity(ctx context.Context, name string) (*IdentityResource, error)
	ListIdentity(ctx context.Context) ([]*IdentityResource, error)

	UpsertAPI(ctx context.Context, res *APIResource) error
	GetAPI(ctx context.Context, name string) (*APIResource, error)
	ListAPI(ctx context.Context) ([]*APIResource, error)
}
