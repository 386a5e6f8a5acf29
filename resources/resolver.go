package resources

import (
	"context"

	"github.com/pkg/errors"
)

// Resolver answers scope questions at token issuance time: which audiences a
// scope set reaches and which identity claims it releases.
type Resolver struct {
	repo Repo
}

func NewResolver(repo Repo) (*Resolver, error) {
	if repo == nil {
		return nil, errors.New("[NewResolver] resources repo is required")
	}
	return &Resolver{repo: repo}, nil
}

// Audiences returns the audience tags of every API resource reached by the
// scope set, deduplicated, in repo order.
func (r *Resolver) Audiences(ctx context.Context, scopes []string) ([]string, error) {
	apis, err := r.repo.ListAPI(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Resolver.Audiences] ListAPI")
	}

	seen := make(map[string]bool)
	audiences := make([]string, 0)
	for _, api := range apis {
		for _, scope := range scopes {
			if api.HasScope(scope) && !seen[api.Audience] {
				seen[api.Audience] = true
				audiences = append(audiences, api.Audience)
			}
		}
	}
	return audiences, nil
}

// Claims returns the identity claims released by the scope set.
func (r *Resolver) Claims(ctx context.Context, scopes []string) ([]string, error) {
	seen := make(map[string]bool)
	claims := make([]string, 0)
	for _, scope := range scopes {
		res, err := r.repo.GetIdentity(ctx, scope)
		if err != nil {
			continue // not an identity scope
		}
		for _, claim := range res.Claims {
			if !seen[claim] {
				seen[claim] = true
				claims = append(claims, claim)
			}
		}
	}
	return claims, nil
}
