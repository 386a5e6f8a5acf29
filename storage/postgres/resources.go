package postgres

import (
	"context"

	"github.com/archid/go-grant-server/resources"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

type ResourceRepo struct {
	gateway *Gateway
}

var _ resources.Repo = (*ResourceRepo)(nil)

func (g *Gateway) Resources() *ResourceRepo {
	return &ResourceRepo{gateway: g}
}

func (r *ResourceRepo) UpsertIdentity(ctx context.Context, res *resources.IdentityResource) error {
	err := r.gateway.withRetry(ctx, func() error {
		_, err := r.gateway.db.ExecContext(ctx, `
			INSERT INTO identity_resources (name, claims) VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET claims = EXCLUDED.claims`,
			res.Name, pq.Array(res.Claims))
		return err
	})
	if err != nil {
		return errors.Wrap(mapError(err), "[ResourceRepo.UpsertIdentity]")
	}
	return nil
}

func (r *ResourceRepo) GetIdentity(ctx context.Context, name string) (*resources.IdentityResource, error) {
	var res *resources.IdentityResource
	err := r.gateway.withRetry(ctx, func() error {
		var loaded resources.IdentityResource
		err := r.gateway.db.QueryRowContext(ctx,
			`SELECT name, claims FROM identity_resources WHERE name = $1`, name).
			Scan(&loaded.Name, pq.Array(&loaded.Claims))
		if err != nil {
			return err
		}
		res = &loaded
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(mapError(err), "[ResourceRepo.GetIdentity]")
	}
	return res, nil
}

func (r *ResourceRepo) ListIdentity(ctx context.Context) ([]*resources.IdentityResource, error) {
	var list []*resources.IdentityResource
	err := r.gateway.withRetry(ctx, func() error {
		rows, err := r.gateway.db.QueryContext(ctx,
			`SELECT name, claims FROM identity_resources ORDER BY name`)
		if err != nil {
			return err
		}
		defer rows.Close()

		list = list[:0]
		for rows.Next() {
			var res resources.IdentityResource
			if err := rows.Scan(&res.Name, pq.Array(&res.Claims)); err != nil {
				return err
			}
			list = append(list, &res)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errors.Wrap(mapError(err), "[ResourceRepo.ListIdentity]")
	}
	return list, nil
}

func (r *ResourceRepo) UpsertAPI(ctx context.Context, res *resources.APIResource) error {
	err := r.gateway.withRetry(ctx, func() error {
		_, err := r.gateway.db.ExecContext(ctx, `
			INSERT INTO api_resources (name, audience, scopes) VALUES ($1, $2, $3)
			ON CONFLICT (name) DO UPDATE SET
				audience = EXCLUDED.audience,
				scopes = EXCLUDED.scopes`,
			res.Name, res.Audience, pq.Array(res.Scopes))
		return err
	})
	if err != nil {
		return errors.Wrap(mapError(err), "[ResourceRepo.UpsertAPI]")
	}
	return nil
}

func (r *ResourceRepo) GetAPI(ctx context.Context, name string) (*resources.APIResource, error) {
	var res *resources.APIResource
	err := r.gateway.withRetry(ctx, func() error {
		var loaded resources.APIResource
		err := r.gateway.db.QueryRowContext(ctx,
			`SELECT name, audience, scopes FROM api_resources WHERE name = $1`, name).
			Scan(&loaded.Name, &loaded.Audience, pq.Array(&loaded.Scopes))
		if err != nil {
			return err
		}
		res = &loaded
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(mapError(err), "[ResourceRepo.GetAPI]")
	}
	return res, nil
}

func (r *ResourceRepo) ListAPI(ctx context.Context) ([]*resources.APIResource, error) {
	var list []*resources.APIResource
	err := r.gateway.withRetry(ctx, func() error {
		rows, err := r.gateway.db.QueryContext(ctx,
			`SELECT name, audience, scopes FROM api_resources ORDER BY name`)
		if err != nil {
			return err
		}
		defer rows.Close()

		list = list[:0]
		for rows.Next() {
			var res resources.APIResource
			if err := rows.Scan(&res.Name, &res.Audience, pq.Array(&res.Scopes)); err != nil {
				return err
			}
			list = append(list, &res)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errors.Wrap(mapError(err), "[ResourceRepo.ListAPI]")
	}
	return list, nil
}
