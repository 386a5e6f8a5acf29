package postgres

import (
	"context"
	"time"

	"github.com/archid/go-grant-server/clients"
	"github.com/archid/go-grant-server/oauth2"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

type ClientRepo struct {
	gateway *Gateway
}

var _ clients.Repo = (*ClientRepo)(nil)

func (g *Gateway) Clients() *ClientRepo {
	return &ClientRepo{gateway: g}
}

func (r *ClientRepo) Upsert(ctx context.Context, client *clients.Client) error {
	const query = `
		INSERT INTO clients (id, type, description, secret_hash, redirect_uris,
			grant_types, scopes, access_token_ttl, identity_token_ttl, refresh_token_ttl)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			description = EXCLUDED.description,
			secret_hash = EXCLUDED.secret_hash,
			redirect_uris = EXCLUDED.redirect_uris,
			grant_types = EXCLUDED.grant_types,
			scopes = EXCLUDED.scopes,
			access_token_ttl = EXCLUDED.access_token_ttl,
			identity_token_ttl = EXCLUDED.identity_token_ttl,
			refresh_token_ttl = EXCLUDED.refresh_token_ttl`

	err := r.gateway.withRetry(ctx, func() error {
		_, err := r.gateway.db.ExecContext(ctx, query,
			client.ID,
			client.Type,
			client.Description,
			client.SecretHash,
			pq.Array(client.RedirectURIs),
			pq.Array(grantTypeStrings(client.GrantTypes)),
			pq.Array(client.Scopes),
			int64(client.AccessTokenTTL),
			int64(client.IdentityTokenTTL),
			int64(client.RefreshTokenTTL),
		)
		return err
	})
	if err != nil {
		return errors.Wrap(mapError(err), "[ClientRepo.Upsert]")
	}
	return nil
}

func (r *ClientRepo) Delete(ctx context.Context, id string) error {
	err := r.gateway.withRetry(ctx, func() error {
		_, err := r.gateway.db.ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return errors.Wrap(mapError(err), "[ClientRepo.Delete]")
	}
	return nil
}

func (r *ClientRepo) Get(ctx context.Context, id string) (*clients.Client, error) {
	const query = `
		SELECT id, type, description, secret_hash, redirect_uris, grant_types,
			scopes, access_token_ttl, identity_token_ttl, refresh_token_ttl
		FROM clients WHERE id = $1`

	var client *clients.Client
	err := r.gateway.withRetry(ctx, func() error {
		row := r.gateway.db.QueryRowContext(ctx, query, id)
		c, err := scanClient(row)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(mapError(err), "[ClientRepo.Get]")
	}
	return client, nil
}

func (r *ClientRepo) List(ctx context.Context, offset, limit int) ([]*clients.Client, error) {
	const query = `
		SELECT id, type, description, secret_hash, redirect_uris, grant_types,
			scopes, access_token_ttl, identity_token_ttl, refresh_token_ttl
		FROM clients ORDER BY id OFFSET $1 LIMIT $2`

	if limit <= 0 {
		limit = 100
	}
	var list []*clients.Client
	err := r.gateway.withRetry(ctx, func() error {
		rows, err := r.gateway.db.QueryContext(ctx, query, offset, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		list = list[:0]
		for rows.Next() {
			c, err := scanClient(rows)
			if err != nil {
				return err
			}
			list = append(list, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errors.Wrap(mapError(err), "[ClientRepo.List]")
	}
	return list, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*clients.Client, error) {
	var (
		c           clients.Client
		grantTypes  []string
		accessTTL   int64
		identityTTL int64
		refreshTTL  int64
	)
	err := row.Scan(
		&c.ID,
		&c.Type,
		&c.Description,
		&c.SecretHash,
		pq.Array(&c.RedirectURIs),
		pq.Array(&grantTypes),
		pq.Array(&c.Scopes),
		&accessTTL,
		&identityTTL,
		&refreshTTL,
	)
	if err != nil {
		return nil, err
	}
	c.GrantTypes = make([]oauth2.GrantType, 0, len(grantTypes))
	for _, gt := range grantTypes {
		c.GrantTypes = append(c.GrantTypes, oauth2.GrantType(gt))
	}
	c.AccessTokenTTL = time.Duration(accessTTL)
	c.IdentityTokenTTL = time.Duration(identityTTL)
	c.RefreshTokenTTL = time.Duration(refreshTTL)
	return &c, nil
}

func grantTypeStrings(grantTypes []oauth2.GrantType) []string {
	out := make([]string, 0, len(grantTypes))
	for _, gt := range grantTypes {
		out = append(out, string(gt))
	}
	return out
}
