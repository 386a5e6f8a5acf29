package postgres

import (
	"context"

	"github.com/archid/go-grant-server/owners"
	"github.com/pkg/errors"
)

type OwnerRepo struct {
	gateway *Gateway
}

var _ owners.Repo = (*OwnerRepo)(nil)

func (g *Gateway) Owners() *OwnerRepo {
	return &OwnerRepo{gateway: g}
}

// Upsert writes the owner and replaces its federated identity links in one
// transaction.
func (r *OwnerRepo) Upsert(ctx context.Context, owner *owners.Owner) error {
	err := r.gateway.withRetry(ctx, func() error {
		tx, err := r.gateway.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO owners (id, email, name, blocked, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				email = EXCLUDED.email,
				name = EXCLUDED.name,
				blocked = EXCLUDED.blocked`,
			owner.ID, owner.Email, owner.Name, owner.Blocked, owner.CreatedAt)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM owner_identities WHERE owner_id = $1`, owner.ID)
		if err != nil {
			return err
		}
		for _, identity := range owner.Federated {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO owner_identities (provider, subject, owner_id)
				VALUES ($1, $2, $3)`,
				identity.Provider, identity.Subject, owner.ID)
			if err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return errors.Wrap(mapError(err), "[OwnerRepo.Upsert]")
	}
	return nil
}

func (r *OwnerRepo) Get(ctx context.Context, ownerID string) (*owners.Owner, error) {
	const query = `SELECT id, email, name, blocked, created_at FROM owners WHERE id = $1`

	var owner *owners.Owner
	err := r.gateway.withRetry(ctx, func() error {
		o, err := r.loadOwner(ctx, query, ownerID)
		if err != nil {
			return err
		}
		owner = o
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(mapError(err), "[OwnerRepo.Get]")
	}
	return owner, nil
}

func (r *OwnerRepo) GetByFederatedIdentity(ctx context.Context, provider, subject string) (*owners.Owner, error) {
	const query = `
		SELECT o.id, o.email, o.name, o.blocked, o.created_at
		FROM owners o
		JOIN owner_identities i ON i.owner_id = o.id
		WHERE i.provider = $1 AND i.subject = $2`

	var owner *owners.Owner
	err := r.gateway.withRetry(ctx, func() error {
		o, err := r.loadOwner(ctx, query, provider, subject)
		if err != nil {
			return err
		}
		owner = o
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(mapError(err), "[OwnerRepo.GetByFederatedIdentity]")
	}
	return owner, nil
}

func (r *OwnerRepo) loadOwner(ctx context.Context, query string, args ...any) (*owners.Owner, error) {
	var o owners.Owner
	err := r.gateway.db.QueryRowContext(ctx, query, args...).
		Scan(&o.ID, &o.Email, &o.Name, &o.Blocked, &o.CreatedAt)
	if err != nil {
		return nil, err
	}

	rows, err := r.gateway.db.QueryContext(ctx, `
		SELECT provider, subject FROM owner_identities WHERE owner_id = $1`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var identity owners.FederatedIdentity
		if err := rows.Scan(&identity.Provider, &identity.Subject); err != nil {
			return nil, err
		}
		o.Federated = append(o.Federated, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}
