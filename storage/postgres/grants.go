package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/archid/go-grant-server/grants"
	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const grantColumns = `id, client_id, owner_id, requested_scopes, granted_scopes,
	redirect_uri, code_challenge, code_challenge_method, nonce, state,
	one_time_use, created_at, expires_at`

type GrantRepo struct {
	gateway *Gateway
}

var _ grants.Repo = (*GrantRepo)(nil)

func (g *Gateway) Grants() *GrantRepo {
	return &GrantRepo{gateway: g}
}

func (r *GrantRepo) Create(ctx context.Context, grant *grants.Grant) error {
	const query = `
		INSERT INTO grants (` + grantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	err := r.gateway.withRetry(ctx, func() error {
		_, err := r.gateway.db.ExecContext(ctx, query,
			grant.ID,
			grant.ClientID,
			grant.OwnerID,
			pq.Array(grant.RequestedScopes),
			pq.Array(grant.GrantedScopes),
			grant.RedirectURI,
			grant.CodeChallenge,
			grant.CodeChallengeMethod,
			grant.Nonce,
			grant.State,
			grant.OneTimeUse,
			grant.CreatedAt,
			grant.ExpiresAt,
		)
		return err
	})
	if err != nil {
		return errors.Wrap(mapError(err), "[GrantRepo.Create]")
	}
	return nil
}

func (r *GrantRepo) Get(ctx context.Context, id string) (*grants.Grant, error) {
	const query = `SELECT ` + grantColumns + ` FROM grants WHERE id = $1`

	var grant *grants.Grant
	err := r.gateway.withRetry(ctx, func() error {
		g, err := scanGrant(r.gateway.db.QueryRowContext(ctx, query, id))
		if err != nil {
			return err
		}
		grant = g
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(mapError(err), "[GrantRepo.Get]")
	}
	return grant, nil
}

func (r *GrantRepo) Approve(ctx context.Context, id, ownerID string, grantedScopes []string, expiresAt, now time.Time) (*grants.Grant, error) {
	const query = `
		UPDATE grants
		SET state = $2, owner_id = $3, granted_scopes = $4, expires_at = $5
		WHERE id = $1 AND state = $6 AND expires_at > $7
		RETURNING ` + grantColumns

	var grant *grants.Grant
	err := r.gateway.withRetry(ctx, func() error {
		g, err := scanGrant(r.gateway.db.QueryRowContext(ctx, query,
			id, grants.StateIssued, ownerID, pq.Array(grantedScopes), expiresAt,
			grants.StatePending, now))
		if err != nil {
			return err
		}
		grant = g
		return nil
	})
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "[GrantRepo.Approve] grant not pending or expired")
	}
	if err != nil {
		return nil, errors.Wrap(mapError(err), "[GrantRepo.Approve]")
	}
	return grant, nil
}

func (r *GrantRepo) Exchange(ctx context.Context, id string, now time.Time) (*grants.Grant, error) {
	const query = `
		UPDATE grants
		SET state = $2
		WHERE id = $1 AND state = $3 AND expires_at > $4
		RETURNING ` + grantColumns

	var grant *grants.Grant
	err := r.gateway.withRetry(ctx, func() error {
		g, err := scanGrant(r.gateway.db.QueryRowContext(ctx, query,
			id, grants.StateExchanged, grants.StateIssued, now))
		if err != nil {
			return err
		}
		grant = g
		return nil
	})
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "[GrantRepo.Exchange] code not redeemable")
	}
	if err != nil {
		return nil, errors.Wrap(mapError(err), "[GrantRepo.Exchange]")
	}
	return grant, nil
}

func (r *GrantRepo) Revoke(ctx context.Context, id string) error {
	const query = `
		UPDATE grants SET state = $2
		WHERE id = $1 AND state NOT IN ($3, $4)`

	err := r.gateway.withRetry(ctx, func() error {
		_, err := r.gateway.db.ExecContext(ctx, query,
			id, grants.StateRevoked, grants.StateRevoked, grants.StateExpired)
		return err
	})
	if err != nil {
		return errors.Wrap(mapError(err), "[GrantRepo.Revoke]")
	}
	return nil
}

func (r *GrantRepo) RevokeByOwner(ctx context.Context, ownerID string) (int64, error) {
	const query = `
		UPDATE grants SET state = $2
		WHERE owner_id = $1 AND state IN ($3, $4)`

	var revoked int64
	err := r.gateway.withRetry(ctx, func() error {
		result, err := r.gateway.db.ExecContext(ctx, query,
			ownerID, grants.StateRevoked, grants.StatePending, grants.StateIssued)
		if err != nil {
			return err
		}
		revoked, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, errors.Wrap(mapError(err), "[GrantRepo.RevokeByOwner]")
	}
	return revoked, nil
}

func (r *GrantRepo) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE grants SET state = $1
		WHERE state IN ($2, $3) AND expires_at <= $4`

	var expired int64
	err := r.gateway.withRetry(ctx, func() error {
		result, err := r.gateway.db.ExecContext(ctx, query,
			grants.StateExpired, grants.StatePending, grants.StateIssued, now)
		if err != nil {
			return err
		}
		expired, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, errors.Wrap(mapError(err), "[GrantRepo.MarkExpired]")
	}
	return expired, nil
}

func (r *GrantRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		DELETE FROM grants
		WHERE state IN ($1, $2, $3) AND expires_at < $4`

	var deleted int64
	err := r.gateway.withRetry(ctx, func() error {
		result, err := r.gateway.db.ExecContext(ctx, query,
			grants.StateExchanged, grants.StateRevoked, grants.StateExpired, cutoff)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, errors.Wrap(mapError(err), "[GrantRepo.DeleteBefore]")
	}
	return deleted, nil
}

func scanGrant(row rowScanner) (*grants.Grant, error) {
	var g grants.Grant
	err := row.Scan(
		&g.ID,
		&g.ClientID,
		&g.OwnerID,
		pq.Array(&g.RequestedScopes),
		pq.Array(&g.GrantedScopes),
		&g.RedirectURI,
		&g.CodeChallenge,
		&g.CodeChallengeMethod,
		&g.Nonce,
		&g.State,
		&g.OneTimeUse,
		&g.CreatedAt,
		&g.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}
