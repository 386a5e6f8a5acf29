package postgres

import (
	"context"
	"database/sql"
	"time"

	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/archid/go-grant-server/token/refresh"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const refreshColumns = `token, chain_id, grant_id, client_id, owner_id,
	scopes, nonce, revoked, issued_at, expires_at`

type RefreshTokenRepo struct {
	gateway *Gateway
}

var _ refresh.Repo = (*RefreshTokenRepo)(nil)

func (g *Gateway) RefreshTokens() *RefreshTokenRepo {
	return &RefreshTokenRepo{gateway: g}
}

func (r *RefreshTokenRepo) Create(ctx context.Context, token *refresh.StoredToken) error {
	const query = `
		INSERT INTO refresh_tokens (` + refreshColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	err := r.gateway.withRetry(ctx, func() error {
		_, err := r.gateway.db.ExecContext(ctx, query,
			token.Token,
			token.ChainID,
			token.GrantID,
			token.ClientID,
			token.OwnerID,
			pq.Array(token.Scopes),
			token.Nonce,
			token.Revoked,
			token.IssuedAt,
			token.ExpiresAt,
		)
		return err
	})
	if err != nil {
		return errors.Wrap(mapError(err), "[RefreshTokenRepo.Create]")
	}
	return nil
}

func (r *RefreshTokenRepo) Get(ctx context.Context, token string) (*refresh.StoredToken, error) {
	const query = `SELECT ` + refreshColumns + ` FROM refresh_tokens WHERE token = $1`

	var stored *refresh.StoredToken
	err := r.gateway.withRetry(ctx, func() error {
		t, err := scanRefreshToken(r.gateway.db.QueryRowContext(ctx, query, token))
		if err != nil {
			return err
		}
		stored = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(mapError(err), "[RefreshTokenRepo.Get]")
	}
	return stored, nil
}

// Rotate revokes the live predecessor and inserts the successor inside a
// single transaction. The conditional UPDATE is the linearization point:
// of two concurrent rotations of the same token, exactly one sees a row.
//
// Rotation is never retried: a commit that succeeded but surfaced a
// transient error would re-run against an already-consumed predecessor and
// misreport it as ErrInvalidGrant. The caller sees one attempt, pass or
// fail.
func (r *RefreshTokenRepo) Rotate(ctx context.Context, predecessor string, successor *refresh.StoredToken, now time.Time) error {
	if err := r.rotateOnce(ctx, predecessor, successor, now); err != nil {
		return errors.Wrap(mapError(err), "[RefreshTokenRepo.Rotate]")
	}
	return nil
}

func (r *RefreshTokenRepo) rotateOnce(ctx context.Context, predecessor string, successor *refresh.StoredToken, now time.Time) error {
	tx, err := r.gateway.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE token = $1 AND revoked = FALSE AND expires_at > $2`,
		predecessor, now)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ierrors.ErrInvalidGrant
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (`+refreshColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		successor.Token,
		successor.ChainID,
		successor.GrantID,
		successor.ClientID,
		successor.OwnerID,
		pq.Array(successor.Scopes),
		successor.Nonce,
		successor.Revoked,
		successor.IssuedAt,
		successor.ExpiresAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *RefreshTokenRepo) RevokeChain(ctx context.Context, chainID string) (int64, error) {
	return r.revokeWhere(ctx, "[RefreshTokenRepo.RevokeChain]",
		`UPDATE refresh_tokens SET revoked = TRUE WHERE chain_id = $1 AND revoked = FALSE`, chainID)
}

func (r *RefreshTokenRepo) RevokeByGrant(ctx context.Context, grantID string) (int64, error) {
	return r.revokeWhere(ctx, "[RefreshTokenRepo.RevokeByGrant]",
		`UPDATE refresh_tokens SET revoked = TRUE WHERE grant_id = $1 AND revoked = FALSE`, grantID)
}

func (r *RefreshTokenRepo) RevokeByOwner(ctx context.Context, ownerID string) (int64, error) {
	return r.revokeWhere(ctx, "[RefreshTokenRepo.RevokeByOwner]",
		`UPDATE refresh_tokens SET revoked = TRUE WHERE owner_id = $1 AND revoked = FALSE`, ownerID)
}

func (r *RefreshTokenRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.revokeWhere(ctx, "[RefreshTokenRepo.DeleteBefore]",
		`DELETE FROM refresh_tokens WHERE expires_at < $1`, cutoff)
}

func (r *RefreshTokenRepo) revokeWhere(ctx context.Context, wrap, query string, arg any) (int64, error) {
	var affected int64
	err := r.gateway.withRetry(ctx, func() error {
		result, err := r.gateway.db.ExecContext(ctx, query, arg)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, errors.Wrap(mapError(err), wrap)
	}
	return affected, nil
}

func scanRefreshToken(row *sql.Row) (*refresh.StoredToken, error) {
	var t refresh.StoredToken
	err := row.Scan(
		&t.Token,
		&t.ChainID,
		&t.GrantID,
		&t.ClientID,
		&t.OwnerID,
		pq.Array(&t.Scopes),
		&t.Nonce,
		&t.Revoked,
		&t.IssuedAt,
		&t.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
