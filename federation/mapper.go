package federation

import (
	"context"
	"time"

	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/archid/go-grant-server/owners"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Mapper resolves upstream identities to local resource owners, creating an
// owner on first sign-in.
type Mapper struct {
	repo owners.Repo
	log  zerolog.Logger
}

type MapperOption func(*Mapper)

func WithMapperLogger(log zerolog.Logger) MapperOption {
	return func(m *Mapper) {
		m.log = log
	}
}

func NewMapper(repo owners.Repo, options ...MapperOption) (*Mapper, error) {
	if repo == nil {
		return nil, errors.New("[NewMapper] owner repo is required")
	}
	m := &Mapper{repo: repo, log: zerolog.Nop()}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Resolve returns the local owner linked to the upstream identity,
// provisioning one on first sign-in. Profile fields refresh from the
// upstream on every login.
func (m *Mapper) Resolve(ctx context.Context, identity *Identity) (*owners.Owner, error) {
	if identity == nil || identity.Subject == "" {
		return nil, errors.Wrap(ierrors.ErrInvalidGrant, "upstream identity is incomplete")
	}

	owner, err := m.repo.GetByFederatedIdentity(ctx, identity.Provider, identity.Subject)
	if err == nil {
		if owner.Email != identity.Email || owner.Name != identity.Name {
			owner.Email = identity.Email
			owner.Name = identity.Name
			if err := m.repo.Upsert(ctx, owner); err != nil {
				return nil, errors.Wrap(err, "[Mapper.Resolve] profile refresh")
			}
		}
		return owner, nil
	}
	if !ierrors.Is(err, ierrors.ErrNotFound) {
		return nil, errors.Wrap(err, "[Mapper.Resolve] repo.GetByFederatedIdentity")
	}

	owner = &owners.Owner{
		ID:        uuid.New().String(),
		Email:     identity.Email,
		Name:      identity.Name,
		CreatedAt: time.Now(),
		Federated: []owners.FederatedIdentity{{
			Provider: identity.Provider,
			Subject:  identity.Subject,
		}},
	}
	if err := m.repo.Upsert(ctx, owner); err != nil {
		return nil, errors.Wrap(err, "[Mapper.Resolve] owner provisioning")
	}

	m.log.Info().Str("provider", identity.Provider).Str("owner_id", owner.ID).Msg("provisioned owner from upstream identity")
	return owner, nil
}
