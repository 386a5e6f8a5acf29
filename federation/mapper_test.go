package federation_test

import (
	"context"
	"testing"

	"github.com/archid/go-grant-server/federation"
	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/archid/go-grant-server/owners"
	fakeownerrepo "github.com/archid/go-grant-server/owners/repofake"
	"github.com/stretchr/testify/require"
)

func TestMapper_Resolve(t *testing.T) {
	ctx := context.Background()
	identity := &federation.Identity{
		Provider: "google",
		Subject:  "upstream-sub-1",
		Email:    "user1@example.com",
		Name:     "Test User",
	}

	t.Run("first sign-in provisions an owner", func(t *testing.T) {
		repo := fakeownerrepo.NewFakeOwnerRepo()
		mapper, err := federation.NewMapper(repo)
		require.NoError(t, err)

		owner, err := mapper.Resolve(ctx, identity)
		require.NoError(t, err)
		require.NotEmpty(t, owner.ID)
		require.Equal(t, "user1@example.com", owner.Email)
		require.True(t, owner.HasFederatedIdentity("google", "upstream-sub-1"))

		stored, err := repo.GetByFederatedIdentity(ctx, "google", "upstream-sub-1")
		require.NoError(t, err)
		require.Equal(t, owner.ID, stored.ID)
	})

	t.Run("repeat sign-in resolves the same owner", func(t *testing.T) {
		repo := fakeownerrepo.NewFakeOwnerRepo()
		mapper, err := federation.NewMapper(repo)
		require.NoError(t, err)

		first, err := mapper.Resolve(ctx, identity)
		require.NoError(t, err)
		second, err := mapper.Resolve(ctx, identity)
		require.NoError(t, err)
		require.Equal(t, first.ID, second.ID)
	})

	t.Run("profile fields refresh on login", func(t *testing.T) {
		repo := fakeownerrepo.NewFakeOwnerRepo()
		require.NoError(t, repo.Upsert(ctx, &owners.Owner{
			ID:    "existing",
			Email: "old@example.com",
			Name:  "Old Name",
			Federated: []owners.FederatedIdentity{{
				Provider: "google",
				Subject:  "upstream-sub-1",
			}},
		}))
		mapper, err := federation.NewMapper(repo)
		require.NoError(t, err)

		owner, err := mapper.Resolve(ctx, identity)
		require.NoError(t, err)
		require.Equal(t, "existing", owner.ID)
		require.Equal(t, "user1@example.com", owner.Email)
		require.Equal(t, "Test User", owner.Name)
	})

	t.Run("incomplete identity rejected", func(t *testing.T) {
		mapper, err := federation.NewMapper(fakeownerrepo.NewFakeOwnerRepo())
		require.NoError(t, err)

		_, err = mapper.Resolve(ctx, &federation.Identity{Provider: "google"})
		require.ErrorIs(t, err, ierrors.ErrInvalidGrant)
		_, err = mapper.Resolve(ctx, nil)
		require.ErrorIs(t, err, ierrors.ErrInvalidGrant)
	})
}
