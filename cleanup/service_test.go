package cleanup_test

import (
	"context"
	"testing"
	"time"

	"github.com/archid/go-grant-server/cleanup"
	"github.com/archid/go-grant-server/grants"
	grantrepofakes "github.com/archid/go-grant-server/grants/repofakes"
	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/archid/go-grant-server/token/refresh"
	refreshrepofake "github.com/archid/go-grant-server/token/refresh/repofake"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	service   *cleanup.Service
	grantRepo *grantrepofakes.FakeGrantRepo
	tokenRepo *refreshrepofake.FakeRefreshTokenRepo
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		grantRepo: grantrepofakes.NewFakeGrantRepo(),
		tokenRepo: refreshrepofake.NewFakeRefreshTokenRepo(),
		now:       baseTime,
	}
	service, err := cleanup.NewService(f.grantRepo, f.tokenRepo,
		cleanup.WithNowTime(func() time.Time { return f.now }),
		cleanup.WithRetention(30*24*time.Hour))
	require.NoError(t, err)
	f.service = service
	return f
}

func (f *fixture) addGrant(t *testing.T, id string, state grants.State, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, f.grantRepo.Create(context.Background(), &grants.Grant{
		ID:        id,
		ClientID:  "app1",
		OwnerID:   "user1",
		State:     state,
		CreatedAt: baseTime.Add(-time.Hour),
		ExpiresAt: expiresAt,
	}))
}

func (f *fixture) addToken(t *testing.T, value, grantID string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, f.tokenRepo.Create(context.Background(), &refresh.StoredToken{
		Token:     value,
		ChainID:   "chain-" + value,
		GrantID:   grantID,
		ClientID:  "app1",
		OwnerID:   "user1",
		IssuedAt:  baseTime.Add(-time.Hour),
		ExpiresAt: expiresAt,
	}))
}

func TestService_RunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("marks overdue grants expired", func(t *testing.T) {
		f := newFixture(t)
		f.addGrant(t, "overdue", grants.StateIssued, f.now.Add(-time.Minute))
		f.addGrant(t, "live", grants.StateIssued, f.now.Add(time.Hour))

		require.NoError(t, f.service.RunOnce(ctx))

		overdue, err := f.grantRepo.Get(ctx, "overdue")
		require.NoError(t, err)
		require.Equal(t, grants.StateExpired, overdue.State)

		live, err := f.grantRepo.Get(ctx, "live")
		require.NoError(t, err)
		require.Equal(t, grants.StateIssued, live.State)
	})

	t.Run("purges terminal records past the retention window", func(t *testing.T) {
		f := newFixture(t)
		ancient := f.now.Add(-31 * 24 * time.Hour)
		recent := f.now.Add(-time.Hour)

		f.addGrant(t, "ancient-exchanged", grants.StateExchanged, ancient)
		f.addGrant(t, "recent-exchanged", grants.StateExchanged, recent)
		f.addToken(t, "ancient-token", "ancient-exchanged", ancient)
		f.addToken(t, "recent-token", "recent-exchanged", recent)

		require.NoError(t, f.service.RunOnce(ctx))

		_, err := f.grantRepo.Get(ctx, "ancient-exchanged")
		require.ErrorIs(t, err, ierrors.ErrNotFound)
		_, err = f.grantRepo.Get(ctx, "recent-exchanged")
		require.NoError(t, err)

		_, err = f.tokenRepo.Get(ctx, "ancient-token")
		require.ErrorIs(t, err, ierrors.ErrNotFound)
		_, err = f.tokenRepo.Get(ctx, "recent-token")
		require.NoError(t, err)
	})

	t.Run("re-running is a no-op", func(t *testing.T) {
		f := newFixture(t)
		f.addGrant(t, "overdue", grants.StateIssued, f.now.Add(-time.Minute))

		require.NoError(t, f.service.RunOnce(ctx))
		require.NoError(t, f.service.RunOnce(ctx))

		overdue, err := f.grantRepo.Get(ctx, "overdue")
		require.NoError(t, err)
		require.Equal(t, grants.StateExpired, overdue.State)
	})
}

func TestService_RevokeGrant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addGrant(t, "g1", grants.StateExchanged, f.now.Add(time.Hour))
	f.addToken(t, "t1", "g1", f.now.Add(24*time.Hour))
	f.addToken(t, "t2", "other-grant", f.now.Add(24*time.Hour))

	require.NoError(t, f.service.RevokeGrant(ctx, "g1"))

	grant, err := f.grantRepo.Get(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, grants.StateRevoked, grant.State)

	cascaded, err := f.tokenRepo.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, cascaded.Revoked)

	untouched, err := f.tokenRepo.Get(ctx, "t2")
	require.NoError(t, err)
	require.False(t, untouched.Revoked)
}

func TestService_RevokeOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addGrant(t, "g1", grants.StateIssued, f.now.Add(time.Hour))
	f.addGrant(t, "g2", grants.StatePending, f.now.Add(time.Hour))
	f.addToken(t, "t1", "g1", f.now.Add(24*time.Hour))

	require.NoError(t, f.service.RevokeOwner(ctx, "user1"))

	for _, id := range []string{"g1", "g2"} {
		grant, err := f.grantRepo.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, grants.StateRevoked, grant.State)
	}
	token, err := f.tokenRepo.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, token.Revoked)
}

func TestService_Run(t *testing.T) {
	f := newFixture(t)
	f.addGrant(t, "overdue", grants.StateIssued, f.now.Add(-time.Minute))

	service, err := cleanup.NewService(f.grantRepo, f.tokenRepo,
		cleanup.WithNowTime(func() time.Time { return f.now }),
		cleanup.WithInterval(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		service.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		grant, err := f.grantRepo.Get(context.Background(), "overdue")
		return err == nil && grant.State == grants.StateExpired
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup service did not stop on context cancel")
	}
}
