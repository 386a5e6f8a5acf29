package refresh_test

import (
	"context"
	"sync"
	"testing"
	"time"

	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/archid/go-grant-server/token/refresh"
	refreshrepofake "github.com/archid/go-grant-server/token/refresh/repofake"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*refresh.Manager, *refreshrepofake.FakeRefreshTokenRepo, *testClock) {
	t.Helper()
	clock := newTestClock()
	repo := refreshrepofake.NewFakeRefreshTokenRepo()
	m, err := refresh.NewManager(repo, refresh.WithNowTime(clock.Now))
	require.NoError(t, err)
	return m, repo, clock
}

func issueToken(t *testing.T, m *refresh.Manager) *refresh.StoredToken {
	t.Helper()
	token, err := m.Issue(context.Background(), "grant-1", "app1", "user1",
		[]string{"openid"}, "n-1", 24*time.Hour)
	require.NoError(t, err)
	return token
}

func TestManager_Issue(t *testing.T) {
	m, repo, clock := newTestManager(t)
	token := issueToken(t, m)

	require.NotEmpty(t, token.Token)
	require.NotEmpty(t, token.ChainID)
	require.Equal(t, clock.Now().Add(24*time.Hour), token.ExpiresAt)

	stored, err := repo.Get(context.Background(), token.Token)
	require.NoError(t, err)
	require.False(t, stored.Revoked)
}

func TestManager_TokenLength(t *testing.T) {
	m, err := refresh.NewManager(refreshrepofake.NewFakeRefreshTokenRepo(),
		refresh.WithTokenLength(16))
	require.NoError(t, err)

	token, err := m.Issue(context.Background(), "grant-1", "app1", "user1",
		[]string{"openid"}, "n-1", time.Hour)
	require.NoError(t, err)
	// 16 random bytes, hex encoded.
	require.Len(t, token.Token, 32)
}

func TestManager_Redeem(t *testing.T) {
	ctx := context.Background()

	t.Run("rotation preserves the chain and its expiry window", func(t *testing.T) {
		m, repo, clock := newTestManager(t)
		token := issueToken(t, m)

		clock.Advance(time.Hour)
		successor, err := m.Redeem(ctx, token.Token)
		require.NoError(t, err)
		require.NotEqual(t, token.Token, successor.Token)
		require.Equal(t, token.ChainID, successor.ChainID)
		require.Equal(t, token.GrantID, successor.GrantID)
		require.Equal(t, token.Scopes, successor.Scopes)
		// The successor gets the same window length, restarted at rotation.
		require.Equal(t, clock.Now().Add(24*time.Hour), successor.ExpiresAt)

		predecessor, err := repo.Get(ctx, token.Token)
		require.NoError(t, err)
		require.True(t, predecessor.Revoked)
	})

	t.Run("replay of a rotated token revokes the whole chain", func(t *testing.T) {
		m, repo, _ := newTestManager(t)
		token := issueToken(t, m)

		successor, err := m.Redeem(ctx, token.Token)
		require.NoError(t, err)

		_, err = m.Redeem(ctx, token.Token)
		require.ErrorIs(t, err, ierrors.ErrInvalidGrant)

		// The still-live successor went down with the chain.
		live, err := repo.Get(ctx, successor.Token)
		require.NoError(t, err)
		require.True(t, live.Revoked)

		_, err = m.Redeem(ctx, successor.Token)
		require.ErrorIs(t, err, ierrors.ErrInvalidGrant)
	})

	t.Run("expired token cannot rotate and does not nuke the chain", func(t *testing.T) {
		m, _, clock := newTestManager(t)
		token := issueToken(t, m)

		clock.Advance(25 * time.Hour)
		_, err := m.Redeem(ctx, token.Token)
		require.ErrorIs(t, err, ierrors.ErrInvalidGrant)
	})

	t.Run("unknown token", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		_, err := m.Redeem(ctx, "never-issued")
		require.ErrorIs(t, err, ierrors.ErrInvalidGrant)
	})

	t.Run("concurrent redemptions mint exactly one successor", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		token := issueToken(t, m)

		const attempts = 16
		var wg sync.WaitGroup
		results := make(chan error, attempts)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := m.Redeem(ctx, token.Token)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var succeeded int
		for err := range results {
			if err == nil {
				succeeded++
			}
		}
		require.Equal(t, 1, succeeded)
	})
}

func TestManager_Revoke(t *testing.T) {
	ctx := context.Background()
	m, repo, _ := newTestManager(t)
	token := issueToken(t, m)
	successor, err := m.Redeem(ctx, token.Token)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, successor.Token))
	stored, err := repo.Get(ctx, successor.Token)
	require.NoError(t, err)
	require.True(t, stored.Revoked)

	// Revoking an unknown token is a no-op.
	require.NoError(t, m.Revoke(ctx, "never-issued"))
}
