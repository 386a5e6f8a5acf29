package token_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/archid/go-grant-server/clients"
	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/archid/go-grant-server/oauth2"
	"github.com/archid/go-grant-server/owners"
	fakeownerrepo "github.com/archid/go-grant-server/owners/repofake"
	"github.com/archid/go-grant-server/resources"
	resourcerepofakes "github.com/archid/go-grant-server/resources/repofakes"
	"github.com/archid/go-grant-server/token"
	"github.com/archid/go-grant-server/token/refresh"
	refreshrepofake "github.com/archid/go-grant-server/token/refresh/repofake"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://auth.example.com"

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

type managerFixture struct {
	manager   *token.Manager
	keyring   *token.Keyring
	ownerRepo *fakeownerrepo.FakeOwnerRepo
	tokenRepo *refreshrepofake.FakeRefreshTokenRepo
	clock     *testClock
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	ctx := context.Background()
	clock := newTestClock()

	ownerRepo := fakeownerrepo.NewFakeOwnerRepo()
	require.NoError(t, ownerRepo.Upsert(ctx, &owners.Owner{
		ID:        "user1",
		Email:     "user1@example.com",
		Name:      "Test User",
		CreatedAt: clock.Now(),
	}))

	resourceRepo := resourcerepofakes.NewFakeResourceRepo()
	require.NoError(t, resourceRepo.UpsertIdentity(ctx, &resources.IdentityResource{
		Name:   "profile",
		Claims: []string{"name", "email"},
	}))
	require.NoError(t, resourceRepo.UpsertAPI(ctx, &resources.APIResource{
		Name:     "orders",
		Audience: "https://orders.example.com",
		Scopes:   []string{"orders.read"},
	}))
	resolver, err := resources.NewResolver(resourceRepo)
	require.NoError(t, err)

	keyPair, err := token.GenerateRSAKeyPair("key-1", 2048)
	require.NoError(t, err)
	keyring, err := token.NewKeyring(keyPair)
	require.NoError(t, err)

	tokenRepo := refreshrepofake.NewFakeRefreshTokenRepo()
	refreshManager, err := refresh.NewManager(tokenRepo,
		refresh.WithNowTime(clock.Now))
	require.NoError(t, err)

	manager, err := token.NewManager(keyring, refreshManager, resolver, ownerRepo, testIssuer,
		token.WithNowTime(clock.Now),
		token.WithTokenTTLs(time.Hour, time.Hour, 7*24*time.Hour))
	require.NoError(t, err)

	return &managerFixture{manager: manager, keyring: keyring, ownerRepo: ownerRepo, tokenRepo: tokenRepo, clock: clock}
}

func testIssueClient() *clients.Client {
	return &clients.Client{
		ID:   "app1",
		Type: clients.ClientTypeConfidential,
		GrantTypes: []oauth2.GrantType{
			oauth2.AuthorizationCodeGrant,
			oauth2.RefreshTokenGrant,
		},
		Scopes: []string{"openid", "profile", "orders.read"},
	}
}

func TestManager_Issue(t *testing.T) {
	ctx := context.Background()

	t.Run("access token carries subject, scopes, and audiences", func(t *testing.T) {
		f := newManagerFixture(t)
		response, err := f.manager.Issue(ctx, token.IssueSpec{
			Client:  testIssueClient(),
			GrantID: "grant-1",
			OwnerID: "user1",
			Scopes:  []string{"openid", "orders.read"},
		})
		require.NoError(t, err)
		require.NotNil(t, response.AccessToken)

		claims, err := f.manager.Verify(*response.AccessToken)
		require.NoError(t, err)
		require.Equal(t, testIssuer, claims["iss"])
		require.Equal(t, "user1", claims["sub"])
		require.Equal(t, "app1", claims["client_id"])
		require.Equal(t, "openid orders.read", claims["scope"])
		require.Contains(t, claims["aud"], "https://orders.example.com")
	})

	t.Run("identity token echoes the nonce and released claims", func(t *testing.T) {
		f := newManagerFixture(t)
		response, err := f.manager.Issue(ctx, token.IssueSpec{
			Client:  testIssueClient(),
			GrantID: "grant-1",
			OwnerID: "user1",
			Scopes:  []string{"openid", "profile"},
			Nonce:   "n-789",
		})
		require.NoError(t, err)
		require.NotNil(t, response.IdToken)

		claims, err := f.manager.Verify(*response.IdToken)
		require.NoError(t, err)
		require.Equal(t, "user1", claims["sub"])
		require.Equal(t, "app1", claims["aud"])
		require.Equal(t, "n-789", claims["nonce"])
		require.Equal(t, "user1@example.com", claims["email"])
		require.Equal(t, "Test User", claims["name"])
	})

	t.Run("no identity token without the openid scope", func(t *testing.T) {
		f := newManagerFixture(t)
		response, err := f.manager.Issue(ctx, token.IssueSpec{
			Client:  testIssueClient(),
			GrantID: "grant-1",
			OwnerID: "user1",
			Scopes:  []string{"profile"},
		})
		require.NoError(t, err)
		require.Nil(t, response.IdToken)
	})

	t.Run("machine tokens use the client as subject", func(t *testing.T) {
		f := newManagerFixture(t)
		response, err := f.manager.Issue(ctx, token.IssueSpec{
			Client: testIssueClient(),
			Scopes: []string{"orders.read"},
		})
		require.NoError(t, err)
		require.Nil(t, response.RefreshToken)

		claims, err := f.manager.Verify(*response.AccessToken)
		require.NoError(t, err)
		require.Equal(t, "app1", claims["sub"])
	})

	t.Run("blocked owner cannot be issued tokens", func(t *testing.T) {
		f := newManagerFixture(t)
		require.NoError(t, f.ownerRepo.Upsert(ctx, &owners.Owner{
			ID:      "blocked1",
			Blocked: true,
		}))
		_, err := f.manager.Issue(ctx, token.IssueSpec{
			Client:  testIssueClient(),
			OwnerID: "blocked1",
			Scopes:  []string{"openid"},
		})
		require.ErrorIs(t, err, ierrors.ErrInvalidGrant)
	})
}

func TestManager_Refresh(t *testing.T) {
	ctx := context.Background()

	issueRefreshToken := func(t *testing.T, f *managerFixture) *string {
		t.Helper()
		response, err := f.manager.Issue(ctx, token.IssueSpec{
			Client:  testIssueClient(),
			GrantID: "grant-1",
			OwnerID: "user1",
			Scopes:  []string{"openid", "profile"},
		})
		require.NoError(t, err)
		require.NotNil(t, response.RefreshToken)
		return response.RefreshToken
	}

	t.Run("rotation replaces the presented token", func(t *testing.T) {
		f := newManagerFixture(t)
		presented := issueRefreshToken(t, f)

		response, err := f.manager.Refresh(ctx, *presented, testIssueClient())
		require.NoError(t, err)
		require.NotNil(t, response.RefreshToken)
		require.NotEqual(t, *presented, *response.RefreshToken)

		claims, err := f.manager.Verify(*response.AccessToken)
		require.NoError(t, err)
		require.Equal(t, "user1", claims["sub"])

		// The successor is the chain's one live token.
		require.Equal(t, 1, f.tokenRepo.Live(f.clock.Now()))
	})

	t.Run("failed issuance after rotation leaves no live token behind", func(t *testing.T) {
		f := newManagerFixture(t)
		presented := issueRefreshToken(t, f)

		require.NoError(t, f.ownerRepo.Upsert(ctx, &owners.Owner{
			ID:      "user1",
			Blocked: true,
		}))

		_, err := f.manager.Refresh(ctx, *presented, testIssueClient())
		require.ErrorIs(t, err, ierrors.ErrInvalidGrant)

		// The rotated-in successor was never delivered; nothing in the
		// chain may stay redeemable.
		require.Equal(t, 0, f.tokenRepo.Live(f.clock.Now()))
	})

	t.Run("token presented by the wrong client kills the chain", func(t *testing.T) {
		f := newManagerFixture(t)
		presented := issueRefreshToken(t, f)

		other := testIssueClient()
		other.ID = "app2"

		_, err := f.manager.Refresh(ctx, *presented, other)
		require.ErrorIs(t, err, ierrors.ErrInvalidGrant)
		require.Equal(t, 0, f.tokenRepo.Live(f.clock.Now()))
	})
}

func TestManager_Verify(t *testing.T) {
	ctx := context.Background()

	t.Run("tampered payload is rejected", func(t *testing.T) {
		f := newManagerFixture(t)
		response, err := f.manager.Issue(ctx, token.IssueSpec{
			Client: testIssueClient(),
			Scopes: []string{"profile"},
		})
		require.NoError(t, err)

		parts := strings.Split(*response.AccessToken, ".")
		require.Len(t, parts, 3)
		tampered := parts[0] + "." + parts[1] + "x." + parts[2]

		_, err = f.manager.Verify(tampered)
		require.ErrorIs(t, err, ierrors.ErrInvalidGrant)
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		f := newManagerFixture(t)
		response, err := f.manager.Issue(ctx, token.IssueSpec{
			Client: testIssueClient(),
			Scopes: []string{"profile"},
		})
		require.NoError(t, err)

		f.clock.Advance(time.Hour + time.Minute)
		_, err = f.manager.Verify(*response.AccessToken)
		require.ErrorIs(t, err, ierrors.ErrInvalidGrant)
	})
}

func TestManager_KeyRotation(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)

	before, err := f.manager.Issue(ctx, token.IssueSpec{
		Client: testIssueClient(),
		Scopes: []string{"profile"},
	})
	require.NoError(t, err)

	nextKey, err := token.GenerateRSAKeyPair("key-2", 2048)
	require.NoError(t, err)
	require.NoError(t, f.keyring.Rotate(nextKey))

	// Tokens signed under the rotated-out key keep verifying.
	_, err = f.manager.Verify(*before.AccessToken)
	require.NoError(t, err)

	after, err := f.manager.Issue(ctx, token.IssueSpec{
		Client: testIssueClient(),
		Scopes: []string{"profile"},
	})
	require.NoError(t, err)
	_, err = f.manager.Verify(*after.AccessToken)
	require.NoError(t, err)

	jwks, err := f.manager.JWKS()
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 2)

	// Retiring the old key is the point of no return for its tokens.
	f.keyring.Retire("key-1")
	_, err = f.manager.Verify(*before.AccessToken)
	require.ErrorIs(t, err, ierrors.ErrInvalidGrant)
	_, err = f.manager.Verify(*after.AccessToken)
	require.NoError(t, err)
}

func TestManager_Introspect(t *testing.T) {
	ctx := context.Background()

	t.Run("live token", func(t *testing.T) {
		f := newManagerFixture(t)
		response, err := f.manager.Issue(ctx, token.IssueSpec{
			Client:  testIssueClient(),
			OwnerID: "user1",
			Scopes:  []string{"openid", "orders.read"},
		})
		require.NoError(t, err)

		meta, err := f.manager.Introspect(*response.AccessToken)
		require.NoError(t, err)
		require.True(t, meta.Active)
		require.Equal(t, "app1", meta.ClientID)
		require.Equal(t, "openid orders.read", meta.Scope)
		require.Equal(t, "user1", *meta.Sub)
		require.Equal(t, testIssuer, *meta.Iss)
	})

	t.Run("garbage and expired tokens report inactive without leaking why", func(t *testing.T) {
		f := newManagerFixture(t)

		meta, err := f.manager.Introspect("not-a-token")
		require.NoError(t, err)
		require.False(t, meta.Active)

		response, err := f.manager.Issue(ctx, token.IssueSpec{
			Client: testIssueClient(),
			Scopes: []string{"profile"},
		})
		require.NoError(t, err)
		f.clock.Advance(2 * time.Hour)

		meta, err = f.manager.Introspect(*response.AccessToken)
		require.NoError(t, err)
		require.False(t, meta.Active)
	})
}

func TestNewManager_RequiresKeyring(t *testing.T) {
	refreshManager, err := refresh.NewManager(refreshrepofake.NewFakeRefreshTokenRepo())
	require.NoError(t, err)
	resolver, err := resources.NewResolver(resourcerepofakes.NewFakeResourceRepo())
	require.NoError(t, err)

	_, err = token.NewManager(nil, refreshManager, resolver, fakeownerrepo.NewFakeOwnerRepo(), testIssuer)
	require.ErrorIs(t, err, ierrors.ErrSigningKeyUnavailable)
}
