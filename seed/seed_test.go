package seed_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/archid/go-grant-server/clients"
	fakeclientrepo "github.com/archid/go-grant-server/clients/fakerepo"
	"github.com/archid/go-grant-server/oauth2"
	"github.com/archid/go-grant-server/resources"
	resourcerepofakes "github.com/archid/go-grant-server/resources/repofakes"
	"github.com/archid/go-grant-server/seed"
	"github.com/stretchr/testify/require"
)

const seedDocument = `
clients:
  - id: app1
    type: confidential
    description: First-party web app
    secret: seed-secret-1
    redirectURIs:
      - http://localhost:3000/callback
    grantTypes:
      - authorization_code
      - refresh_token
    scopes:
      - openid
      - profile
    accessTokenTTL: 30m
  - id: spa1
    type: public
    redirectURIs:
      - http://localhost:5173/callback
    grantTypes:
      - authorization_code
    scopes:
      - openid

identityResources:
  - name: profile
    claims:
      - name
      - email

apiResources:
  - name: orders
    audience: https://orders.example.com
    scopes:
      - orders.read
`

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("parses the full document", func(t *testing.T) {
		file, err := seed.Load(writeSeedFile(t, seedDocument))
		require.NoError(t, err)
		require.Len(t, file.Clients, 2)
		require.Len(t, file.IdentityResources, 1)
		require.Len(t, file.APIResources, 1)
		require.Equal(t, seed.Duration(30*time.Minute), file.Clients[0].AccessTokenTTL)
		require.Equal(t, []string{"name", "email"}, file.IdentityResources[0].Claims)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := seed.Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := seed.Load(writeSeedFile(t, "clients: [whoops"))
		require.Error(t, err)
	})
}

func TestImporter_EnsurePresent(t *testing.T) {
	ctx := context.Background()

	load := func(t *testing.T) *seed.File {
		t.Helper()
		file, err := seed.Load(writeSeedFile(t, seedDocument))
		require.NoError(t, err)
		return file
	}

	t.Run("provisions clients with hashed secrets", func(t *testing.T) {
		clientRepo := fakeclientrepo.NewFakeClientRepo()
		resourceRepo := resourcerepofakes.NewFakeResourceRepo()
		importer := seed.NewImporter(clientRepo, resourceRepo)

		require.NoError(t, importer.EnsurePresent(ctx, load(t)))

		app1, err := clientRepo.Get(ctx, "app1")
		require.NoError(t, err)
		require.Equal(t, clients.ClientTypeConfidential, app1.Type)
		require.True(t, app1.AllowsGrantType(oauth2.RefreshTokenGrant))
		require.NotEqual(t, "seed-secret-1", app1.SecretHash)
		require.True(t, app1.CheckSecret("seed-secret-1"))

		spa1, err := clientRepo.Get(ctx, "spa1")
		require.NoError(t, err)
		require.Equal(t, clients.ClientTypePublic, spa1.Type)
		require.Empty(t, spa1.SecretHash)

		api, err := resourceRepo.GetAPI(ctx, "orders")
		require.NoError(t, err)
		require.Equal(t, "https://orders.example.com", api.Audience)

		identity, err := resourceRepo.GetIdentity(ctx, "profile")
		require.NoError(t, err)
		require.Equal(t, []string{"name", "email"}, identity.Claims)
	})

	t.Run("existing records win over the seed file", func(t *testing.T) {
		clientRepo := fakeclientrepo.NewFakeClientRepo()
		resourceRepo := resourcerepofakes.NewFakeResourceRepo()
		importer := seed.NewImporter(clientRepo, resourceRepo)

		require.NoError(t, clientRepo.Upsert(ctx, &clients.Client{
			ID:          "app1",
			Type:        clients.ClientTypeConfidential,
			Description: "operator-edited",
		}))
		require.NoError(t, resourceRepo.UpsertIdentity(ctx, &resources.IdentityResource{
			Name:   "profile",
			Claims: []string{"name"},
		}))

		require.NoError(t, importer.EnsurePresent(ctx, load(t)))

		app1, err := clientRepo.Get(ctx, "app1")
		require.NoError(t, err)
		require.Equal(t, "operator-edited", app1.Description)

		identity, err := resourceRepo.GetIdentity(ctx, "profile")
		require.NoError(t, err)
		require.Equal(t, []string{"name"}, identity.Claims)
	})

	t.Run("idempotent across restarts", func(t *testing.T) {
		clientRepo := fakeclientrepo.NewFakeClientRepo()
		resourceRepo := resourcerepofakes.NewFakeResourceRepo()
		importer := seed.NewImporter(clientRepo, resourceRepo)

		file := load(t)
		require.NoError(t, importer.EnsurePresent(ctx, file))
		first, err := clientRepo.Get(ctx, "app1")
		require.NoError(t, err)

		require.NoError(t, importer.EnsurePresent(ctx, file))
		second, err := clientRepo.Get(ctx, "app1")
		require.NoError(t, err)
		require.Equal(t, first.SecretHash, second.SecretHash)
	})
}
