// Package seed provisions clients and resources from a YAML file at startup.
// The import is add-only and idempotent: records already present in storage
// are left untouched, so operator edits made after first boot survive
// restarts.
package seed

import (
	"context"
	"os"
	"time"

	"github.com/archid/go-grant-server/clients"
	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/archid/go-grant-server/oauth2"
	"github.com/archid/go-grant-server/resources"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Duration accepts human-readable values ("30m", "72h") in the seed file.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", value.Value)
	}
	*d = Duration(parsed)
	return nil
}

// File is the on-disk seed document.
type File struct {
	Clients           []ClientSeed           `yaml:"clients"`
	IdentityResources []IdentityResourceSeed `yaml:"identityResources"`
	APIResources      []APIResourceSeed      `yaml:"apiResources"`
}

// ClientSeed carries a plaintext secret only in the seed file; it is bcrypt
// hashed before storage and never persisted as given.
type ClientSeed struct {
	ID               string        `yaml:"id"`
	Type             string        `yaml:"type"`
	Description      string        `yaml:"description"`
	Secret           string        `yaml:"secret"`
	RedirectURIs     []string      `yaml:"redirectURIs"`
	GrantTypes       []string      `yaml:"grantTypes"`
	Scopes           []string      `yaml:"scopes"`
	AccessTokenTTL   Duration `yaml:"accessTokenTTL"`
	IdentityTokenTTL Duration `yaml:"identityTokenTTL"`
	RefreshTokenTTL  Duration `yaml:"refreshTokenTTL"`
}

type IdentityResourceSeed struct {
	Name   string   `yaml:"name"`
	Claims []string `yaml:"claims"`
}

type APIResourceSeed struct {
	Name     string   `yaml:"name"`
	Audience string   `yaml:"audience"`
	Scopes   []string `yaml:"scopes"`
}

// Load parses a seed file from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "[Load] os.ReadFile")
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "[Load] yaml.Unmarshal")
	}
	return &file, nil
}

type Importer struct {
	clientRepo   clients.Repo
	resourceRepo resources.Repo
	log          zerolog.Logger
}

type ImporterOption func(*Importer)

func WithLogger(log zerolog.Logger) ImporterOption {
	return func(i *Importer) {
		i.log = log
	}
}

func NewImporter(clientRepo clients.Repo, resourceRepo resources.Repo, options ...ImporterOption) *Importer {
	importer := &Importer{
		clientRepo:   clientRepo,
		resourceRepo: resourceRepo,
		log:          zerolog.Nop(),
	}
	for _, opt := range options {
		opt(importer)
	}
	return importer
}

// EnsurePresent writes every seed record that does not already exist.
// Existing records win over the seed file.
func (i *Importer) EnsurePresent(ctx context.Context, file *File) error {
	for _, cs := range file.Clients {
		if _, err := i.clientRepo.Get(ctx, cs.ID); err == nil {
			i.log.Debug().Str("clientID", cs.ID).Msg("seed client already present, skipping")
			continue
		} else if !ierrors.Is(err, ierrors.ErrNotFound) {
			return errors.Wrap(err, "[Importer.EnsurePresent] clientRepo.Get")
		}

		client, err := buildClient(cs)
		if err != nil {
			return errors.Wrapf(err, "[Importer.EnsurePresent] client %q", cs.ID)
		}
		if err := i.clientRepo.Upsert(ctx, client); err != nil {
			return errors.Wrap(err, "[Importer.EnsurePresent] clientRepo.Upsert")
		}
		i.log.Info().Str("clientID", cs.ID).Msg("seeded client")
	}

	for _, is := range file.IdentityResources {
		if _, err := i.resourceRepo.GetIdentity(ctx, is.Name); err == nil {
			continue
		} else if !ierrors.Is(err, ierrors.ErrNotFound) {
			return errors.Wrap(err, "[Importer.EnsurePresent] resourceRepo.GetIdentity")
		}
		res := &resources.IdentityResource{Name: is.Name, Claims: is.Claims}
		if err := i.resourceRepo.UpsertIdentity(ctx, res); err != nil {
			return errors.Wrap(err, "[Importer.EnsurePresent] resourceRepo.UpsertIdentity")
		}
		i.log.Info().Str("resource", is.Name).Msg("seeded identity resource")
	}

	for _, as := range file.APIResources {
		if _, err := i.resourceRepo.GetAPI(ctx, as.Name); err == nil {
			continue
		} else if !ierrors.Is(err, ierrors.ErrNotFound) {
			return errors.Wrap(err, "[Importer.EnsurePresent] resourceRepo.GetAPI")
		}
		res := &resources.APIResource{Name: as.Name, Audience: as.Audience, Scopes: as.Scopes}
		if err := i.resourceRepo.UpsertAPI(ctx, res); err != nil {
			return errors.Wrap(err, "[Importer.EnsurePresent] resourceRepo.UpsertAPI")
		}
		i.log.Info().Str("resource", as.Name).Msg("seeded API resource")
	}

	return nil
}

func buildClient(cs ClientSeed) (*clients.Client, error) {
	client := &clients.Client{
		ID:               cs.ID,
		Type:             clients.ClientType(cs.Type),
		Description:      cs.Description,
		RedirectURIs:     cs.RedirectURIs,
		Scopes:           cs.Scopes,
		AccessTokenTTL:   time.Duration(cs.AccessTokenTTL),
		IdentityTokenTTL: time.Duration(cs.IdentityTokenTTL),
		RefreshTokenTTL:  time.Duration(cs.RefreshTokenTTL),
	}
	for _, gt := range cs.GrantTypes {
		client.GrantTypes = append(client.GrantTypes, oauth2.GrantType(gt))
	}
	if cs.Secret != "" {
		hash, err := clients.HashSecret(cs.Secret)
		if err != nil {
			return nil, err
		}
		client.SecretHash = hash
	}
	if client.Type == "" {
		client.Type = clients.ClientTypeConfidential
	}
	return client, nil
}
