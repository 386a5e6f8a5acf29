package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/archid/go-grant-server/cleanup"
	"github.com/archid/go-grant-server/clients"
	"github.com/archid/go-grant-server/federation"
	"github.com/archid/go-grant-server/grants"
	"github.com/archid/go-grant-server/internal/config"
	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/archid/go-grant-server/owners"
	"github.com/archid/go-grant-server/resources"
	"github.com/archid/go-grant-server/seed"
	"github.com/archid/go-grant-server/storage/postgres"
	"github.com/archid/go-grant-server/token"
	"github.com/archid/go-grant-server/token/refresh"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const clientCacheTTL = 5 * time.Minute

func main() {
	for {
		if err := run(); err != nil {
			log.Fatal().Err(err).Msg("error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	_ = godotenv.Load()

	c := config.New()
	logger := newLogger(c)
	displayAppname(c.GetAppName())

	engine, err := buildEngine(context.Background(), c, logger)
	if err != nil {
		return err
	}
	defer engine.close()

	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	go engine.cleanup.Run(cleanupCtx)

	waitForStopSignal()
	stopCleanup()
	return nil
}

// engine wires every lifecycle component over the shared postgres gateway.
// upstream and mapper are nil when no federated identity provider is
// configured.
type engine struct {
	gateway  *postgres.Gateway
	grants   *grants.Service
	tokens   *token.Manager
	cleanup  *cleanup.Service
	upstream *federation.Provider
	mapper   *federation.Mapper
}

func (e *engine) close() {
	if err := e.gateway.Close(); err != nil {
		log.Err(err).Msg("closing storage gateway")
	}
}

func buildEngine(ctx context.Context, c config.Config, logger zerolog.Logger) (*engine, error) {
	gateway, err := postgres.Open(c.GetDatabaseURL(),
		postgres.WithLogger(logger),
		postgres.WithMaxAttempts(c.GetStorageRetryAttempts()),
		postgres.WithPool(c.GetMaxOpenConns(), c.GetMaxIdleConns(), c.GetConnMaxLifetime()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[buildEngine] postgres.Open")
	}

	validator, err := newValidator(c, gateway.Clients())
	if err != nil {
		return nil, err
	}

	keyring, err := newKeyring(c, logger)
	if err != nil {
		return nil, err
	}

	resolver, err := resources.NewResolver(gateway.Resources())
	if err != nil {
		return nil, errors.Wrap(err, "[buildEngine] resources.NewResolver")
	}

	refreshManager, err := refresh.NewManager(gateway.RefreshTokens(),
		refresh.WithLogger(logger),
		refresh.WithTokenLength(c.GetRefreshTokenLength()),
		refresh.WithDefaultTTL(c.GetDefaultRefreshTokenTTL()))
	if err != nil {
		return nil, errors.Wrap(err, "[buildEngine] refresh.NewManager")
	}

	tokenManager, err := token.NewManager(keyring, refreshManager, resolver, gateway.Owners(), c.GetIssuer(),
		token.WithLogger(logger),
		token.WithTokenTTLs(c.GetDefaultAccessTokenTTL(), c.GetDefaultIdentityTokenTTL(), c.GetDefaultRefreshTokenTTL()))
	if err != nil {
		return nil, errors.Wrap(err, "[buildEngine] token.NewManager")
	}

	grantService, err := grants.NewService(gateway.Grants(), validator, tokenManager,
		grants.WithLogger(logger),
		grants.WithCodeLength(c.GetGrantIDLength()),
		grants.WithCodeTTL(c.GetAuthCodeTTL()))
	if err != nil {
		return nil, errors.Wrap(err, "[buildEngine] grants.NewService")
	}

	cleanupService, err := cleanup.NewService(gateway.Grants(), gateway.RefreshTokens(),
		cleanup.WithLogger(logger),
		cleanup.WithInterval(c.GetCleanupInterval()),
		cleanup.WithRetention(c.GetRetentionWindow()))
	if err != nil {
		return nil, errors.Wrap(err, "[buildEngine] cleanup.NewService")
	}

	if err := runSeedImport(ctx, c, logger, gateway.Clients(), gateway.Resources()); err != nil {
		return nil, err
	}

	upstream, mapper, err := initFederation(ctx, c, logger, gateway.Owners())
	if err != nil {
		return nil, err
	}

	return &engine{
		gateway:  gateway,
		grants:   grantService,
		tokens:   tokenManager,
		cleanup:  cleanupService,
		upstream: upstream,
		mapper:   mapper,
	}, nil
}

func newValidator(c config.Config, repo clients.Repo) (*clients.Validator, error) {
	options := []clients.ValidatorOption{}
	if redisURL := c.GetRedisURL(); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, errors.Wrap(err, "[newValidator] redis.ParseURL")
		}
		options = append(options, clients.WithCache(clients.NewRedisCache(redis.NewClient(opts), clientCacheTTL)))
	}

	validator, err := clients.NewValidator(repo, options...)
	if err != nil {
		return nil, errors.Wrap(err, "[newValidator] clients.NewValidator")
	}
	return validator, nil
}

// newKeyring loads the signing key from configuration. A missing key is
// fatal outside development; only a development posture runs on a generated
// ephemeral key.
func newKeyring(c config.Config, logger zerolog.Logger) (*token.Keyring, error) {
	pemData := c.GetSigningKeyPEM()
	if pemData != "" {
		keyPair, err := token.LoadKeyPairFromPEM(c.GetSigningKeyID(), pemData)
		if err != nil {
			return nil, errors.Wrap(err, "[newKeyring] token.LoadKeyPairFromPEM")
		}
		return token.NewKeyring(keyPair)
	}

	if !c.IsDevelopment() {
		return nil, errors.Wrap(ierrors.ErrSigningKeyUnavailable, "no signing key PEM configured")
	}

	logger.Warn().Msg("no signing key configured, generating an ephemeral development key")
	keyPair, err := token.GenerateRSAKeyPair(c.GetSigningKeyID(), 2048)
	if err != nil {
		return nil, errors.Wrap(err, "[newKeyring] token.GenerateRSAKeyPair")
	}
	return token.NewKeyring(keyPair)
}

func runSeedImport(ctx context.Context, c config.Config, logger zerolog.Logger, clientRepo clients.Repo, resourceRepo resources.Repo) error {
	seedFile := c.GetSeedFile()
	if seedFile == "" {
		return nil
	}

	file, err := seed.Load(seedFile)
	if err != nil {
		return errors.Wrap(err, "[runSeedImport] seed.Load")
	}
	importer := seed.NewImporter(clientRepo, resourceRepo, seed.WithLogger(logger))
	if err := importer.EnsurePresent(ctx, file); err != nil {
		return errors.Wrap(err, "[runSeedImport] importer.EnsurePresent")
	}
	return nil
}

// initFederation discovers the upstream identity provider when one is
// configured. Absence is not an error; local-only deployments skip it and
// both components come back nil.
func initFederation(ctx context.Context, c config.Config, logger zerolog.Logger, ownerRepo owners.Repo) (*federation.Provider, *federation.Mapper, error) {
	if c.GetUpstreamIssuer() == "" {
		return nil, nil, nil
	}

	provider, err := federation.NewProvider(ctx, c, federation.WithLogger(logger))
	if err != nil {
		return nil, nil, errors.Wrap(err, "[initFederation] federation.NewProvider")
	}
	mapper, err := federation.NewMapper(ownerRepo, federation.WithMapperLogger(logger))
	if err != nil {
		return nil, nil, errors.Wrap(err, "[initFederation] federation.NewMapper")
	}

	logger.Info().Str("provider", provider.Name()).Msg("federated sign-in enabled")
	return provider, mapper, nil
}

func newLogger(c config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if c.IsDevelopment() {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
