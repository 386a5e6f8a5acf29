// Package postgres implements the persistence gateway for clients,
// resources, owners, grants, and refresh tokens on PostgreSQL. All
// linearizable state transitions are expressed as conditional UPDATEs so the
// database, not the application, decides races.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v5"
	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const uniqueViolation = "23505"

type Gateway struct {
	db          *sql.DB
	log         zerolog.Logger
	maxAttempts uint

	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
}

type GatewayOption func(*Gateway)

func WithLogger(log zerolog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.log = log
	}
}

// WithMaxAttempts bounds retries of transient storage failures.
func WithMaxAttempts(attempts uint) GatewayOption {
	return func(g *Gateway) {
		g.maxAttempts = attempts
	}
}

func WithPool(maxOpen, maxIdle int, lifetime time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.maxOpenConns = maxOpen
		g.maxIdleConns = maxIdle
		g.connMaxLifetime = lifetime
	}
}

// Open connects to PostgreSQL, configures the pool, and provisions the
// schema (create-if-absent only; migrations proper are an external concern).
func Open(connectionString string, options ...GatewayOption) (*Gateway, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, errors.Wrap(err, "[Open] sql.Open")
	}

	g := &Gateway{
		db:              db,
		log:             zerolog.Nop(),
		maxAttempts:     3,
		maxOpenConns:    25,
		maxIdleConns:    5,
		connMaxLifetime: 5 * time.Minute,
	}
	for _, opt := range options {
		opt(g)
	}

	db.SetMaxOpenConns(g.maxOpenConns)
	db.SetMaxIdleConns(g.maxIdleConns)
	db.SetConnMaxLifetime(g.connMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(ierrors.ErrStorageUnavailable, err.Error())
	}

	if err := g.initSchema(); err != nil {
		return nil, errors.Wrap(err, "[Open] initSchema")
	}
	return g, nil
}

func (g *Gateway) Close() error {
	return g.db.Close()
}

func (g *Gateway) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS clients (
		id                 TEXT PRIMARY KEY,
		type               TEXT NOT NULL,
		description        TEXT NOT NULL DEFAULT '',
		secret_hash        TEXT NOT NULL DEFAULT '',
		redirect_uris      TEXT[] NOT NULL DEFAULT '{}',
		grant_types        TEXT[] NOT NULL DEFAULT '{}',
		scopes             TEXT[] NOT NULL DEFAULT '{}',
		access_token_ttl   BIGINT NOT NULL DEFAULT 0,
		identity_token_ttl BIGINT NOT NULL DEFAULT 0,
		refresh_token_ttl  BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS identity_resources (
		name   TEXT PRIMARY KEY,
		claims TEXT[] NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS api_resources (
		name     TEXT PRIMARY KEY,
		audience TEXT NOT NULL,
		scopes   TEXT[] NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS owners (
		id         TEXT PRIMARY KEY,
		email      TEXT NOT NULL DEFAULT '',
		name       TEXT NOT NULL DEFAULT '',
		blocked    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS owner_identities (
		provider TEXT NOT NULL,
		subject  TEXT NOT NULL,
		owner_id TEXT NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
		PRIMARY KEY (provider, subject)
	);

	CREATE TABLE IF NOT EXISTS grants (
		id                    TEXT PRIMARY KEY,
		client_id             TEXT NOT NULL,
		owner_id              TEXT NOT NULL DEFAULT '',
		requested_scopes      TEXT[] NOT NULL DEFAULT '{}',
		granted_scopes        TEXT[] NOT NULL DEFAULT '{}',
		redirect_uri          TEXT NOT NULL DEFAULT '',
		code_challenge        TEXT NOT NULL DEFAULT '',
		code_challenge_method TEXT NOT NULL DEFAULT '',
		nonce                 TEXT NOT NULL DEFAULT '',
		state                 TEXT NOT NULL,
		one_time_use          BOOLEAN NOT NULL DEFAULT TRUE,
		created_at            TIMESTAMPTZ NOT NULL,
		expires_at            TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_grants_owner ON grants(owner_id);
	CREATE INDEX IF NOT EXISTS idx_grants_expires ON grants(expires_at);

	CREATE TABLE IF NOT EXISTS refresh_tokens (
		token      TEXT PRIMARY KEY,
		chain_id   TEXT NOT NULL,
		grant_id   TEXT NOT NULL DEFAULT '',
		client_id  TEXT NOT NULL,
		owner_id   TEXT NOT NULL,
		scopes     TEXT[] NOT NULL DEFAULT '{}',
		nonce      TEXT NOT NULL DEFAULT '',
		revoked    BOOLEAN NOT NULL DEFAULT FALSE,
		issued_at  TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_refresh_tokens_chain ON refresh_tokens(chain_id);
	CREATE INDEX IF NOT EXISTS idx_refresh_tokens_owner ON refresh_tokens(owner_id);
	CREATE INDEX IF NOT EXISTS idx_refresh_tokens_grant ON refresh_tokens(grant_id);
	`

	_, err := g.db.Exec(schema)
	return err
}

// taxonomySentinels are errors already classified by a repo operation;
// they pass through retry and mapping untouched.
var taxonomySentinels = []error{
	ierrors.ErrNotFound,
	ierrors.ErrDuplicateID,
	ierrors.ErrInvalidGrant,
	ierrors.ErrStorageConflict,
}

func isTaxonomy(err error) bool {
	for _, sentinel := range taxonomySentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// mapError translates driver errors into the gateway taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if isTaxonomy(err) {
		return err
	}
	if err == sql.ErrNoRows {
		return ierrors.ErrNotFound
	}
	if pqErr, ok := err.(*pq.Error); ok {
		if pqErr.Code == uniqueViolation {
			return ierrors.ErrDuplicateID
		}
		return err
	}
	return errors.Wrap(ierrors.ErrStorageUnavailable, err.Error())
}

// isTransient reports whether a failure is worth retrying. Anything the
// server itself rejected (constraint violations, bad SQL) or that a repo
// operation already classified is permanent; connectivity failures are
// transient.
func isTransient(err error) bool {
	if err == nil || err == sql.ErrNoRows || isTaxonomy(err) {
		return false
	}
	if _, ok := err.(*pq.Error); ok {
		return false
	}
	return true
}

// withRetry runs op with bounded exponential backoff on transient failures.
// The retry budget is additionally bounded by the request's own context.
func (g *Gateway) withRetry(ctx context.Context, op func() error) error {
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		err := op()
		if err == nil {
			return struct{}{}, nil
		}
		if !isTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		g.log.Warn().Int("attempt", attempt).Err(err).Msg("transient storage failure, retrying")
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(g.maxAttempts),
	)
	return err
}
