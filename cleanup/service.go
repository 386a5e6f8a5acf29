// Package cleanup expires and purges stale grants and refresh tokens on a
// recurring schedule, and processes explicit revocation requests.
package cleanup

import (
	"context"
	"time"

	"github.com/archid/go-grant-server/grants"
	"github.com/archid/go-grant-server/token/refresh"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Service runs independently of request handling. Marking happens first
// (Pending/Issued past expiry become Expired), deletion second (terminal
// records older than the retention window are removed). Both passes are
// idempotent, so overlapping runs and races with in-flight redemptions are
// harmless: the gateway's conditional updates decide every contested row.
type Service struct {
	grantRepo grants.Repo
	tokenRepo refresh.Repo
	log       zerolog.Logger
	interval  time.Duration
	retention time.Duration
	nowTime   func() time.Time
}

type ServiceOption func(*Service)

func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

func WithLogger(log zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

func WithInterval(interval time.Duration) ServiceOption {
	return func(s *Service) {
		s.interval = interval
	}
}

// WithRetention sets how long terminal records are kept before deletion.
func WithRetention(retention time.Duration) ServiceOption {
	return func(s *Service) {
		s.retention = retention
	}
}

func NewService(grantRepo grants.Repo, tokenRepo refresh.Repo, options ...ServiceOption) (*Service, error) {
	if grantRepo == nil {
		return nil, errors.New("[NewService] grant repo is required")
	}
	if tokenRepo == nil {
		return nil, errors.New("[NewService] refresh token repo is required")
	}

	s := &Service{
		grantRepo: grantRepo,
		tokenRepo: tokenRepo,
		log:       zerolog.Nop(),
		interval:  5 * time.Minute,
		retention: 30 * 24 * time.Hour,
		nowTime:   time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Run executes cleanup passes on the configured interval until the context
// is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("cleanup service started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("cleanup service stopped")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.log.Err(err).Msg("cleanup pass failed")
			}
		}
	}
}

// RunOnce executes a single cleanup pass. Safe to call on records that are
// already expired or deleted; re-running is a no-op.
func (s *Service) RunOnce(ctx context.Context) error {
	now := s.nowTime()

	expired, err := s.grantRepo.MarkExpired(ctx, now)
	if err != nil {
		return errors.Wrap(err, "[Service.RunOnce] grantRepo.MarkExpired")
	}

	cutoff := now.Add(-s.retention)
	purgedGrants, err := s.grantRepo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return errors.Wrap(err, "[Service.RunOnce] grantRepo.DeleteBefore")
	}

	purgedTokens, err := s.tokenRepo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return errors.Wrap(err, "[Service.RunOnce] tokenRepo.DeleteBefore")
	}

	if expired > 0 || purgedGrants > 0 || purgedTokens > 0 {
		s.log.Info().
			Int64("grants_expired", expired).
			Int64("grants_purged", purgedGrants).
			Int64("tokens_purged", purgedTokens).
			Msg("cleanup pass completed")
	}
	return nil
}

// RevokeGrant processes an explicit revocation of a single grant and its
// refresh token chains.
func (s *Service) RevokeGrant(ctx context.Context, grantID string) error {
	if err := s.grantRepo.Revoke(ctx, grantID); err != nil {
		return errors.Wrap(err, "[Service.RevokeGrant] grantRepo.Revoke")
	}
	revoked, err := s.tokenRepo.RevokeByGrant(ctx, grantID)
	if err != nil {
		return errors.Wrap(err, "[Service.RevokeGrant] tokenRepo.RevokeByGrant")
	}
	if revoked > 0 {
		s.log.Info().Str("grant_id", grantID).Int64("tokens_revoked", revoked).Msg("grant revocation cascaded to refresh chains")
	}
	return nil
}

// RevokeOwner implements logout-everywhere: every non-terminal grant and
// every refresh token of the owner is revoked immediately.
func (s *Service) RevokeOwner(ctx context.Context, ownerID string) error {
	revokedGrants, err := s.grantRepo.RevokeByOwner(ctx, ownerID)
	if err != nil {
		return errors.Wrap(err, "[Service.RevokeOwner] grantRepo.RevokeByOwner")
	}
	revokedTokens, err := s.tokenRepo.RevokeByOwner(ctx, ownerID)
	if err != nil {
		return errors.Wrap(err, "[Service.RevokeOwner] tokenRepo.RevokeByOwner")
	}

	s.log.Info().
		Str("owner_id", ownerID).
		Int64("grants_revoked", revokedGrants).
		Int64("tokens_revoked", revokedTokens).
		Msg("owner sessions revoked")
	return nil
}
