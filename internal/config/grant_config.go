package config

import "time"

type GrantConfig interface {
	GetAuthCodeTTL() time.Duration
	GetGrantIDLength() int
	GetRefreshTokenLength() int
	GetDefaultAccessTokenTTL() time.Duration
	GetDefaultIdentityTokenTTL() time.Duration
	GetDefaultRefreshTokenTTL() time.Duration
	GetCleanupInterval() time.Duration
	GetRetentionWindow() time.Duration
}

type Grants struct{}

var _ GrantConfig = Grants{}

func (Grants) GetAuthCodeTTL() time.Duration {
	return 5 * time.Minute
}

func (Grants) GetGrantIDLength() int {
	return 32 // 32 bytes = 256 bits
}

func (Grants) GetRefreshTokenLength() int {
	return 32
}

func (Grants) GetDefaultAccessTokenTTL() time.Duration {
	return 1 * time.Hour
}

func (Grants) GetDefaultIdentityTokenTTL() time.Duration {
	return 1 * time.Hour
}

func (Grants) GetDefaultRefreshTokenTTL() time.Duration {
	return 7 * 24 * time.Hour
}

func (Grants) GetCleanupInterval() time.Duration {
	return 5 * time.Minute
}

// GetRetentionWindow is how long expired or revoked records are kept before
// the cleanup service physically deletes them.
func (Grants) GetRetentionWindow() time.Duration {
	return 30 * 24 * time.Hour
}
