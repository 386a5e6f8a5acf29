package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy for the grant and token lifecycle engine. Everything the
// core returns wraps one of these sentinels so callers can classify failures
// with errors.Is without depending on storage or crypto internals.
var (
	// Client validation errors
	ErrUnknownClient         = errors.New("unknown client")
	ErrInvalidClientSecret   = errors.New("invalid client secret")
	ErrRedirectMismatch      = errors.New("redirect uri not registered for client")
	ErrUnauthorizedGrantType = errors.New("grant type not allowed for client")
	ErrUnauthorizedScope     = errors.New("scope not allowed for client")

	// Grant lifecycle errors
	ErrInvalidGrant    = errors.New("invalid grant")
	ErrStorageConflict = errors.New("identifier collision retries exhausted")

	// Gateway errors
	ErrNotFound           = errors.New("not found")
	ErrDuplicateID        = errors.New("duplicate identifier")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Signing errors. A missing active key is fatal in a production posture,
	// never degraded to an ephemeral key.
	ErrSigningKeyUnavailable = errors.New("no active signing key configured")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
