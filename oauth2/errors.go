package oauth2

import (
	ierrors "github.com/archid/go-grant-server/internal/errors"
)

// RFC 6749 §5.2 error codes.
const (
	ErrorCodeInvalidRequest         = "invalid_request"
	ErrorCodeInvalidClient          = "invalid_client"
	ErrorCodeInvalidGrant           = "invalid_grant"
	ErrorCodeInvalidScope           = "invalid_scope"
	ErrorCodeUnauthorizedClient     = "unauthorized_client"
	ErrorCodeServerError            = "server_error"
	ErrorCodeTemporarilyUnavailable = "temporarily_unavailable"
)

// Error is the wire-level error body returned to clients.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// Translate maps an internal error to its protocol-level representation.
// Internal storage and crypto details never cross this boundary: anything
// the taxonomy does not cover collapses to server_error.
func Translate(err error) *Error {
	switch {
	case err == nil:
		return nil
	case ierrors.Is(err, ierrors.ErrUnknownClient),
		ierrors.Is(err, ierrors.ErrInvalidClientSecret):
		return &Error{Code: ErrorCodeInvalidClient}
	case ierrors.Is(err, ierrors.ErrUnauthorizedScope):
		return &Error{Code: ErrorCodeInvalidScope}
	case ierrors.Is(err, ierrors.ErrUnauthorizedGrantType):
		return &Error{Code: ErrorCodeUnauthorizedClient}
	case ierrors.Is(err, ierrors.ErrRedirectMismatch):
		return &Error{Code: ErrorCodeInvalidRequest, Description: "redirect_uri is not registered for this client"}
	case ierrors.Is(err, ierrors.ErrInvalidGrant):
		return &Error{Code: ErrorCodeInvalidGrant}
	case ierrors.Is(err, ierrors.ErrStorageUnavailable):
		return &Error{Code: ErrorCodeTemporarilyUnavailable}
	default:
		return &Error{Code: ErrorCodeServerError}
	}
}
