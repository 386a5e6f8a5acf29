package grants

import (
	"time"

	"github.com/archid/go-grant-server/oauth2"
)

// State is the lifecycle state of a grant.
//
//	Pending   -> Issued    (resource-owner consent)
//	Issued    -> Exchanged (code redeemed, exactly once)
//	any       -> Revoked   (explicit revocation or rotation supersede)
//	Pending/Issued -> Expired (time-based, lazy at read + eager by cleanup)
//
// Exchanged and Revoked are terminal: a grant in either state must never be
// redeemable again.
type State string

const (
	StatePending   State = "pending"
	StateIssued    State = "issued"
	StateExchanged State = "exchanged"
	StateRevoked   State = "revoked"
	StateExpired   State = "expired"
)

// Grant is a record authorizing a client to obtain tokens on behalf of a
// resource owner for a set of scopes. The ID doubles as the authorization
// code once the grant is issued: an opaque, unguessable 256-bit value with a
// unique constraint at the gateway.
type Grant struct {
	ID       string
	ClientID string
	OwnerID  string

	RequestedScopes []string
	GrantedScopes   []string
	RedirectURI     string

	CodeChallenge       string
	CodeChallengeMethod oauth2.CodeMethodType
	Nonce               string

	State      State
	OneTimeUse bool

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the grant is past its expiry. Expired grants are
// invalid even before the cleanup service has physically marked them.
func (g *Grant) Expired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}
