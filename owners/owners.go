package owners

import "time"

// FederatedIdentity links a local resource owner to an identity asserted by
// an upstream provider.
type FederatedIdentity struct {
	Provider string `json:"provider"`
	Subject  string `json:"subject"`
}

// Owner is a resource owner - the end user whose identity and resources
// clients access. Tokens carry the owner ID as the "sub" claim.
type Owner struct {
	ID        string              `json:"id"`
	Email     string              `json:"email"`
	Name      string              `json:"name"`
	Blocked   bool                `json:"blocked"`
	Federated []FederatedIdentity `json:"federated,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
}

// HasFederatedIdentity reports whether the owner is already linked to the
// given upstream identity.
func (o *Owner) HasFederatedIdentity(provider, subject string) bool {
	for _, f := range o.Federated {
		if f.Provider == provider && f.Subject == subject {
			return true
		}
	}
	return false
}
