package resources

// IdentityResource is a named unit of identity data (a scope such as
// "profile") and the claims it releases into identity tokens.
type IdentityResource struct {
	Name   string   `json:"name"`
	Claims []string `json:"claims"`
}

// APIResource is a protected API. Its scopes grant access and its audience
// tag is stamped into access tokens minted for those scopes.
type APIResource struct {
	Name     string   `json:"name"`
	Audience string   `json:"audience"`
	Scopes   []string `json:"scopes"`
}

func (r *APIResource) HasScope(scope string) bool {
	for _, s := range r.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
