package config

// FederationConfig describes an upstream OIDC identity provider. Credentials
// are sourced from the environment, never from source literals.
type FederationConfig interface {
	GetUpstreamName() string
	GetUpstreamIssuer() string
	GetUpstreamClientID() string
	GetUpstreamClientSecret() string
	GetUpstreamRedirectURL() string
}

type Federation struct{}

var _ FederationConfig = Federation{}

func (Federation) GetUpstreamName() string {
	return GetEnv("UPSTREAM_IDP_NAME", "google")
}

func (Federation) GetUpstreamIssuer() string {
	return GetEnv("UPSTREAM_IDP_ISSUER", "")
}

func (Federation) GetUpstreamClientID() string {
	return GetEnv("UPSTREAM_IDP_CLIENT_ID", "")
}

func (Federation) GetUpstreamClientSecret() string {
	return GetEnv("UPSTREAM_IDP_CLIENT_SECRET", "")
}

func (Federation) GetUpstreamRedirectURL() string {
	return GetEnv("UPSTREAM_IDP_REDIRECT_URL", "")
}
