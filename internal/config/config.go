package config

type Config interface {
	EnvConfig
	StorageConfig
	GrantConfig
	SigningConfig
	FederationConfig
}

type mainConfig struct {
	EnvVars
	Storage
	Grants
	Signing
	Federation
}

func New() Config {
	return mainConfig{}
}
