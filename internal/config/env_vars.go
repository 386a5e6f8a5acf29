package config

import "os"

const (
	appNameVar = "APP_NAME"
	issuerVar  = "ISSUER"
	envVar     = "ENV"
)

type EnvConfig interface {
	GetAppName() string
	GetIssuer() string
	GetEnv() string
	IsDevelopment() bool
}

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Go Grant Server")
}

// GetIssuer returns the issuer URL embedded in every signed token and used
// as the default audience fallback.
func (EnvVars) GetIssuer() string {
	return GetEnv(issuerVar, "http://localhost:8080")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv(envVar)
	if env == "" {
		return "DEV"
	}
	return env
}

// IsDevelopment reports whether the server runs in a development posture.
// Only a development posture may run with generated, non-durable key material.
func (e EnvVars) IsDevelopment() bool {
	return e.GetEnv() == "DEV"
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
