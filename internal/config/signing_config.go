package config

type SigningConfig interface {
	GetSigningKeyPEM() string
	GetSigningKeyID() string
}

type Signing struct{}

var _ SigningConfig = Signing{}

// GetSigningKeyPEM returns the PEM-encoded RSA private key used to sign
// access and identity tokens. Empty outside development halts startup.
func (Signing) GetSigningKeyPEM() string {
	return GetEnv("SIGNING_KEY_PEM", "")
}

func (Signing) GetSigningKeyID() string {
	return GetEnv("SIGNING_KEY_ID", "key-1")
}
