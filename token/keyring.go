package token

import (
	"crypto"
	"sync"

	ierrors "github.com/archid/go-grant-server/internal/errors"
	"github.com/pkg/errors"
)

// Keyring holds the process-wide signing key state with an explicit
// init/rotate/retire lifecycle. Exactly one key signs at a time; rotated-out
// keys are retained for verification only, looked up by the key version
// identifier ("kid") embedded in every issued token. Rotation therefore
// never invalidates tokens signed under a still-retained prior key.
type Keyring struct {
	mu      sync.RWMutex
	active  *KeyPair
	retired map[string]*KeyPair
}

// NewKeyring initializes the keyring with its first active key.
func NewKeyring(active *KeyPair) (*Keyring, error) {
	if active == nil {
		return nil, ierrors.ErrSigningKeyUnavailable
	}
	return &Keyring{
		active:  active,
		retired: make(map[string]*KeyPair),
	}, nil
}

// Active returns the current signing key, or ErrSigningKeyUnavailable when
// none exists.
func (k *Keyring) Active() (*KeyPair, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.active == nil {
		return nil, ierrors.ErrSigningKeyUnavailable
	}
	return k.active, nil
}

// Rotate installs next as the signing key. The previous active key moves to
// the retired set and keeps verifying tokens signed before the rotation.
func (k *Keyring) Rotate(next *KeyPair) error {
	if next == nil {
		return ierrors.ErrSigningKeyUnavailable
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active != nil {
		k.retired[k.active.KeyID] = k.active
	}
	delete(k.retired, next.KeyID)
	k.active = next
	return nil
}

// Retire drops a previously rotated-out key. Tokens signed under it stop
// verifying; call this only once every token signed by the key has expired.
func (k *Keyring) Retire(keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.retired, keyID)
}

// VerificationKey resolves a key version identifier to its public key,
// consulting the active key first and then the retired set.
func (k *Keyring) VerificationKey(keyID string) (crypto.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.active != nil && k.active.KeyID == keyID {
		return k.active.PublicKey, nil
	}
	if kp, ok := k.retired[keyID]; ok {
		return kp.PublicKey, nil
	}
	return nil, errors.Errorf("unknown key version %q", keyID)
}

// JWKS exports the public halves of every verifying key.
func (k *Keyring) JWKS() (*JWKS, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	set := &JWKS{Keys: make([]JWK, 0, len(k.retired)+1)}
	if k.active != nil {
		jwk, err := k.active.ToJWK()
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert active key to JWK")
		}
		set.Keys = append(set.Keys, *jwk)
	}
	for _, kp := range k.retired {
		jwk, err := kp.ToJWK()
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert retired key to JWK")
		}
		set.Keys = append(set.Keys, *jwk)
	}
	return set, nil
}
