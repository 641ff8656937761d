package krypto

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrKeyDestroyed is returned by a SecretKey after Destroy.
var ErrKeyDestroyed = errors.New("secret key destroyed")

// SecretKey holds a 32-byte symmetric key sealed in a memguard enclave.
// The plaintext is only exposed inside Use. Destroy drops the enclave; the
// Go runtime may still hold copies made by callers, so wiping is best-effort.
type SecretKey struct {
	mu      sync.Mutex
	enclave *memguard.Enclave
}

// NewSecretKey seals b. b is wiped on return.
func NewSecretKey(b []byte) (*SecretKey, error) {
	if len(b) != KeySize {
		Wipe(b)
		return nil, fmt.Errorf("secret key must be %d bytes", KeySize)
	}
	return &SecretKey{enclave: memguard.NewEnclave(b)}, nil
}

// RandomSecretKey returns a fresh random key.
func RandomSecretKey() *SecretKey {
	return &SecretKey{enclave: memguard.NewEnclaveRandom(KeySize)}
}

// Use opens the key for the duration of fn. fn must not retain key.
func (k *SecretKey) Use(fn func(key []byte) error) error {
	if k == nil {
		return ErrKeyDestroyed
	}
	k.mu.Lock()
	enclave := k.enclave
	k.mu.Unlock()
	if enclave == nil {
		return ErrKeyDestroyed
	}

	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Clone returns an independent handle to the same key material.
func (k *SecretKey) Clone() (*SecretKey, error) {
	var clone *SecretKey
	err := k.Use(func(key []byte) error {
		cp := make([]byte, len(key))
		copy(cp, key)
		var err error
		clone, err = NewSecretKey(cp)
		return err
	})
	return clone, err
}

// Equal reports whether both handles hold the same key.
func (k *SecretKey) Equal(other *SecretKey) bool {
	equal := false
	_ = k.Use(func(a []byte) error {
		return other.Use(func(b []byte) error {
			equal = subtle.ConstantTimeCompare(a, b) == 1
			return nil
		})
	})
	return equal
}

// Destroy releases the enclave. Later calls to Use fail.
func (k *SecretKey) Destroy() {
	if k == nil {
		return
	}
	k.mu.Lock()
	k.enclave = nil
	k.mu.Unlock()
}

// Alive reports whether the key can still be used.
func (k *SecretKey) Alive() bool {
	if k == nil {
		return false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.enclave != nil
}

// Wipe overwrites b with zeroes.
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	memguard.WipeBytes(b)
}
