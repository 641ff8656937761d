package krypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// DefaultSaltLen is the salt length used for accounts and text envelopes.
	DefaultSaltLen = 32
	// MinSaltLen rejects salts shorter than 128 bits.
	MinSaltLen = 16
	// KDFName identifies the derivation function in persisted metadata.
	KDFName = "argon2id"

	maxMemoryMB = 4096
)

// Argon2Params captures tunable parameters for Argon2id.
type Argon2Params struct {
	MemoryMB    uint32 `json:"memoryMB"`
	Time        uint32 `json:"time"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"keyLen"`
}

// Cost is a relative work factor used to order tiers.
func (p Argon2Params) Cost() uint64 {
	return uint64(p.MemoryMB) * uint64(p.Time)
}

// Validate rejects parameter sets that would yield a weak or unusable key.
func (p Argon2Params) Validate() error {
	if p.KeyLen == 0 {
		return errors.New("key length must be positive")
	}
	if p.MemoryMB == 0 {
		return errors.New("memory parameter must be positive")
	}
	if p.MemoryMB > maxMemoryMB {
		return fmt.Errorf("memory parameter exceeds %d MB", maxMemoryMB)
	}
	if p.Time == 0 {
		return errors.New("time parameter must be positive")
	}
	if p.Parallelism == 0 {
		return errors.New("parallelism must be positive")
	}
	return nil
}

// Tiers pairs the record-key and master-key derivation costs.
// The master tier wraps vault keys and must always cost more.
type Tiers struct {
	Record Argon2Params `json:"record"`
	Master Argon2Params `json:"master"`
}

// DefaultTiers returns the production derivation costs.
func DefaultTiers() Tiers {
	return Tiers{
		Record: Argon2Params{MemoryMB: 32, Time: 2, Parallelism: 1, KeyLen: KeySize},
		Master: Argon2Params{MemoryMB: 64, Time: 3, Parallelism: 1, KeyLen: KeySize},
	}
}

// Validate checks both tiers and their ordering.
func (t Tiers) Validate() error {
	if err := t.Record.Validate(); err != nil {
		return fmt.Errorf("record tier: %w", err)
	}
	if err := t.Master.Validate(); err != nil {
		return fmt.Errorf("master tier: %w", err)
	}
	if t.Master.Cost() <= t.Record.Cost() {
		return errors.New("master tier must cost more than record tier")
	}
	return nil
}

// DeriveKey derives a key using Argon2id with the provided parameters.
// The same password, salt and parameters always yield the same key.
func DeriveKey(password []byte, salt []byte, p Argon2Params) ([]byte, error) {
	if len(password) == 0 {
		return nil, errors.New("password is required")
	}
	if len(salt) < MinSaltLen {
		return nil, fmt.Errorf("salt must be at least %d bytes", MinSaltLen)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	key := argon2.IDKey(password, salt, p.Time, p.MemoryMB*1024, p.Parallelism, p.KeyLen)
	if uint32(len(key)) != p.KeyLen {
		return nil, fmt.Errorf("derived key has unexpected length %d", len(key))
	}
	return key, nil
}

// GenerateSalt returns n cryptographically secure random bytes.
// n <= 0 selects DefaultSaltLen.
func GenerateSalt(n int) ([]byte, error) {
	if n <= 0 {
		n = DefaultSaltLen
	}
	if n < MinSaltLen {
		return nil, fmt.Errorf("salt must be at least %d bytes", MinSaltLen)
	}
	salt := make([]byte, n)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}
