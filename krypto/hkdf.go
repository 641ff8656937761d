package krypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SubKey derives a 32-byte key from master key material with HKDF-SHA256.
// info separates independent uses of the same master key.
func SubKey(master, salt []byte, info string) ([]byte, error) {
	if len(master) != KeySize {
		return nil, errors.New("invalid master key length")
	}
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}
