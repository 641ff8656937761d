// Package common defines the sentinel errors shared by the vault, account and
// session layers. Callers should match them with errors.Is.
package common

import (
	"errors"
	"fmt"
)

var (
	// Input errors.
	ErrValidation = errors.New("validation error")

	// Lookup errors.
	ErrNotFound     = errors.New("not found")
	ErrUserNotFound = errors.New("user not found")

	// Account errors.
	ErrInvalidPassword = errors.New("invalid password")
	ErrDuplicateUser   = errors.New("user already exists")

	// Crypto and storage errors.
	ErrIntegrity            = errors.New("integrity check failed")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrDecryptionFailed     = errors.New("decryption failed")
	ErrVaultCorrupted       = errors.New("vault corrupted")
	ErrPersistence          = errors.New("persistence failed")

	// ErrLocked is returned when an operation needs an unlocked vault.
	ErrLocked = errors.New("vault locked")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid is shorthand for &ValidationError{Field: field, Reason: reason}.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
