package service

import (
	"errors"

	"github.com/melvsalonga/securepass/internal/common"
)

// Result is the response of every facade operation.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Error codes carried by failed results.
const (
	CodeValidation       = "validation"
	CodeNotFound         = "not_found"
	CodeUserNotFound     = "user_not_found"
	CodeInvalidPassword  = "invalid_password"
	CodeDuplicateUser    = "duplicate_user"
	CodeIntegrity        = "integrity"
	CodeDecryptionFailed = "decryption_failed"
	CodeVaultCorrupted   = "vault_corrupted"
	CodePersistence      = "persistence"
	CodeLocked           = "locked"
	CodeInternal         = "internal"
)

// codeOf classifies err. More specific sentinels are checked first because
// decryption and corruption errors also wrap ErrIntegrity.
func codeOf(err error) string {
	switch {
	case errors.Is(err, common.ErrValidation):
		return CodeValidation
	case errors.Is(err, common.ErrUserNotFound):
		return CodeUserNotFound
	case errors.Is(err, common.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, common.ErrInvalidPassword):
		return CodeInvalidPassword
	case errors.Is(err, common.ErrDuplicateUser):
		return CodeDuplicateUser
	case errors.Is(err, common.ErrDecryptionFailed):
		return CodeDecryptionFailed
	case errors.Is(err, common.ErrVaultCorrupted):
		return CodeVaultCorrupted
	case errors.Is(err, common.ErrIntegrity), errors.Is(err, common.ErrUnsupportedAlgorithm):
		return CodeIntegrity
	case errors.Is(err, common.ErrPersistence):
		return CodePersistence
	case errors.Is(err, common.ErrLocked):
		return CodeLocked
	default:
		return CodeInternal
	}
}

func ok(data any) Result {
	return Result{Success: true, Data: data}
}

// call runs fn and converts its outcome, including a panic, into a Result.
func (s *Service) call(op string, fn func() (any, error)) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("operation panicked", "op", op, "panic", r)
			res = Result{Error: "internal error", Code: CodeInternal}
		}
	}()

	data, err := fn()
	if err == nil {
		return ok(data)
	}

	code := codeOf(err)
	msg := err.Error()
	switch code {
	case CodeInternal:
		s.log.Errorw("operation failed", "op", op, "error", err)
		msg = "internal error"
	case CodeInvalidPassword, CodeUserNotFound:
		// Logged as security events by the account store.
	default:
		s.log.Debugw("operation rejected", "op", op, "code", code, "error", err)
	}
	return Result{Error: msg, Code: code}
}
