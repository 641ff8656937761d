// Package auth holds the master password policy and the optional breach lookup
// used by the CLI before an account is created.
package auth

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/nbutton23/zxcvbn-go"

	"github.com/melvsalonga/securepass/internal/common"
)

const (
	specialChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_{|}~`"

	// MinMasterLength is the shortest accepted master password.
	MinMasterLength = 12
)

// Policy is the master password policy. MinScore is the lowest accepted
// zxcvbn score (0-4); 0 disables the score check.
type Policy struct {
	MinScore int
}

// ValidateMasterPassword applies the composition rules only.
func ValidateMasterPassword(pw string) error {
	return Policy{}.Check(pw)
}

// Check applies the composition rules and then the strength score. userInputs
// (usually the username) are penalized by the scorer.
func (p Policy) Check(pw string, userInputs ...string) error {
	if len([]rune(pw)) < MinMasterLength {
		return common.Invalid("masterPassword", fmt.Sprintf("must be at least %d characters long", MinMasterLength))
	}
	if !hasUpper(pw) {
		return common.Invalid("masterPassword", "must include an uppercase letter")
	}
	if !hasDigit(pw) {
		return common.Invalid("masterPassword", "must include a digit")
	}
	if !hasSpecial(pw) {
		return common.Invalid("masterPassword", "must include a special character")
	}
	if p.MinScore > 0 {
		if score := Strength(pw, userInputs...); score < p.MinScore {
			return common.Invalid("masterPassword", fmt.Sprintf("is too guessable (score %d, need %d)", score, p.MinScore))
		}
	}
	return nil
}

// Strength returns the zxcvbn score of pw, 0 (weakest) to 4.
func Strength(pw string, userInputs ...string) int {
	return zxcvbn.PasswordStrength(pw, userInputs).Score
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func hasSpecial(s string) bool {
	for _, r := range s {
		if strings.ContainsRune(specialChars, r) {
			return true
		}
	}
	return false
}
