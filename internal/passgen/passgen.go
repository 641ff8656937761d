// Package passgen generates random passwords and scores their strength.
package passgen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/nbutton23/zxcvbn-go"

	"github.com/melvsalonga/securepass/internal/common"
)

const (
	MinLength = 8
	MaxLength = 128

	lowerSet  = "abcdefghijklmnopqrstuvwxyz"
	upperSet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitSet  = "0123456789"
	symbolSet = "!@#$%^&*()-_=+[]{}:;,.?|~"
	ambiguous = "lIO01|"
)

// Options selects length and character classes.
type Options struct {
	Length           int  `json:"length"`
	Lowercase        bool `json:"lowercase"`
	Uppercase        bool `json:"uppercase"`
	Digits           bool `json:"digits"`
	Symbols          bool `json:"symbols"`
	ExcludeAmbiguous bool `json:"excludeAmbiguous"`
}

// DefaultOptions is 20 characters from every class.
func DefaultOptions() Options {
	return Options{Length: 20, Lowercase: true, Uppercase: true, Digits: true, Symbols: true}
}

// Generated is a password with its strength estimate.
type Generated struct {
	Password  string  `json:"password"`
	Score     int     `json:"score"`
	Entropy   float64 `json:"entropy"`
	CrackTime string  `json:"crackTime"`
}

// Generate returns a password containing at least one character of every
// selected class.
func Generate(opts Options) (Generated, error) {
	if opts.Length < MinLength || opts.Length > MaxLength {
		return Generated{}, common.Invalid("length", fmt.Sprintf("must be between %d and %d", MinLength, MaxLength))
	}

	var sets []string
	for _, c := range []struct {
		on  bool
		set string
	}{
		{opts.Lowercase, lowerSet},
		{opts.Uppercase, upperSet},
		{opts.Digits, digitSet},
		{opts.Symbols, symbolSet},
	} {
		if !c.on {
			continue
		}
		set := c.set
		if opts.ExcludeAmbiguous {
			set = stripChars(set, ambiguous)
		}
		sets = append(sets, set)
	}
	if len(sets) == 0 {
		return Generated{}, common.Invalid("options", "select at least one character class")
	}

	all := strings.Join(sets, "")
	pw := make([]byte, 0, opts.Length)
	for _, set := range sets {
		ch, err := pick(set)
		if err != nil {
			return Generated{}, err
		}
		pw = append(pw, ch)
	}
	for len(pw) < opts.Length {
		ch, err := pick(all)
		if err != nil {
			return Generated{}, err
		}
		pw = append(pw, ch)
	}
	if err := shuffle(pw); err != nil {
		return Generated{}, err
	}

	out := Score(string(pw))
	out.Password = string(pw)
	return out, nil
}

// Score estimates the strength of pw without returning it.
func Score(pw string, userInputs ...string) Generated {
	m := zxcvbn.PasswordStrength(pw, userInputs)
	return Generated{Score: m.Score, Entropy: m.Entropy, CrackTime: m.CrackTimeDisplay}
}

func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random index: %w", err)
	}
	return int(v.Int64()), nil
}

func pick(set string) (byte, error) {
	i, err := randIndex(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

// shuffle is a Fisher-Yates shuffle driven by crypto/rand.
func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := randIndex(i + 1)
		if err != nil {
			return err
		}
		b[i], b[j] = b[j], b[i]
	}
	return nil
}

func stripChars(s, drop string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(drop, r) {
			return -1
		}
		return r
	}, s)
}
