package krypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/melvsalonga/securepass/internal/common"
)

const (
	// AlgAES256GCM is the only algorithm identifier this package produces.
	AlgAES256GCM = "aes-256-gcm"

	KeySize   = 32
	NonceSize = 16
	TagSize   = 16
)

var (
	// ErrIntegrity is returned when an authentication tag does not verify.
	ErrIntegrity = common.ErrIntegrity
	// ErrUnsupportedAlgorithm is returned for payloads sealed with another algorithm.
	ErrUnsupportedAlgorithm = common.ErrUnsupportedAlgorithm
)

// Sealed is the output of Encrypt.
type Sealed struct {
	Alg        string
	Salt       []byte // optional; set when the key was derived per payload
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, errors.New("aes-gcm requires a 32-byte key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random 128-bit nonce.
// aad is authenticated but not encrypted and may be nil.
func Encrypt(key, plaintext, aad []byte) (Sealed, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return Sealed{}, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Sealed{}, fmt.Errorf("generate nonce: %w", err)
	}

	out := gcm.Seal(nil, nonce, plaintext, aad)
	split := len(out) - TagSize
	return Sealed{
		Alg:        AlgAES256GCM,
		Nonce:      nonce,
		Ciphertext: out[:split],
		Tag:        out[split:],
	}, nil
}

// Decrypt opens a Sealed payload. It fails with ErrUnsupportedAlgorithm when
// the algorithm does not match and with ErrIntegrity when the payload was
// tampered with or the key is wrong.
func Decrypt(key []byte, s Sealed, aad []byte) ([]byte, error) {
	if s.Alg != AlgAES256GCM {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s.Alg)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(s.Nonce) != NonceSize {
		return nil, fmt.Errorf("%w: invalid nonce size", ErrIntegrity)
	}
	if len(s.Tag) != TagSize {
		return nil, fmt.Errorf("%w: invalid tag size", ErrIntegrity)
	}

	buf := make([]byte, 0, len(s.Ciphertext)+TagSize)
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.Tag...)

	plaintext, err := gcm.Open(nil, s.Nonce, buf, aad)
	if err != nil {
		return nil, ErrIntegrity
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// Box is the storable base64 form of a Sealed payload.
type Box struct {
	Alg        string `json:"alg"`
	Salt       string `json:"salt,omitempty"`
	Nonce      string `json:"nonce"`
	Tag        string `json:"tag"`
	Ciphertext string `json:"ciphertext"`
}

// Box encodes s for storage.
func (s Sealed) Box() Box {
	b := Box{
		Alg:        s.Alg,
		Nonce:      base64.StdEncoding.EncodeToString(s.Nonce),
		Tag:        base64.StdEncoding.EncodeToString(s.Tag),
		Ciphertext: base64.StdEncoding.EncodeToString(s.Ciphertext),
	}
	if len(s.Salt) > 0 {
		b.Salt = base64.StdEncoding.EncodeToString(s.Salt)
	}
	return b
}

// Sealed decodes b. Malformed base64 is reported as ErrIntegrity.
func (b Box) Sealed() (Sealed, error) {
	s := Sealed{Alg: b.Alg}
	var err error
	if b.Salt != "" {
		if s.Salt, err = base64.StdEncoding.DecodeString(b.Salt); err != nil {
			return Sealed{}, fmt.Errorf("%w: decode salt", ErrIntegrity)
		}
	}
	if s.Nonce, err = base64.StdEncoding.DecodeString(b.Nonce); err != nil {
		return Sealed{}, fmt.Errorf("%w: decode nonce", ErrIntegrity)
	}
	if s.Tag, err = base64.StdEncoding.DecodeString(b.Tag); err != nil {
		return Sealed{}, fmt.Errorf("%w: decode tag", ErrIntegrity)
	}
	if s.Ciphertext, err = base64.StdEncoding.DecodeString(b.Ciphertext); err != nil {
		return Sealed{}, fmt.Errorf("%w: decode ciphertext", ErrIntegrity)
	}
	return s, nil
}
