package krypto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TextEnvelope is a self-describing encrypted string: the sealed payload plus
// the derivation parameters needed to recreate its key.
type TextEnvelope struct {
	Box
	KDF    string       `json:"kdf"`
	Params Argon2Params `json:"params"`
}

// EncryptText derives a one-off key from secret and a fresh salt, then seals
// plaintext under it.
func EncryptText(plaintext string, secret []byte, p Argon2Params) (TextEnvelope, error) {
	salt, err := GenerateSalt(DefaultSaltLen)
	if err != nil {
		return TextEnvelope{}, err
	}
	key, err := DeriveKey(secret, salt, p)
	if err != nil {
		return TextEnvelope{}, fmt.Errorf("derive text key: %w", err)
	}
	defer Wipe(key)

	sealed, err := Encrypt(key, []byte(plaintext), nil)
	if err != nil {
		return TextEnvelope{}, fmt.Errorf("encrypt text: %w", err)
	}
	sealed.Salt = salt

	return TextEnvelope{Box: sealed.Box(), KDF: KDFName, Params: p}, nil
}

// DecryptText reverses EncryptText.
func DecryptText(env TextEnvelope, secret []byte) (string, error) {
	if env.KDF != KDFName {
		return "", fmt.Errorf("%w: kdf %q", ErrUnsupportedAlgorithm, env.KDF)
	}
	sealed, err := env.Sealed()
	if err != nil {
		return "", err
	}
	if len(sealed.Salt) == 0 {
		return "", errors.New("text envelope has no salt")
	}

	key, err := DeriveKey(secret, sealed.Salt, env.Params)
	if err != nil {
		return "", fmt.Errorf("derive text key: %w", err)
	}
	defer Wipe(key)

	plaintext, err := Decrypt(key, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Marshal encodes the envelope as JSON.
func (e TextEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseTextEnvelope decodes a JSON envelope produced by Marshal.
func ParseTextEnvelope(data []byte) (TextEnvelope, error) {
	var env TextEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return TextEnvelope{}, fmt.Errorf("%w: decode envelope", ErrIntegrity)
	}
	return env, nil
}
