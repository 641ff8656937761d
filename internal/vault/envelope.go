package vault

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/melvsalonga/securepass/internal/common"
	"github.com/melvsalonga/securepass/krypto"
)

var envelopeAAD = []byte("securepass.vault")

// envelope is the on-disk format of a vault file.
type envelope struct {
	Version    string `json:"version"`
	Algorithm  string `json:"algorithm"`
	Nonce      string `json:"nonce"`
	AuthTag    string `json:"authTag"`
	Ciphertext string `json:"ciphertext"`
	Checksum   string `json:"checksum"`
}

func checksum(plaintext []byte) string {
	sum := sha256.Sum256(plaintext)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// sealContainer serializes c, checksums the plaintext and encrypts it under vaultKey.
func sealContainer(vaultKey []byte, c container) ([]byte, error) {
	plaintext, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode container: %w", err)
	}
	defer krypto.Wipe(plaintext)

	sealed, err := krypto.Encrypt(vaultKey, plaintext, envelopeAAD)
	if err != nil {
		return nil, fmt.Errorf("encrypt container: %w", err)
	}

	box := sealed.Box()
	env := envelope{
		Version:    ContainerVersion,
		Algorithm:  box.Alg,
		Nonce:      box.Nonce,
		AuthTag:    box.Tag,
		Ciphertext: box.Ciphertext,
		Checksum:   checksum(plaintext),
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// openContainer parses and decrypts a vault file. Tag failures map to
// ErrDecryptionFailed; malformed envelopes and checksum mismatches map to
// ErrVaultCorrupted.
func openContainer(vaultKey []byte, data []byte) (container, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return container{}, fmt.Errorf("%w: decode envelope: %v", common.ErrVaultCorrupted, err)
	}
	if env.Version != ContainerVersion {
		return container{}, fmt.Errorf("%w: envelope version %q", common.ErrVaultCorrupted, env.Version)
	}

	sealed, err := krypto.Box{
		Alg:        env.Algorithm,
		Nonce:      env.Nonce,
		Tag:        env.AuthTag,
		Ciphertext: env.Ciphertext,
	}.Sealed()
	if err != nil {
		return container{}, fmt.Errorf("%w: %w", common.ErrVaultCorrupted, err)
	}

	plaintext, err := krypto.Decrypt(vaultKey, sealed, envelopeAAD)
	if err != nil {
		if errors.Is(err, krypto.ErrUnsupportedAlgorithm) {
			return container{}, fmt.Errorf("%w: %w", common.ErrVaultCorrupted, err)
		}
		return container{}, fmt.Errorf("%w: %w", common.ErrDecryptionFailed, err)
	}
	defer krypto.Wipe(plaintext)

	want, err := base64.StdEncoding.DecodeString(env.Checksum)
	if err != nil {
		return container{}, fmt.Errorf("%w: decode checksum", common.ErrVaultCorrupted)
	}
	got := sha256.Sum256(plaintext)
	if !bytes.Equal(want, got[:]) {
		return container{}, fmt.Errorf("%w: checksum mismatch", common.ErrVaultCorrupted)
	}

	var c container
	if err := json.Unmarshal(plaintext, &c); err != nil {
		return container{}, fmt.Errorf("%w: decode container: %v", common.ErrVaultCorrupted, err)
	}
	return c, nil
}
