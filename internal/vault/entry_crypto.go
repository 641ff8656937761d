package vault

import (
	"errors"
	"fmt"

	"github.com/melvsalonga/securepass/krypto"
)

const (
	fieldSaltLen = 16
	fieldInfo    = "securepass-field-v1"
)

// fieldAAD binds a sealed value to its record and field so ciphertexts
// cannot be swapped between records.
func fieldAAD(recordID, field string) []byte {
	return []byte("record:" + recordID + "|field:" + field)
}

// sealField encrypts one secret field under a per-field HKDF sub-key of the vault key.
func sealField(vaultKey []byte, recordID, field, plaintext string) (krypto.Box, error) {
	if len(vaultKey) != krypto.KeySize {
		return krypto.Box{}, errors.New("invalid vault key length")
	}

	salt, err := krypto.GenerateSalt(fieldSaltLen)
	if err != nil {
		return krypto.Box{}, err
	}

	perKey, err := krypto.SubKey(vaultKey, salt, fieldInfo)
	if err != nil {
		return krypto.Box{}, fmt.Errorf("derive field key: %w", err)
	}
	defer krypto.Wipe(perKey)

	sealed, err := krypto.Encrypt(perKey, []byte(plaintext), fieldAAD(recordID, field))
	if err != nil {
		return krypto.Box{}, fmt.Errorf("encrypt %s: %w", field, err)
	}
	sealed.Salt = salt
	return sealed.Box(), nil
}

// openField reverses sealField.
func openField(vaultKey []byte, recordID, field string, box krypto.Box) (string, error) {
	sealed, err := box.Sealed()
	if err != nil {
		return "", err
	}
	if len(sealed.Salt) != fieldSaltLen {
		return "", fmt.Errorf("%w: invalid field salt length", krypto.ErrIntegrity)
	}

	perKey, err := krypto.SubKey(vaultKey, sealed.Salt, fieldInfo)
	if err != nil {
		return "", fmt.Errorf("derive field key: %w", err)
	}
	defer krypto.Wipe(perKey)

	plaintext, err := krypto.Decrypt(perKey, sealed, fieldAAD(recordID, field))
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", field, err)
	}
	return string(plaintext), nil
}

// decryptRecord opens every secret field of sr.
func decryptRecord(vaultKey []byte, sr storedRecord) (Record, error) {
	password, err := openField(vaultKey, sr.ID, "password", sr.Password)
	if err != nil {
		return Record{}, err
	}
	var notes string
	if sr.Notes != nil {
		if notes, err = openField(vaultKey, sr.ID, "notes", *sr.Notes); err != nil {
			return Record{}, err
		}
	}
	return Record{
		ID:        sr.ID,
		Title:     sr.Title,
		Username:  sr.Username,
		Password:  password,
		URL:       sr.URL,
		Notes:     notes,
		Tags:      append([]string{}, sr.Tags...),
		Category:  sr.Category,
		CreatedAt: sr.CreatedAt,
		UpdatedAt: sr.UpdatedAt,
		Version:   sr.Version,
	}, nil
}
