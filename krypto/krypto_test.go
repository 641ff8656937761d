package krypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = Argon2Params{MemoryMB: 1, Time: 1, Parallelism: 1, KeyLen: KeySize}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt, err := GenerateSalt(0)
	require.NoError(t, err)
	require.Len(t, salt, DefaultSaltLen)

	k1, err := DeriveKey([]byte("correct horse"), salt, testParams)
	require.NoError(t, err)
	k2, err := DeriveKey([]byte("correct horse"), salt, testParams)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, KeySize)

	other, err := DeriveKey([]byte("correct horse!"), salt, testParams)
	require.NoError(t, err)
	assert.NotEqual(t, k1, other)
}

func TestDeriveKeyRejectsBadInput(t *testing.T) {
	salt, err := GenerateSalt(0)
	require.NoError(t, err)

	_, err = DeriveKey(nil, salt, testParams)
	assert.Error(t, err)
	_, err = DeriveKey([]byte("pw"), salt[:8], testParams)
	assert.Error(t, err)
	_, err = DeriveKey([]byte("pw"), salt, Argon2Params{MemoryMB: 1, Time: 0, Parallelism: 1, KeyLen: KeySize})
	assert.Error(t, err)
	_, err = GenerateSalt(4)
	assert.Error(t, err)
}

func TestGenerateSaltUnique(t *testing.T) {
	a, err := GenerateSalt(32)
	require.NoError(t, err)
	b, err := GenerateSalt(32)
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a, b))
}

func TestTiersOrdering(t *testing.T) {
	require.NoError(t, DefaultTiers().Validate())

	tiers := Tiers{Record: testParams, Master: testParams}
	assert.Error(t, tiers.Validate(), "equal cost tiers must be rejected")

	tiers.Master.Time = 2
	assert.NoError(t, tiers.Validate())
	assert.Greater(t, DefaultTiers().Master.Cost(), DefaultTiers().Record.Cost())
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)
	for _, pt := range [][]byte{[]byte("hello"), {}, bytes.Repeat([]byte{0xAB}, 4096)} {
		sealed, err := Encrypt(key, pt, []byte("aad"))
		require.NoError(t, err)
		assert.Len(t, sealed.Nonce, NonceSize)
		assert.Len(t, sealed.Tag, TagSize)
		assert.Equal(t, AlgAES256GCM, sealed.Alg)

		got, err := Decrypt(key, sealed, []byte("aad"))
		require.NoError(t, err)
		assert.Equal(t, pt, got)
	}
}

func TestEncryptFreshNonce(t *testing.T) {
	key := testKey(t)
	a, err := Encrypt(key, []byte("same"), nil)
	require.NoError(t, err)
	b, err := Encrypt(key, []byte("same"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestDecryptDetectsTampering(t *testing.T) {
	key := testKey(t)
	sealed, err := Encrypt(key, []byte("secret payload"), nil)
	require.NoError(t, err)

	for i := range sealed.Ciphertext {
		bad := sealed
		bad.Ciphertext = append([]byte(nil), sealed.Ciphertext...)
		bad.Ciphertext[i] ^= 0x01
		_, err := Decrypt(key, bad, nil)
		require.ErrorIs(t, err, ErrIntegrity, "ciphertext byte %d", i)
	}
	for i := range sealed.Tag {
		bad := sealed
		bad.Tag = append([]byte(nil), sealed.Tag...)
		bad.Tag[i] ^= 0x80
		_, err := Decrypt(key, bad, nil)
		require.ErrorIs(t, err, ErrIntegrity, "tag byte %d", i)
	}

	wrong := testKey(t)
	wrong[0] ^= 0xFF
	_, err = Decrypt(wrong, sealed, nil)
	assert.ErrorIs(t, err, ErrIntegrity)

	_, err = Decrypt(key, sealed, []byte("other aad"))
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestDecryptRejectsUnknownAlgorithm(t *testing.T) {
	key := testKey(t)
	sealed, err := Encrypt(key, []byte("x"), nil)
	require.NoError(t, err)
	sealed.Alg = "chacha20-poly1305"

	_, err = Decrypt(key, sealed, nil)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestBoxRoundTrip(t *testing.T) {
	key := testKey(t)
	sealed, err := Encrypt(key, []byte("boxed"), nil)
	require.NoError(t, err)

	back, err := sealed.Box().Sealed()
	require.NoError(t, err)
	got, err := Decrypt(key, back, nil)
	require.NoError(t, err)
	assert.Equal(t, "boxed", string(got))

	box := sealed.Box()
	box.Nonce = "!!not base64!!"
	_, err = box.Sealed()
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestEncryptTextRoundTrip(t *testing.T) {
	env, err := EncryptText("top secret notes", []byte("backup-password"), testParams)
	require.NoError(t, err)
	assert.NotEmpty(t, env.Salt)
	assert.Equal(t, KDFName, env.KDF)

	raw, err := env.Marshal()
	require.NoError(t, err)
	parsed, err := ParseTextEnvelope(raw)
	require.NoError(t, err)

	got, err := DecryptText(parsed, []byte("backup-password"))
	require.NoError(t, err)
	assert.Equal(t, "top secret notes", got)

	_, err = DecryptText(parsed, []byte("wrong-password"))
	assert.ErrorIs(t, err, ErrIntegrity)

	empty, err := EncryptText("", []byte("pw"), testParams)
	require.NoError(t, err)
	got, err = DecryptText(empty, []byte("pw"))
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestSubKeySeparatesInfo(t *testing.T) {
	master := testKey(t)
	salt := []byte("0123456789abcdef")

	a, err := SubKey(master, salt, "field:password")
	require.NoError(t, err)
	b, err := SubKey(master, salt, "field:notes")
	require.NoError(t, err)
	again, err := SubKey(master, salt, "field:password")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, again)

	_, err = SubKey(master[:10], salt, "x")
	assert.Error(t, err)
}

func TestSecretKeyLifecycle(t *testing.T) {
	raw := testKey(t)
	k, err := NewSecretKey(raw)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, KeySize), raw, "source buffer must be wiped")

	clone, err := k.Clone()
	require.NoError(t, err)
	assert.True(t, k.Equal(clone))

	var seen []byte
	require.NoError(t, k.Use(func(key []byte) error {
		seen = append(seen, key...)
		return nil
	}))
	assert.Equal(t, testKey(t), seen)

	k.Destroy()
	assert.False(t, k.Alive())
	err = k.Use(func([]byte) error { return nil })
	assert.True(t, errors.Is(err, ErrKeyDestroyed))
	assert.True(t, clone.Alive(), "destroying the original must not affect the clone")

	_, err = NewSecretKey([]byte("short"))
	assert.Error(t, err)
	assert.False(t, RandomSecretKey().Equal(RandomSecretKey()))
}
