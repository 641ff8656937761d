package transfer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melvsalonga/securepass/internal/common"
	"github.com/melvsalonga/securepass/internal/vault"
	"github.com/melvsalonga/securepass/krypto"
)

var exportTime = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func sampleRecords() []vault.Record {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return []vault.Record{
		{
			ID: "1", Title: "Gmail", Username: "alice@gmail.com", Password: `p,"q"`,
			URL: "https://mail.google.com", Notes: "line one\nline two",
			Tags: []string{"google", "email"}, Category: "Email",
			CreatedAt: created, UpdatedAt: created, Version: 1,
		},
		{
			ID: "2", Title: "Bank <main>", Password: "s3cr3t&", Tags: []string{},
			Category: "Banking", CreatedAt: created, UpdatedAt: created, Version: 3,
		},
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	for _, f := range []Format{JSON, CSV, XML} {
		t.Run(string(f), func(t *testing.T) {
			data, err := Export(sampleRecords(), f, exportTime)
			require.NoError(t, err)

			got, err := Import(data, f)
			require.NoError(t, err)
			require.Len(t, got, 2)

			for i, want := range sampleRecords() {
				assert.Equal(t, want.Title, got[i].Title)
				assert.Equal(t, want.Username, got[i].Username)
				assert.Equal(t, want.Password, got[i].Password)
				assert.Equal(t, want.URL, got[i].URL)
				assert.Equal(t, want.Notes, got[i].Notes)
				assert.Equal(t, want.Category, got[i].Category)
				assert.ElementsMatch(t, want.Tags, got[i].Tags)
			}
		})
	}
}

func TestImportJSONArray(t *testing.T) {
	got, err := Import([]byte(`[{"title":"a","password":"b","tags":["x"]}]`), JSON)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Title)
	assert.Equal(t, []string{"x"}, got[0].Tags)
}

func TestImportCSVHeaderByName(t *testing.T) {
	data := "\ufeffPassword,Title,Extra\nhunter2,Forum,ignored\n"
	got, err := Import([]byte(data), CSV)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Forum", got[0].Title)
	assert.Equal(t, "hunter2", got[0].Password)

	_, err = Import([]byte("name,secret\nx,y\n"), CSV)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestImportMalformed(t *testing.T) {
	_, err := Import([]byte("{"), JSON)
	assert.ErrorIs(t, err, common.ErrValidation)
	_, err = Import([]byte("<vault><record>"), XML)
	assert.ErrorIs(t, err, common.ErrValidation)
	_, err = ParseFormat("yaml")
	assert.ErrorIs(t, err, common.ErrValidation)

	f, err := ParseFormat(" CSV ")
	require.NoError(t, err)
	assert.Equal(t, CSV, f)
}

func TestEncryptedBackup(t *testing.T) {
	p := krypto.Argon2Params{MemoryMB: 1, Time: 1, Parallelism: 1, KeyLen: krypto.KeySize}
	blob, err := ExportEncrypted(sampleRecords(), "backup-pass", p, exportTime)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(blob), "hunter"), "backup is encrypted")
	assert.False(t, strings.Contains(string(blob), "Gmail"))

	got, err := ImportEncrypted(blob, "backup-pass")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, `p,"q"`, got[0].Password)

	_, err = ImportEncrypted(blob, "wrong")
	assert.ErrorIs(t, err, common.ErrDecryptionFailed)

	_, err = ExportEncrypted(sampleRecords(), "", p, exportTime)
	assert.ErrorIs(t, err, common.ErrValidation)
}
