package db

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	require.NoError(t, Migrate(d))
	t.Cleanup(func() { Close(d) })
	return d
}

func sampleRow(id, username string) AccountRow {
	return AccountRow{
		ID:           id,
		Username:     username,
		Verifier:     []byte("verifier"),
		Salt:         []byte("salt-salt-salt-salt"),
		WrapAlg:      "aes-256-gcm",
		WrapNonce:    []byte("nonce"),
		WrapTag:      []byte("tag"),
		WrappedKey:   []byte("wrapped"),
		RecordParams: `{"memoryMB":1}`,
		MasterParams: `{"memoryMB":2}`,
		CreatedAt:    "2026-01-01T00:00:00Z",
		UpdatedAt:    "2026-01-01T00:00:00Z",
	}
}

func TestOpenSetsOwnerOnlyPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permissions are not enforced on windows")
	}
	d := openTestDB(t)
	info, err := os.Stat(d.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestInsertAndGetAccount(t *testing.T) {
	d := openTestDB(t)
	want := sampleRow("id-1", "alice")
	require.NoError(t, InsertAccount(d, want))

	got, err := GetAccountByUsername(d, "alice")
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	_, err = GetAccountByUsername(d, "bob")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestInsertDuplicateUsername(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, InsertAccount(d, sampleRow("id-1", "alice")))
	err := InsertAccount(d, sampleRow("id-2", "alice"))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestUpdateAccountCredentials(t *testing.T) {
	d := openTestDB(t)
	row := sampleRow("id-1", "alice")
	require.NoError(t, InsertAccount(d, row))

	row.Verifier = []byte("new-verifier")
	row.WrappedKey = []byte("rewrapped")
	row.UpdatedAt = "2026-02-01T00:00:00Z"
	require.NoError(t, UpdateAccountCredentials(d, row))

	got, err := GetAccountByUsername(d, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("new-verifier"), got.Verifier)
	assert.Equal(t, []byte("rewrapped"), got.WrappedKey)
	assert.Equal(t, "2026-01-01T00:00:00Z", got.CreatedAt)

	assert.ErrorIs(t, UpdateAccountCredentials(d, sampleRow("missing", "x")), sql.ErrNoRows)
}

func TestListUsernames(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, InsertAccount(d, sampleRow("2", "carol")))
	require.NoError(t, InsertAccount(d, sampleRow("1", "alice")))

	names, err := ListUsernames(d)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, names)
}
