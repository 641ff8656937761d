package nativehost

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melvsalonga/securepass/internal/account"
	"github.com/melvsalonga/securepass/internal/db"
	"github.com/melvsalonga/securepass/internal/service"
	"github.com/melvsalonga/securepass/internal/sitematch"
	"github.com/melvsalonga/securepass/internal/vault"
	"github.com/melvsalonga/securepass/krypto"
)

func newHost(t *testing.T) (*Host, *service.Service) {
	t.Helper()
	dir := t.TempDir()
	d, err := db.Open(filepath.Join(dir, "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(d) })

	tiers := krypto.Tiers{
		Record: krypto.Argon2Params{MemoryMB: 1, Time: 1, Parallelism: 1, KeyLen: krypto.KeySize},
		Master: krypto.Argon2Params{MemoryMB: 2, Time: 1, Parallelism: 1, KeyLen: krypto.KeySize},
	}
	accounts, err := account.New(account.Options{DB: d, Tiers: tiers})
	require.NoError(t, err)
	svc, err := service.New(service.Options{
		Accounts:           accounts,
		VaultsDir:          filepath.Join(dir, "vaults"),
		BackupParams:       tiers.Record,
		LockTimeoutMinutes: 15,
		AutoLock:           true,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	require.True(t, svc.CreateAccount("alice", "Sup3r$ecret!").Success)

	h := New(svc, nil)
	t.Cleanup(h.Close)
	return h, svc
}

func send(t *testing.T, h *Host, req map[string]any) Response {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	return h.Handle(payload)
}

func unlock(t *testing.T, h *Host) string {
	t.Helper()
	res := send(t, h, map[string]any{"type": "unlock", "username": "alice", "masterPassword": "Sup3r$ecret!"})
	require.True(t, res.OK, res.Code)
	data, ok := res.Data.(map[string]any)
	require.True(t, ok)
	token, _ := data["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestHealthAndUnknown(t *testing.T) {
	h, _ := newHost(t)

	res := send(t, h, map[string]any{"type": "health"})
	assert.True(t, res.OK)
	assert.Equal(t, map[string]string{"version": Version}, res.Data)

	res = send(t, h, map[string]any{"type": "launchMissiles"})
	assert.Equal(t, "UNSUPPORTED", res.Code)

	assert.Equal(t, "BAD_JSON", h.Handle([]byte("{")).Code)
}

func TestUnlockRejectsWrongPassword(t *testing.T) {
	h, _ := newHost(t)
	res := send(t, h, map[string]any{"type": "unlock", "username": "alice", "masterPassword": "nope"})
	assert.False(t, res.OK)
	assert.Equal(t, "UNLOCK_FAILED", res.Code)

	res = send(t, h, map[string]any{"type": "unlock"})
	assert.Equal(t, "BAD_REQUEST", res.Code)
}

func TestSaveAndFetchCredentials(t *testing.T) {
	h, _ := newHost(t)
	token := unlock(t, h)

	res := send(t, h, map[string]any{
		"type": "saveCredential", "sessionToken": token, "nonce": "n1",
		"url": "https://github.com/login", "username": "alice", "password": "gh-secret",
	})
	require.True(t, res.OK, res.Code)
	sum, ok := res.Data.(vault.RecordSummary)
	require.True(t, ok)
	assert.Equal(t, "github.com", sum.Title)

	res = send(t, h, map[string]any{
		"type": "getCredentials", "sessionToken": token, "nonce": "n2",
		"url": "https://gist.github.com/",
	})
	require.True(t, res.OK, res.Code)
	items := res.Data.(map[string]any)["items"].([]Credential)
	require.Len(t, items, 1)
	assert.Equal(t, "gh-secret", items[0].Password)

	res = send(t, h, map[string]any{
		"type": "getCredentials", "sessionToken": token, "nonce": "n3",
		"url": "https://github.com/", "username": "bob",
	})
	require.True(t, res.OK)
	assert.Empty(t, res.Data.(map[string]any)["items"])
}

func TestReplayAndBadToken(t *testing.T) {
	h, _ := newHost(t)
	token := unlock(t, h)

	req := map[string]any{"type": "getCredentials", "sessionToken": token, "nonce": "same", "url": "https://example.com"}
	require.True(t, send(t, h, req).OK)
	assert.Equal(t, "NONCE_REPLAY", send(t, h, req).Code)

	req["sessionToken"] = "forged"
	req["nonce"] = "fresh"
	assert.Equal(t, "UNAUTHORIZED", send(t, h, req).Code)
}

func TestLockDropsToken(t *testing.T) {
	h, svc := newHost(t)
	token := unlock(t, h)

	svc.Lock()
	res := send(t, h, map[string]any{"type": "getCredentials", "sessionToken": token, "nonce": "a", "url": "https://example.com"})
	assert.Equal(t, "UNAUTHORIZED", res.Code)

	token = unlock(t, h)
	res = send(t, h, map[string]any{"type": "lock", "sessionToken": token, "nonce": "b"})
	assert.True(t, res.OK)
	res = send(t, h, map[string]any{"type": "lock", "sessionToken": token, "nonce": "c"})
	assert.Equal(t, "UNAUTHORIZED", res.Code)
}

func TestPhishingRefusal(t *testing.T) {
	h, _ := newHost(t)
	token := unlock(t, h)

	res := send(t, h, map[string]any{
		"type": "saveCredential", "sessionToken": token, "nonce": "1",
		"url": "http://example.com/login", "username": "alice", "password": "pw",
	})
	assert.Equal(t, "PHISHING", res.Code)

	res = send(t, h, map[string]any{"type": "phishingCheck", "url": "http://example.com"})
	require.True(t, res.OK)
	assert.False(t, res.Data.(sitematch.Verdict).OK)
}

func TestRunFramesRequests(t *testing.T) {
	h, _ := newHost(t)

	var in bytes.Buffer
	w := bufio.NewWriter(&in)
	require.NoError(t, WriteFrame(w, map[string]string{"type": "health"}))
	require.NoError(t, WriteFrame(w, map[string]string{"type": "nope"}))

	var out bytes.Buffer
	require.NoError(t, h.Run(context.Background(), &in, &out))

	for _, want := range []bool{true, false} {
		payload, err := ReadFrame(&out)
		require.NoError(t, err)
		var res Response
		require.NoError(t, json.Unmarshal(payload, &res))
		assert.Equal(t, want, res.OK)
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0x7f})
	_, err := ReadFrame(&buf)
	assert.ErrorContains(t, err, "frame too large")
}
