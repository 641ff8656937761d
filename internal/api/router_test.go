package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/melvsalonga/securepass/internal/account"
	"github.com/melvsalonga/securepass/internal/db"
	"github.com/melvsalonga/securepass/internal/service"
	"github.com/melvsalonga/securepass/krypto"
)

type reply struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func newTestHandler(t *testing.T) (*Handler, *observer.ObservedLogs) {
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

	core, logs := observer.New(zapcore.InfoLevel)
	return NewHandler(svc, zap.New(core).Sugar()), logs
}

func do(t *testing.T, h *Handler, method, path string, body any) (int, reply) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.Router.ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var out reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func signIn(t *testing.T, h *Handler) {
	t.Helper()
	creds := map[string]string{"username": "alice", "masterPassword": "Sup3r$ecret!"}
	code, out := do(t, h, http.MethodPost, "/api/accounts", creds)
	require.Equal(t, http.StatusOK, code, out.Error)
	code, out = do(t, h, http.MethodPost, "/api/session/login", creds)
	require.Equal(t, http.StatusOK, code, out.Error)
}

func TestRecordRoutes(t *testing.T) {
	h, logs := newTestHandler(t)
	signIn(t, h)

	code, out := do(t, h, http.MethodPost, "/api/records", map[string]any{
		"title": "Mail", "username": "alice", "password": "hunter2", "tags": []string{"email"},
	})
	require.Equal(t, http.StatusOK, code, out.Error)
	var sum struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &sum))
	require.NotEmpty(t, sum.ID)

	code, out = do(t, h, http.MethodGet, "/api/records/"+sum.ID, nil)
	require.Equal(t, http.StatusOK, code)
	var rec struct {
		Password string `json:"password"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &rec))
	assert.Equal(t, "hunter2", rec.Password)

	code, _ = do(t, h, http.MethodPatch, "/api/records/"+sum.ID, map[string]any{"password": "hunter3"})
	assert.Equal(t, http.StatusOK, code)

	code, out = do(t, h, http.MethodGet, "/api/records/"+sum.ID+"/history", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(out.Data), "hunter2")

	code, out = do(t, h, http.MethodPost, "/api/records/search", map[string]any{"query": "mail"})
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(out.Data), sum.ID)

	code, _ = do(t, h, http.MethodDelete, "/api/records/"+sum.ID, nil)
	assert.Equal(t, http.StatusOK, code)

	code, out = do(t, h, http.MethodGet, "/api/records/"+sum.ID, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, out.Success)
	assert.Equal(t, "null", string(out.Data))

	assert.Positive(t, logs.FilterMessage("request").Len())
}

func TestLockedVaultMapsTo423(t *testing.T) {
	h, _ := newTestHandler(t)
	signIn(t, h)

	code, _ := do(t, h, http.MethodPost, "/api/session/lock", nil)
	require.Equal(t, http.StatusOK, code)

	code, out := do(t, h, http.MethodGet, "/api/records", nil)
	assert.Equal(t, http.StatusLocked, code)
	assert.False(t, out.Success)
	assert.Equal(t, service.CodeLocked, out.Code)

	code, out = do(t, h, http.MethodPost, "/api/session/unlock", map[string]string{"masterPassword": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, service.CodeInvalidPassword, out.Code)

	code, _ = do(t, h, http.MethodPost, "/api/session/unlock", map[string]string{"masterPassword": "Sup3r$ecret!"})
	assert.Equal(t, http.StatusOK, code)
}

func TestBadBodyIsValidationError(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/accounts", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	code, out := do(t, h, http.MethodPost, "/api/accounts", map[string]string{"user": "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, service.CodeValidation, out.Code)
}

func TestDuplicateAccountConflict(t *testing.T) {
	h, _ := newTestHandler(t)
	signIn(t, h)

	code, out := do(t, h, http.MethodPost, "/api/accounts",
		map[string]string{"username": "alice", "masterPassword": "An0ther$ecret!"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, service.CodeDuplicateUser, out.Code)
}

func TestSessionAndToolRoutes(t *testing.T) {
	h, _ := newTestHandler(t)
	signIn(t, h)

	code, out := do(t, h, http.MethodPut, "/api/session/timeout", map[string]float64{"minutes": 90})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, service.CodeValidation, out.Code)

	code, _ = do(t, h, http.MethodPut, "/api/session/timeout", map[string]float64{"minutes": 5})
	assert.Equal(t, http.StatusOK, code)

	code, out = do(t, h, http.MethodGet, "/api/session/", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(out.Data), `"state":"unlocked"`)

	code, out = do(t, h, http.MethodPost, "/api/generate", map[string]any{"length": 24, "lowercase": true, "digits": true})
	require.Equal(t, http.StatusOK, code, out.Error)
	var gen struct {
		Password string `json:"password"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &gen))
	assert.Len(t, gen.Password, 24)

	code, _ = do(t, h, http.MethodPost, "/api/categories", map[string]string{"name": "Travel"})
	assert.Equal(t, http.StatusOK, code)
	code, out = do(t, h, http.MethodGet, "/api/categories", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(out.Data), "Travel")

	code, out = do(t, h, http.MethodGet, "/api/export?format=csv", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(out.Data), "title")

	code, _ = do(t, h, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusOK, code)
}
