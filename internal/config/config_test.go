package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melvsalonga/securepass/internal/common"
)

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadFrom(map[string]string{"SECUREPASS_DATA_DIR": dir, "HOME": dir, "PATH": "/bin"})
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 15.0, cfg.LockTimeoutMinutes)
	assert.True(t, cfg.AutoLock)
	assert.Equal(t, 10, cfg.HistoryLimit)
	assert.Equal(t, 2, cfg.MinMasterScore)
	assert.Equal(t, "127.0.0.1:8765", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Greater(t, cfg.Tiers().Master.Cost(), cfg.Tiers().Record.Cost())
	assert.Equal(t, filepath.Join(dir, "accounts.db"), cfg.AccountsDBPath())
	assert.Equal(t, filepath.Join(dir, "vaults"), cfg.VaultsDir())
}

func TestOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"SECUREPASS_DATA_DIR":             t.TempDir(),
		"SECUREPASS_LOCK_TIMEOUT_MINUTES": "5",
		"SECUREPASS_AUTO_LOCK":            "false",
		"SECUREPASS_LISTEN_ADDR":          "[::1]:9000",
		"SECUREPASS_LOG_DEV":              "true",
	})
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.LockTimeoutMinutes)
	assert.False(t, cfg.AutoLock)
	assert.Equal(t, "[::1]:9000", cfg.ListenAddr)
	assert.True(t, cfg.LogDev)
}

func TestRejectsInvalidValues(t *testing.T) {
	base := func(k, v string) map[string]string {
		return map[string]string{"SECUREPASS_DATA_DIR": t.TempDir(), k: v}
	}
	cases := map[string]map[string]string{
		"unknown key":      base("SECUREPASS_LOCK_TIMEOUT", "5"),
		"timeout too low":  base("SECUREPASS_LOCK_TIMEOUT_MINUTES", "0.5"),
		"timeout too high": base("SECUREPASS_LOCK_TIMEOUT_MINUTES", "61"),
		"inverted tiers":   base("SECUREPASS_RECORD_KDF_MEMORY_MB", "512"),
		"public listener":  base("SECUREPASS_LISTEN_ADDR", "0.0.0.0:8765"),
		"bad score":        base("SECUREPASS_MIN_MASTER_SCORE", "7"),
		"unparsable":       base("SECUREPASS_HISTORY_LIMIT", "ten"),
	}
	for name, environ := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(environ)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestKeysCoverEveryField(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "SECUREPASS_DATA_DIR")
	assert.Contains(t, keys, "SECUREPASS_MIN_MASTER_SCORE")
	assert.Len(t, keys, 13)
}
