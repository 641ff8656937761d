// Package config loads the application settings from the environment and an
// optional .env file. Every recognized option is a field of Config.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/melvsalonga/securepass/internal/common"
	"github.com/melvsalonga/securepass/krypto"
)

// Prefix is prepended to every environment variable name.
const Prefix = "SECUREPASS_"

// Config enumerates every option with its default.
type Config struct {
	DataDir string `env:"DATA_DIR"`

	LockTimeoutMinutes float64 `env:"LOCK_TIMEOUT_MINUTES" envDefault:"15"`
	AutoLock           bool    `env:"AUTO_LOCK" envDefault:"true"`
	HistoryLimit       int     `env:"HISTORY_LIMIT" envDefault:"10"`

	RecordKDFTime     uint32 `env:"RECORD_KDF_TIME" envDefault:"2"`
	RecordKDFMemoryMB uint32 `env:"RECORD_KDF_MEMORY_MB" envDefault:"32"`
	MasterKDFTime     uint32 `env:"MASTER_KDF_TIME" envDefault:"3"`
	MasterKDFMemoryMB uint32 `env:"MASTER_KDF_MEMORY_MB" envDefault:"64"`
	KDFParallelism    uint8  `env:"KDF_PARALLELISM" envDefault:"1"`

	// MinMasterScore is the lowest zxcvbn score accepted for a master password; 0 disables it.
	MinMasterScore int `env:"MIN_MASTER_SCORE" envDefault:"2"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:"127.0.0.1:8765"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogDev     bool   `env:"LOG_DEV" envDefault:"false"`
}

// Load reads the given .env files (".env" when none are named; missing files
// are ignored), then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	environ := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			environ[k] = v
		}
	}
	return LoadFrom(environ)
}

// LoadFrom parses cfg from environ. Unknown variables carrying Prefix are rejected.
func LoadFrom(environ map[string]string) (*Config, error) {
	if err := rejectUnknown(environ); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := env.Parse(cfg, env.Options{Prefix: Prefix, Environment: environ}); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".securepass")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Keys lists the recognized variable names, prefix included.
func Keys() []string {
	t := reflect.TypeOf(Config{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("env"); tag != "" && tag != "-" {
			keys = append(keys, Prefix+strings.Split(tag, ",")[0])
		}
	}
	sort.Strings(keys)
	return keys
}

func rejectUnknown(environ map[string]string) error {
	known := make(map[string]struct{})
	for _, k := range Keys() {
		known[k] = struct{}{}
	}
	var unknown []string
	for k := range environ {
		if !strings.HasPrefix(k, Prefix) {
			continue
		}
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return common.Invalid("config", "unknown option(s): "+strings.Join(unknown, ", "))
	}
	return nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.LockTimeoutMinutes < 1 || c.LockTimeoutMinutes > 60 {
		return common.Invalid("LOCK_TIMEOUT_MINUTES", "must be between 1 and 60")
	}
	if c.HistoryLimit < 0 {
		return common.Invalid("HISTORY_LIMIT", "must not be negative")
	}
	if c.MinMasterScore < 0 || c.MinMasterScore > 4 {
		return common.Invalid("MIN_MASTER_SCORE", "must be between 0 and 4")
	}
	if err := c.Tiers().Validate(); err != nil {
		return common.Invalid("KDF", err.Error())
	}

	host, _, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return common.Invalid("LISTEN_ADDR", err.Error())
	}
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return common.Invalid("LISTEN_ADDR", "must be a loopback address")
		}
	}
	return nil
}

// Tiers returns the key derivation tiers.
func (c *Config) Tiers() krypto.Tiers {
	return krypto.Tiers{
		Record: krypto.Argon2Params{
			MemoryMB: c.RecordKDFMemoryMB, Time: c.RecordKDFTime,
			Parallelism: c.KDFParallelism, KeyLen: krypto.KeySize,
		},
		Master: krypto.Argon2Params{
			MemoryMB: c.MasterKDFMemoryMB, Time: c.MasterKDFTime,
			Parallelism: c.KDFParallelism, KeyLen: krypto.KeySize,
		},
	}
}

// AccountsDBPath is the SQLite file holding account records.
func (c *Config) AccountsDBPath() string {
	return filepath.Join(c.DataDir, "accounts.db")
}

// VaultsDir holds one vault file per account.
func (c *Config) VaultsDir() string {
	return filepath.Join(c.DataDir, "vaults")
}
